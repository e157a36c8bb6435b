package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-reconciliation-service/internal/config"
	"ticket-reconciliation-service/internal/models"
	"ticket-reconciliation-service/internal/triage"
	apperrors "ticket-reconciliation-service/pkg/errors"
)

var created = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "outcomes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func outcome(id, batch, ticket string, conf float64, state models.MatchState, age time.Duration) *models.MatchOutcome {
	return &models.MatchOutcome{
		ID:             id,
		BatchID:        batch,
		TicketID:       ticket,
		ImageID:        "p000-r" + id,
		Confidence:     conf,
		State:          state,
		Accepted:       state == models.StateAutoAccepted,
		Reason:         "identifier match",
		ScoreBreakdown: `{"identifier":90}`,
		Method:         models.MethodAutomatic,
		CreatedAt:      created.Add(-age),
		UpdatedAt:      created.Add(-age),
	}
}

func TestOpenMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "outcomes.db")
	store, err := Open(context.Background(), path)
	require.NoError(t, err)

	version, err := store.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExpectedSchemaVersion, version)
	require.NoError(t, store.Close())

	// Reopening an up-to-date database is a no-op
	store, err = Open(context.Background(), path)
	require.NoError(t, err)
	defer store.Close()
	version, err = store.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExpectedSchemaVersion, version)
	assert.Equal(t, path, store.Path())
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), " ")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeMissingConfig))
}

func TestSaveAndGet(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)

	o := outcome("o-1", "b-1", "L001", 91.5, models.StateAutoAccepted, 0)
	o.Flagged = true
	require.NoError(t, store.SaveOutcomes(ctx, []*models.MatchOutcome{o}))

	got, err := store.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, o.TicketID, got.TicketID)
	assert.Equal(t, o.ImageID, got.ImageID)
	assert.InDelta(t, 91.5, got.Confidence, 1e-9)
	assert.Equal(t, models.StateAutoAccepted, got.State)
	assert.True(t, got.Accepted)
	assert.True(t, got.Flagged)
	assert.False(t, got.Reviewed)
	assert.Equal(t, o.ScoreBreakdown, got.ScoreBreakdown)
	assert.Equal(t, models.MethodAutomatic, got.Method)
	assert.True(t, got.ReviewedBy.IsNone())
	assert.True(t, got.ReviewedAt.IsNone())
	assert.True(t, got.CreatedAt.Equal(o.CreatedAt))

	_, err = store.Get(ctx, "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestSaveOutcomesEnforcesOneAutomaticPerTicket(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)

	require.NoError(t, store.SaveOutcomes(ctx, []*models.MatchOutcome{
		outcome("o-1", "b-1", "L001", 90, models.StateAutoAccepted, 0),
	}))

	// Same ticket in the same batch rolls back the whole call
	err := store.SaveOutcomes(ctx, []*models.MatchOutcome{
		outcome("o-2", "b-1", "L002", 70, models.StateNeedsReview, 0),
		outcome("o-3", "b-1", "L001", 65, models.StateNeedsReview, 0),
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStorageFailed))
	_, err = store.Get(ctx, "o-2")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound), "partial save must be rolled back")

	// Another batch may hold its own automatic outcome for the ticket
	require.NoError(t, store.SaveOutcomes(ctx, []*models.MatchOutcome{
		outcome("o-4", "b-2", "L001", 88, models.StateAutoAccepted, 0),
	}))

	// Duplicate IDs are rejected
	err = store.SaveOutcomes(ctx, []*models.MatchOutcome{
		outcome("o-4", "b-3", "L009", 88, models.StateAutoAccepted, 0),
	})
	assert.Error(t, err)

	// Invalid outcomes never reach the database
	bad := outcome("o-5", "b-3", "L010", 140, models.StateAutoAccepted, 0)
	assert.Error(t, store.SaveOutcomes(ctx, []*models.MatchOutcome{bad}))
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)

	o := outcome("o-1", "b-1", "L001", 70, models.StateNeedsReview, 0)
	require.NoError(t, store.SaveOutcomes(ctx, []*models.MatchOutcome{o}))

	reviewedAt := created.Add(2 * time.Hour)
	o.State = models.StateManuallyAccepted
	o.Accepted = true
	o.Reviewed = true
	o.Method = models.MethodManual
	o.ReviewedBy = models.Some("dana")
	o.ReviewedAt = models.Some(reviewedAt)
	o.UpdatedAt = reviewedAt
	o.Reason += "; manually accepted by dana"
	require.NoError(t, store.Update(ctx, o))

	got, err := store.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateManuallyAccepted, got.State)
	assert.Equal(t, models.MethodManual, got.Method)
	assert.Equal(t, "dana", got.ReviewedBy.OrElse(""))
	at, ok := got.ReviewedAt.Get()
	require.True(t, ok)
	assert.True(t, at.Equal(reviewedAt))
	assert.Contains(t, got.Reason, "manually accepted")

	missing := outcome("nope", "b-1", "L404", 50, models.StateRejected, 0)
	err = store.Update(ctx, missing)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestListByStateAndBatch(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)

	young := outcome("o-young", "b-1", "L001", 70, models.StateNeedsReview, time.Hour)
	young.CreatedAt = young.CreatedAt.Add(500 * time.Millisecond)
	require.NoError(t, store.SaveOutcomes(ctx, []*models.MatchOutcome{
		young,
		outcome("o-old", "b-1", "L002", 65, models.StateNeedsReview, time.Hour+time.Second),
		outcome("o-auto", "b-1", "L003", 95, models.StateAutoAccepted, 3*time.Hour),
		outcome("o-other", "b-2", "L004", 61, models.StateNeedsReview, 0),
	}))

	review, err := store.ListByState(ctx, models.StateNeedsReview)
	require.NoError(t, err)
	require.Len(t, review, 3)
	assert.Equal(t, []string{"o-old", "o-young", "o-other"}, ids(review))

	batch, err := store.ListByBatch(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"o-auto", "o-old", "o-young"}, ids(batch))

	none, err := store.ListByState(ctx, models.StateManuallyRejected)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestReviewQueueOnSQLite(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	cfg := config.DefaultConfig()

	require.NoError(t, store.SaveOutcomes(ctx, []*models.MatchOutcome{
		outcome("o-1", "b-1", "L001", 72, models.StateNeedsReview, 30*time.Hour),
		outcome("o-2", "b-1", "L002", 64, models.StateNeedsReview, 2*time.Hour),
	}))

	queue := triage.NewReviewQueue(store, cfg)

	escalated, err := queue.Escalate(ctx, created)
	require.NoError(t, err)
	require.Len(t, escalated, 1)
	assert.Equal(t, "o-1", escalated[0].ID)

	reloaded, err := store.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.True(t, reloaded.Flagged)
	assert.Equal(t, models.StateNeedsReview, reloaded.State)

	decided, err := queue.Decide(ctx, triage.Decision{OutcomeID: "o-2", Accept: false, Reviewer: "sam", At: created})
	require.NoError(t, err)
	assert.Equal(t, models.StateManuallyRejected, decided.State)

	pending, err := queue.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"o-1"}, ids(pending))
}

func ids(outcomes []*models.MatchOutcome) []string {
	out := make([]string, len(outcomes))
	for i, o := range outcomes {
		out[i] = o.ID
	}
	return out
}
