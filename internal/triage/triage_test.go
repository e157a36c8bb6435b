package triage

import (
	"context"
	"strings"
	"testing"
	"time"

	"ticket-reconciliation-service/internal/config"
	"ticket-reconciliation-service/internal/matcher"
	"ticket-reconciliation-service/internal/models"
	apperrors "ticket-reconciliation-service/pkg/errors"
)

var batchStart = time.Date(2023, 1, 15, 9, 0, 0, 0, time.UTC)

func TestPolicyClassify(t *testing.T) {
	policy := NewPolicy(config.DefaultConfig())

	tests := []struct {
		confidence float64
		want       models.MatchState
	}{
		{100, models.StateAutoAccepted},
		{85, models.StateAutoAccepted},
		{84.99, models.StateNeedsReview},
		{60, models.StateNeedsReview},
		{59.99, models.StateRejected},
		{0, models.StateRejected},
	}

	for _, tt := range tests {
		if got := policy.Classify(tt.confidence); got != tt.want {
			t.Errorf("Classify(%.2f): expected %s, got %s", tt.confidence, tt.want, got)
		}
	}
}

func createResult() *matcher.BatchResult {
	return &matcher.BatchResult{
		Tickets: []matcher.TicketCandidates{
			{Position: 0, Candidates: []*matcher.MatchCandidate{
				{TicketID: "L001", ImageID: "p000-r0", Confidence: 96, Reasons: []string{"Exact identifier match"}},
				{TicketID: "L001", ImageID: "p000-r1", Confidence: 43, Flagged: true},
			}},
			{Position: 1, Candidates: []*matcher.MatchCandidate{
				{TicketID: "L002", ImageID: "p000-r1", Confidence: 72},
			}},
			{Position: 2},
			{Position: 3, Candidates: []*matcher.MatchCandidate{
				{TicketID: "L004", ImageID: "p001-r0", Confidence: 44, Flagged: true,
					Reasons: []string{"lost conflict resolution - needs manual review"}},
			}},
		},
	}
}

func TestPolicyOutcomes(t *testing.T) {
	policy := NewPolicy(config.DefaultConfig())
	outcomes := policy.Outcomes("batch-1", createResult(), batchStart)

	if len(outcomes) != 3 {
		t.Fatalf("Expected one outcome per ticket with a candidate (3), got %d", len(outcomes))
	}

	want := []struct {
		ticket   string
		image    string
		state    models.MatchState
		accepted bool
		flagged  bool
	}{
		{"L001", "p000-r0", models.StateAutoAccepted, true, false},
		{"L002", "p000-r1", models.StateNeedsReview, false, false},
		{"L004", "p001-r0", models.StateRejected, false, true},
	}

	ids := make(map[string]bool)
	for i, w := range want {
		o := outcomes[i]
		if o.TicketID != w.ticket || o.ImageID != w.image {
			t.Errorf("Outcome %d: expected %s/%s, got %s/%s", i, w.ticket, w.image, o.TicketID, o.ImageID)
		}
		if o.State != w.state || o.Accepted != w.accepted || o.Flagged != w.flagged {
			t.Errorf("Outcome %d: expected state=%s accepted=%t flagged=%t, got %s %t %t",
				i, w.state, w.accepted, w.flagged, o.State, o.Accepted, o.Flagged)
		}
		if o.Method != models.MethodAutomatic || o.Reviewed != (w.state == models.StateAutoAccepted) {
			t.Errorf("Outcome %d: expected automatic outcome reviewed only when auto-accepted, got %s reviewed=%t",
				i, o.Method, o.Reviewed)
		}
		if o.BatchID != "batch-1" || !o.CreatedAt.Equal(batchStart) {
			t.Errorf("Outcome %d: unexpected batch or timestamp: %s %s", i, o.BatchID, o.CreatedAt)
		}
		if !strings.HasPrefix(o.ScoreBreakdown, "{") {
			t.Errorf("Outcome %d: expected serialized breakdown, got %q", i, o.ScoreBreakdown)
		}
		if err := o.Validate(); err != nil {
			t.Errorf("Outcome %d invalid: %v", i, err)
		}
		if ids[o.ID] {
			t.Errorf("Duplicate outcome ID %s", o.ID)
		}
		ids[o.ID] = true
	}

	counts := Counts(outcomes)
	if counts[models.StateAutoAccepted] != 1 || counts[models.StateNeedsReview] != 1 || counts[models.StateRejected] != 1 {
		t.Errorf("Unexpected counts: %v", counts)
	}

	if got := policy.Outcomes("batch-1", nil, batchStart); got != nil {
		t.Errorf("Expected nil outcomes for nil result, got %v", got)
	}
}

func TestMemoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	outcomes := NewPolicy(nil).Outcomes("batch-1", createResult(), batchStart)

	if err := repo.SaveOutcomes(ctx, outcomes); err != nil {
		t.Fatalf("SaveOutcomes failed: %v", err)
	}

	t.Run("second automatic outcome for a ticket is rejected", func(t *testing.T) {
		again := NewPolicy(nil).Outcomes("batch-1", createResult(), batchStart)
		err := repo.SaveOutcomes(ctx, again[:1])
		if !apperrors.HasCode(err, apperrors.CodeStorageFailed) {
			t.Errorf("Expected storage failure, got %v", err)
		}
	})

	t.Run("same ticket in another batch is allowed", func(t *testing.T) {
		other := NewPolicy(nil).Outcomes("batch-2", createResult(), batchStart)
		if err := repo.SaveOutcomes(ctx, other[:1]); err != nil {
			t.Errorf("Expected save to succeed, got %v", err)
		}
	})

	t.Run("get returns a copy", func(t *testing.T) {
		got, err := repo.Get(ctx, outcomes[0].ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		got.Confidence = 1
		again, _ := repo.Get(ctx, outcomes[0].ID)
		if again.Confidence != 96 {
			t.Errorf("Expected stored confidence to stay 96, got %.1f", again.Confidence)
		}
	})

	t.Run("missing outcome", func(t *testing.T) {
		_, err := repo.Get(ctx, "missing")
		if !apperrors.HasCode(err, apperrors.CodeNotFound) {
			t.Errorf("Expected not found, got %v", err)
		}
		err = repo.Update(ctx, &models.MatchOutcome{ID: "missing", TicketID: "L1", State: models.StateRejected})
		if !apperrors.HasCode(err, apperrors.CodeNotFound) {
			t.Errorf("Expected not found on update, got %v", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := repo.ListByState(cctx, models.StateRejected); err == nil {
			t.Error("Expected error for cancelled context")
		}
	})
}

func seedQueue(t *testing.T, cfg *config.Config) (*ReviewQueue, []*models.MatchOutcome) {
	t.Helper()

	repo := NewMemoryRepository()
	var outcomes []*models.MatchOutcome
	for i, conf := range []float64{70, 65, 90, 30} {
		o := &models.MatchOutcome{
			ID:         []string{"o-a", "o-b", "o-c", "o-d"}[i],
			BatchID:    "batch-1",
			TicketID:   []string{"L1", "L2", "L3", "L4"}[i],
			ImageID:    []string{"p000-r0", "p000-r1", "p001-r0", "p001-r1"}[i],
			Confidence: conf,
			State:      NewPolicy(cfg).Classify(conf),
			Method:     models.MethodAutomatic,
			CreatedAt:  batchStart.Add(time.Duration(3-i) * time.Hour),
		}
		outcomes = append(outcomes, o)
	}
	if err := repo.SaveOutcomes(context.Background(), outcomes); err != nil {
		t.Fatalf("SaveOutcomes failed: %v", err)
	}
	return NewReviewQueue(repo, cfg), outcomes
}

func TestReviewQueuePending(t *testing.T) {
	queue, _ := seedQueue(t, config.DefaultConfig())

	pending, err := queue.Pending(context.Background())
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("Expected 2 pending items, got %d", len(pending))
	}
	// o-b was created an hour before o-a
	if pending[0].ID != "o-b" || pending[1].ID != "o-a" {
		t.Errorf("Expected oldest first [o-b o-a], got [%s %s]", pending[0].ID, pending[1].ID)
	}
}

func TestReviewQueueDecide(t *testing.T) {
	ctx := context.Background()
	reviewedAt := batchStart.Add(48 * time.Hour)

	tests := []struct {
		name     string
		decision Decision
		want     models.MatchState
		wantCode apperrors.ErrorCode
	}{
		{
			name:     "accept needs-review",
			decision: Decision{OutcomeID: "o-a", Accept: true, Reviewer: "alice", At: reviewedAt},
			want:     models.StateManuallyAccepted,
		},
		{
			name:     "accept rejected",
			decision: Decision{OutcomeID: "o-d", Accept: true, Reviewer: "alice", At: reviewedAt},
			want:     models.StateManuallyAccepted,
		},
		{
			name:     "reject needs-review",
			decision: Decision{OutcomeID: "o-b", Reviewer: "bob", Note: "wrong truck", At: reviewedAt},
			want:     models.StateManuallyRejected,
		},
		{
			name:     "auto-accepted needs override",
			decision: Decision{OutcomeID: "o-c", Reviewer: "alice", At: reviewedAt},
			wantCode: apperrors.CodeInvalidDecision,
		},
		{
			name:     "auto-accepted with override",
			decision: Decision{OutcomeID: "o-c", Reviewer: "alice", Override: true, At: reviewedAt},
			want:     models.StateManuallyRejected,
		},
		{
			name:     "reviewer required",
			decision: Decision{OutcomeID: "o-a", Accept: true},
			wantCode: apperrors.CodeInvalidDecision,
		},
		{
			name:     "unknown outcome",
			decision: Decision{OutcomeID: "nope", Reviewer: "alice"},
			wantCode: apperrors.CodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue, _ := seedQueue(t, config.DefaultConfig())
			got, err := queue.Decide(ctx, tt.decision)

			if tt.wantCode != "" {
				if !apperrors.HasCode(err, tt.wantCode) {
					t.Errorf("Expected error code %s, got %v", tt.wantCode, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decide failed: %v", err)
			}
			if got.State != tt.want || got.Accepted != tt.decision.Accept {
				t.Errorf("Expected %s accepted=%t, got %s accepted=%t", tt.want, tt.decision.Accept, got.State, got.Accepted)
			}
			if !got.Reviewed || got.Method != models.MethodManual {
				t.Errorf("Expected reviewed manual outcome, got reviewed=%t method=%s", got.Reviewed, got.Method)
			}
			if r, _ := got.ReviewedBy.Get(); r != tt.decision.Reviewer {
				t.Errorf("Expected reviewer %s, got %s", tt.decision.Reviewer, r)
			}
			if at, _ := got.ReviewedAt.Get(); !at.Equal(reviewedAt) {
				t.Errorf("Expected review time %s, got %s", reviewedAt, at)
			}
			if !strings.Contains(got.Reason, tt.decision.Reviewer) {
				t.Errorf("Expected reason to name the reviewer, got %q", got.Reason)
			}
			if tt.decision.Note != "" && !strings.Contains(got.Reason, tt.decision.Note) {
				t.Errorf("Expected reason to carry the note, got %q", got.Reason)
			}

			// Manual states are terminal.
			_, err = queue.Decide(ctx, Decision{OutcomeID: got.ID, Reviewer: "carol", Override: true})
			if !apperrors.HasCode(err, apperrors.CodeInvalidDecision) {
				t.Errorf("Expected terminal state to refuse a second decision, got %v", err)
			}
		})
	}
}

func TestReviewQueueDecideRemovesFromPending(t *testing.T) {
	ctx := context.Background()
	queue, _ := seedQueue(t, config.DefaultConfig())

	if _, err := queue.Decide(ctx, Decision{OutcomeID: "o-b", Accept: true, Reviewer: "alice"}); err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	pending, _ := queue.Pending(ctx)
	if len(pending) != 1 || pending[0].ID != "o-a" {
		t.Errorf("Expected only o-a pending, got %v", pending)
	}
}

func TestReviewQueueEscalate(t *testing.T) {
	ctx := context.Background()
	queue, _ := seedQueue(t, config.DefaultConfig())

	// o-b has waited 24h30m and o-a 23h30m.
	now := batchStart.Add(26*time.Hour + 30*time.Minute)
	escalated, err := queue.Escalate(ctx, now)
	if err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}
	if len(escalated) != 1 || escalated[0].ID != "o-b" {
		t.Fatalf("Expected only o-b escalated, got %v", escalated)
	}

	o := escalated[0]
	if !o.Flagged || o.State != models.StateNeedsReview || o.Confidence != 65 {
		t.Errorf("Expected flagged needs-review at 65, got flagged=%t %s %.1f", o.Flagged, o.State, o.Confidence)
	}
	if !strings.Contains(o.Reason, escalationNote) {
		t.Errorf("Expected escalation reason, got %q", o.Reason)
	}

	again, err := queue.Escalate(ctx, now)
	if err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("Expected escalation to be idempotent, got %d items", len(again))
	}

	later, _ := queue.Escalate(ctx, now.Add(2*time.Hour))
	if len(later) != 1 || later[0].ID != "o-a" {
		t.Errorf("Expected o-a escalated later, got %v", later)
	}
}
