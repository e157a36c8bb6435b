package triage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ticket-reconciliation-service/internal/config"
	"ticket-reconciliation-service/internal/models"
	apperrors "ticket-reconciliation-service/pkg/errors"
	"ticket-reconciliation-service/pkg/logger"
)

const escalationNote = "escalated: awaiting review"

// Decision is a reviewer's verdict on one outcome
type Decision struct {
	OutcomeID string
	Accept    bool
	Reviewer  string
	// Override permits revisiting an auto-accepted outcome.
	Override bool
	Note     string
	At       time.Time
}

// ReviewQueue exposes the outcomes awaiting a human decision
type ReviewQueue struct {
	repo          Repository
	escalationAge time.Duration
	logger        logger.Logger
}

// NewReviewQueue creates a review queue over a repository
func NewReviewQueue(repo Repository, cfg *config.Config) *ReviewQueue {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &ReviewQueue{
		repo:          repo,
		escalationAge: cfg.Triage.EscalationAge,
		logger:        logger.GetGlobalLogger().WithComponent("review"),
	}
}

// Pending returns non-reviewed needs-review outcomes, oldest first
func (q *ReviewQueue) Pending(ctx context.Context) ([]*models.MatchOutcome, error) {
	list, err := q.repo.ListByState(ctx, models.StateNeedsReview)
	if err != nil {
		return nil, err
	}

	pending := list[:0]
	for _, o := range list {
		if !o.Reviewed {
			pending = append(pending, o)
		}
	}
	SortOldestFirst(pending)
	return pending, nil
}

// Decide applies a manual decision. Needs-review and rejected outcomes can
// always be decided; auto-accepted ones only with Override. Manual states
// are terminal.
func (q *ReviewQueue) Decide(ctx context.Context, d Decision) (*models.MatchOutcome, error) {
	if strings.TrimSpace(d.Reviewer) == "" {
		return nil, apperrors.MatchingError(apperrors.CodeInvalidDecision, "reviewer is required", nil).
			WithContext("outcome_id", d.OutcomeID)
	}

	outcome, err := q.repo.Get(ctx, d.OutcomeID)
	if err != nil {
		return nil, err
	}

	switch outcome.State {
	case models.StateNeedsReview, models.StateRejected:
	case models.StateAutoAccepted:
		if !d.Override {
			return nil, apperrors.MatchingError(apperrors.CodeInvalidDecision,
				fmt.Sprintf("outcome %s was auto-accepted", outcome.ID), nil).
				WithSuggestion("pass override to revisit an auto-accepted match")
		}
	default:
		return nil, apperrors.MatchingError(apperrors.CodeInvalidDecision,
			fmt.Sprintf("outcome %s is already %s", outcome.ID, outcome.State), nil)
	}

	at := d.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	verdict := "manually rejected"
	outcome.State = models.StateManuallyRejected
	if d.Accept {
		verdict = "manually accepted"
		outcome.State = models.StateManuallyAccepted
	}
	outcome.Accepted = d.Accept
	outcome.Reviewed = true
	outcome.Method = models.MethodManual
	outcome.ReviewedBy = models.Some(d.Reviewer)
	outcome.ReviewedAt = models.Some(at)
	outcome.UpdatedAt = at
	outcome.Reason = appendReason(outcome.Reason, fmt.Sprintf("%s by %s", verdict, d.Reviewer))
	if d.Note != "" {
		outcome.Reason = appendReason(outcome.Reason, d.Note)
	}

	if err := q.repo.Update(ctx, outcome); err != nil {
		return nil, err
	}

	q.logger.WithFields(logger.Fields{
		"outcome_id": outcome.ID,
		"ticket_id":  outcome.TicketID,
		"state":      outcome.State,
		"reviewer":   d.Reviewer,
	}).Info("Review decision recorded")

	return outcome, nil
}

// Escalate flags pending outcomes that have waited longer than the
// escalation age. State and confidence are left unchanged and outcomes
// already escalated are skipped.
func (q *ReviewQueue) Escalate(ctx context.Context, now time.Time) ([]*models.MatchOutcome, error) {
	pending, err := q.Pending(ctx)
	if err != nil {
		return nil, err
	}

	var escalated []*models.MatchOutcome
	for _, o := range pending {
		waited := now.Sub(o.CreatedAt)
		if waited <= q.escalationAge || strings.Contains(o.Reason, escalationNote) {
			continue
		}

		o.Flagged = true
		o.Reason = appendReason(o.Reason, fmt.Sprintf("%s for %s", escalationNote, waited.Truncate(time.Minute)))
		o.UpdatedAt = now
		if err := q.repo.Update(ctx, o); err != nil {
			return escalated, err
		}
		escalated = append(escalated, o)
	}

	if len(escalated) > 0 {
		q.logger.WithFields(logger.Fields{
			"escalated": len(escalated),
			"age":       q.escalationAge.String(),
		}).Warn("Review items escalated")
	}
	return escalated, nil
}

func appendReason(reason, note string) string {
	if reason == "" {
		return note
	}
	return reason + "; " + note
}
