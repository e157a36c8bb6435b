// Package triage turns resolved match candidates into persisted outcomes
// and manages the human review queue over them.
package triage

import (
	"time"

	"github.com/google/uuid"

	"ticket-reconciliation-service/internal/config"
	"ticket-reconciliation-service/internal/matcher"
	"ticket-reconciliation-service/internal/models"
)

// Policy assigns confidence tiers
type Policy struct {
	autoAccept float64
	reject     float64
}

// NewPolicy creates a policy from the triage config
func NewPolicy(cfg *config.Config) *Policy {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Policy{
		autoAccept: cfg.Triage.AutoAcceptThreshold,
		reject:     cfg.Triage.RejectThreshold,
	}
}

// Classify maps a confidence to its automatic state
func (p *Policy) Classify(confidence float64) models.MatchState {
	switch {
	case confidence >= p.autoAccept:
		return models.StateAutoAccepted
	case confidence >= p.reject:
		return models.StateNeedsReview
	default:
		return models.StateRejected
	}
}

// Outcomes builds one automatic outcome per ticket from its best candidate.
// Tickets with no candidate above the noise floor produce no outcome.
// Auto-accepted outcomes count as reviewed.
func (p *Policy) Outcomes(batchID string, result *matcher.BatchResult, now time.Time) []*models.MatchOutcome {
	if result == nil {
		return nil
	}

	outcomes := make([]*models.MatchOutcome, 0, len(result.Tickets))
	for _, tc := range result.Tickets {
		best := tc.Best()
		if best == nil {
			continue
		}

		state := p.Classify(best.Confidence)
		outcomes = append(outcomes, &models.MatchOutcome{
			ID:             uuid.NewString(),
			BatchID:        batchID,
			TicketID:       best.TicketID,
			ImageID:        best.ImageID,
			Confidence:     best.Confidence,
			State:          state,
			Accepted:       state == models.StateAutoAccepted,
			Reviewed:       state == models.StateAutoAccepted,
			Flagged:        best.Flagged,
			Reason:         best.Reason(),
			ScoreBreakdown: best.Score.Breakdown.JSON(),
			Method:         models.MethodAutomatic,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	return outcomes
}

// Counts tallies outcomes by state
func Counts(outcomes []*models.MatchOutcome) map[models.MatchState]int {
	counts := make(map[models.MatchState]int)
	for _, o := range outcomes {
		counts[o.State]++
	}
	return counts
}
