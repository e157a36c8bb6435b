package models

import (
	"fmt"
	"time"
)

// MatchState is the triage tier of a match outcome
type MatchState string

const (
	StateAutoAccepted     MatchState = "auto_accepted"
	StateNeedsReview      MatchState = "needs_review"
	StateRejected         MatchState = "rejected"
	StateManuallyAccepted MatchState = "manually_accepted"
	StateManuallyRejected MatchState = "manually_rejected"
)

// String returns the string representation of the state
func (s MatchState) String() string {
	return string(s)
}

// IsValid checks if the state is one of the known tiers
func (s MatchState) IsValid() bool {
	switch s {
	case StateAutoAccepted, StateNeedsReview, StateRejected, StateManuallyAccepted, StateManuallyRejected:
		return true
	}
	return false
}

// IsAccepted reports whether the state counts as an accepted match
func (s MatchState) IsAccepted() bool {
	return s == StateAutoAccepted || s == StateManuallyAccepted
}

// ParseMatchState parses a stored state value
func ParseMatchState(v string) (MatchState, error) {
	s := MatchState(v)
	if !s.IsValid() {
		return "", fmt.Errorf("invalid match state: %s", v)
	}
	return s, nil
}

// MatchMethod records how an outcome was decided
type MatchMethod string

const (
	MethodAutomatic MatchMethod = "automatic"
	MethodManual    MatchMethod = "manual"
)

// MatchOutcome is the persisted decision pairing a ledger ticket with a
// candidate image.
type MatchOutcome struct {
	ID             string            `json:"id"`
	BatchID        string            `json:"batch_id"`
	TicketID       string            `json:"ticket_id"`
	ImageID        string            `json:"image_id"`
	Confidence     float64           `json:"confidence"`
	State          MatchState        `json:"state"`
	Accepted       bool              `json:"accepted"`
	Reviewed       bool              `json:"reviewed"`
	Flagged        bool              `json:"flagged"`
	Reason         string            `json:"reason"`
	ScoreBreakdown string            `json:"score_breakdown"`
	Method         MatchMethod       `json:"method"`
	ReviewedBy     Option[string]    `json:"reviewed_by"`
	ReviewedAt     Option[time.Time] `json:"reviewed_at"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Validate performs basic validation on the outcome
func (o *MatchOutcome) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("outcome ID cannot be empty")
	}
	if o.TicketID == "" {
		return fmt.Errorf("outcome %s has no ticket ID", o.ID)
	}
	if !o.State.IsValid() {
		return fmt.Errorf("outcome %s has invalid state: %s", o.ID, o.State)
	}
	if o.Confidence < 0 || o.Confidence > 100 {
		return fmt.Errorf("outcome %s confidence out of range: %.2f", o.ID, o.Confidence)
	}
	if o.Method == MethodManual && (!o.Reviewed || o.ReviewedBy.IsNone() || o.ReviewedAt.IsNone()) {
		return fmt.Errorf("manual outcome %s must record reviewer and review time", o.ID)
	}
	return nil
}

// String returns a string representation of the outcome
func (o *MatchOutcome) String() string {
	return fmt.Sprintf("Outcome{Ticket: %s, Image: %s, Confidence: %.1f, State: %s}",
		o.TicketID, o.ImageID, o.Confidence, o.State)
}
