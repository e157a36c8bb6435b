package matcher

import (
	"math"
	"sort"

	"ticket-reconciliation-service/internal/config"
	"ticket-reconciliation-service/internal/fuzzy"
)

const (
	reasonWonConflict  = "won conflict resolution"
	reasonLostConflict = "lost conflict resolution - needs manual review"
)

// Claim is one ticket's candidate for a contested image
type Claim struct {
	Position   int     `json:"position"`
	TicketID   string  `json:"ticket_id"`
	Identifier string  `json:"identifier"`
	Confidence float64 `json:"confidence"`
}

// Loss records a losing claim and its reduced confidence
type Loss struct {
	TicketID           string  `json:"ticket_id"`
	OriginalConfidence float64 `json:"original_confidence"`
	AdjustedConfidence float64 `json:"adjusted_confidence"`
}

// Conflict is an image claimed by more than one ticket
type Conflict struct {
	ImageID          string  `json:"image_id"`
	WinnerTicketID   string  `json:"winner_ticket_id"`
	WinnerConfidence float64 `json:"winner_confidence"`
	Losers           []Loss  `json:"losers"`
}

// ResolveConflicts gives every contested image to a single ticket. Any
// candidate at or above the reject threshold claims its image. The highest
// confidence claim wins unchanged; equal confidences go to the lowest
// normalized ticket identifier, then to the earlier ledger position. Losing
// candidates keep their place in the ticket's list with confidence reduced
// to max(confidence*penalty, floor) and are flagged for review.
//
// The input is not modified.
func ResolveConflicts(ranked []TicketCandidates, cfg *config.Config) ([]TicketCandidates, []Conflict) {
	claims := collectClaims(ranked, cfg.Triage.RejectThreshold)

	resolved := make([]TicketCandidates, len(ranked))
	index := make([]map[string]*MatchCandidate, len(ranked))
	for i, tc := range ranked {
		out := TicketCandidates{Ticket: tc.Ticket, Position: tc.Position, Candidates: make([]*MatchCandidate, len(tc.Candidates))}
		byImage := make(map[string]*MatchCandidate, len(tc.Candidates))
		for j, c := range tc.Candidates {
			out.Candidates[j] = c.clone()
			byImage[c.ImageID] = out.Candidates[j]
		}
		resolved[i] = out
		index[i] = byImage
	}

	imageIDs := make([]string, 0, len(claims))
	for id, list := range claims {
		if len(list) > 1 {
			imageIDs = append(imageIDs, id)
		}
	}
	sort.Strings(imageIDs)

	conflicts := make([]Conflict, 0, len(imageIDs))
	for _, imageID := range imageIDs {
		list := claims[imageID]
		rankClaims(list)

		winner := list[0]
		conflict := Conflict{ImageID: imageID, WinnerTicketID: winner.TicketID, WinnerConfidence: winner.Confidence}
		won := index[winner.Position][imageID]
		won.Reasons = append(won.Reasons, reasonWonConflict)

		for _, loser := range list[1:] {
			c := index[loser.Position][imageID]
			adjusted := math.Max(loser.Confidence*cfg.Matching.ConflictPenalty, cfg.Matching.ConflictFloor)
			c.Confidence = adjusted
			c.Flagged = true
			c.Reasons = append(c.Reasons, reasonLostConflict)
			conflict.Losers = append(conflict.Losers, Loss{
				TicketID:           loser.TicketID,
				OriginalConfidence: loser.Confidence,
				AdjustedConfidence: adjusted,
			})
		}
		conflicts = append(conflicts, conflict)
	}

	for i := range resolved {
		sortCandidates(resolved[i].Candidates)
	}
	return resolved, conflicts
}

// collectClaims groups qualifying candidates by image in ledger order
func collectClaims(ranked []TicketCandidates, threshold float64) map[string][]Claim {
	claims := make(map[string][]Claim)
	for i, tc := range ranked {
		identifier := ""
		if tc.Ticket != nil {
			identifier = fuzzy.NormalizeIdentifier(tc.Ticket.Identifier.OrElse(""))
		}
		for _, c := range tc.Candidates {
			if c.Confidence < threshold {
				continue
			}
			claims[c.ImageID] = append(claims[c.ImageID], Claim{
				Position:   i,
				TicketID:   c.TicketID,
				Identifier: identifier,
				Confidence: c.Confidence,
			})
		}
	}
	return claims
}

func rankClaims(list []Claim) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Confidence != list[j].Confidence {
			return list[i].Confidence > list[j].Confidence
		}
		if list[i].Identifier != list[j].Identifier {
			return list[i].Identifier < list[j].Identifier
		}
		return list[i].Position < list[j].Position
	})
}
