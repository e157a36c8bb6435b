package matcher

import (
	"fmt"

	"ticket-reconciliation-service/internal/models"
)

// Distribution buckets for best-candidate confidence
const (
	excellentConfidence = 95.0
	goodConfidence      = 85.0
	fairConfidence      = 60.0
)

// ConfidenceDistribution counts tickets by best-candidate confidence
type ConfidenceDistribution struct {
	Excellent int `json:"excellent"`
	Good      int `json:"good"`
	Fair      int `json:"fair"`
	Poor      int `json:"poor"`
}

// BatchStats summarises a resolved batch. Tier counts use each ticket's
// best candidate. AverageConfidence covers only tickets that have at least
// one candidate; unmatched tickets are excluded rather than counted as zero.
type BatchStats struct {
	TotalTickets      int                    `json:"total_tickets"`
	TotalImages       int                    `json:"total_images"`
	ValidImages       int                    `json:"valid_images"`
	AutoAccepted      int                    `json:"auto_accepted"`
	NeedsReview       int                    `json:"needs_review"`
	Rejected          int                    `json:"rejected"`
	Unmatched         int                    `json:"unmatched"`
	Conflicted        int                    `json:"conflicted"`
	ContestedImages   int                    `json:"contested_images"`
	AverageConfidence float64                `json:"average_confidence"`
	Distribution      ConfidenceDistribution `json:"distribution"`
}

// CalculateStats derives batch statistics from resolved candidates
func CalculateStats(tickets []TicketCandidates, conflicts []Conflict, images []*models.CandidateImage) BatchStats {
	stats := BatchStats{
		TotalTickets:    len(tickets),
		TotalImages:     len(images),
		ContestedImages: len(conflicts),
	}

	for _, img := range images {
		if img.Valid {
			stats.ValidImages++
		}
	}

	losers := make(map[string]bool)
	for _, c := range conflicts {
		for _, l := range c.Losers {
			losers[l.TicketID] = true
		}
	}
	stats.Conflicted = len(losers)

	var total float64
	var scored int
	for _, tc := range tickets {
		best := tc.Best()
		if best == nil {
			stats.Unmatched++
			continue
		}

		switch {
		case best.IsAutoAccept():
			stats.AutoAccepted++
		case best.NeedsReview():
			stats.NeedsReview++
		default:
			stats.Rejected++
		}

		switch {
		case best.Confidence >= excellentConfidence:
			stats.Distribution.Excellent++
		case best.Confidence >= goodConfidence:
			stats.Distribution.Good++
		case best.Confidence >= fairConfidence:
			stats.Distribution.Fair++
		default:
			stats.Distribution.Poor++
		}

		total += best.Confidence
		scored++
	}

	if scored > 0 {
		stats.AverageConfidence = total / float64(scored)
	}
	return stats
}

// MatchRate returns the share of tickets whose best candidate auto-accepts
func (s BatchStats) MatchRate() float64 {
	if s.TotalTickets == 0 {
		return 0
	}
	return float64(s.AutoAccepted) * 100 / float64(s.TotalTickets)
}

// String returns a one-line summary
func (s BatchStats) String() string {
	return fmt.Sprintf("tickets=%d images=%d auto=%d review=%d rejected=%d unmatched=%d conflicted=%d avg=%.1f",
		s.TotalTickets, s.TotalImages, s.AutoAccepted, s.NeedsReview, s.Rejected, s.Unmatched, s.Conflicted, s.AverageConfidence)
}
