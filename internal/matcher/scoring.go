package matcher

import (
	"encoding/json"
	"fmt"
	"math"

	"ticket-reconciliation-service/internal/config"
	"ticket-reconciliation-service/internal/fuzzy"
	"ticket-reconciliation-service/internal/models"
)

// Factor names one component of a match score
type Factor string

const (
	FactorIdentifier Factor = "identifier"
	FactorDate       Factor = "date"
	FactorReference  Factor = "reference"
	FactorWeight     Factor = "weight"
)

// Identifier similarity tiers. The middle tier uses the configured
// identifier threshold.
const (
	exactIdentifierSimilarity = 0.95
	weakIdentifierSimilarity  = 0.6
	outOfToleranceFactor      = 0.3
)

// FactorScore is the points one factor contributed
type FactorScore struct {
	Factor    Factor  `json:"factor"`
	Points    float64 `json:"points"`
	MaxPoints float64 `json:"max_points"`
	Detail    string  `json:"detail"`
}

// Breakdown itemises a match score by factor
type Breakdown struct {
	Identifier FactorScore `json:"identifier"`
	Date       FactorScore `json:"date"`
	Reference  FactorScore `json:"reference"`
	Weight     FactorScore `json:"weight"`
}

// Factors returns the factors in scoring order
func (b Breakdown) Factors() []FactorScore {
	return []FactorScore{b.Identifier, b.Date, b.Reference, b.Weight}
}

// JSON serializes the breakdown for persistence
func (b Breakdown) JSON() string {
	data, err := json.Marshal(b)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// MatchScore is the multi-factor score of one ticket against one image
type MatchScore struct {
	Total     float64   `json:"total"`
	MaxScore  float64   `json:"max_score"`
	Breakdown Breakdown `json:"breakdown"`
	Reasons   []string  `json:"reasons"`
}

// Confidence returns the score as a percentage of the maximum, capped at 100
func (s MatchScore) Confidence() float64 {
	if s.MaxScore <= 0 {
		return 0
	}
	return math.Min(100, s.Total*100/s.MaxScore)
}

// ScoringEngine scores ledger tickets against candidate images
type ScoringEngine struct {
	cfg config.MatchingConfig
}

// NewScoringEngine creates a scoring engine from the matching config
func NewScoringEngine(cfg *config.Config) *ScoringEngine {
	return &ScoringEngine{cfg: cfg.Matching}
}

// Score calculates the match score between a ticket and an image. Missing
// data on either side degrades the affected factor instead of failing.
func (se *ScoringEngine) Score(ticket *models.LedgerTicket, image *models.CandidateImage) MatchScore {
	breakdown := Breakdown{
		Identifier: se.calculateIdentifierScore(ticket, image),
		Date:       se.calculateDateScore(ticket, image),
		Reference:  se.calculateReferenceScore(ticket, image),
		Weight:     se.calculateWeightScore(ticket, image),
	}

	score := MatchScore{
		MaxScore:  se.cfg.MaxScore,
		Breakdown: breakdown,
		Reasons:   []string{},
	}
	for _, f := range breakdown.Factors() {
		score.Total += f.Points
		if f.Detail != "" {
			score.Reasons = append(score.Reasons, f.Detail)
		}
	}
	return score
}

// calculateIdentifierScore applies the similarity tiers to the identifier
// weight. Below the weak tier credit falls off steeply.
func (se *ScoringEngine) calculateIdentifierScore(ticket *models.LedgerTicket, image *models.CandidateImage) FactorScore {
	weight := se.cfg.Weights.Identifier
	fs := FactorScore{Factor: FactorIdentifier, MaxPoints: weight}

	want, okTicket := ticket.Identifier.Get()
	got, okImage := image.Identifier.Get()
	if !okTicket || !okImage {
		fs.Detail = "Identifier unavailable"
		return fs
	}

	_, similarity := fuzzy.FuzzyIdentifierMatch(want, got, se.cfg.IdentifierThreshold)
	switch {
	case similarity >= exactIdentifierSimilarity:
		fs.Points = weight
		if fuzzy.NormalizeIdentifier(want) == fuzzy.NormalizeIdentifier(got) {
			fs.Detail = "Exact identifier match"
		} else {
			fs.Detail = fmt.Sprintf("Identifier match allowing OCR confusion (%s vs %s)", want, got)
		}
	case similarity >= se.cfg.IdentifierThreshold:
		fs.Points = weight * 0.9
		fs.Detail = fmt.Sprintf("Close identifier match (similarity %.2f)", similarity)
	case similarity >= weakIdentifierSimilarity:
		fs.Points = weight * 0.5
		fs.Detail = fmt.Sprintf("Partial identifier match (similarity %.2f)", similarity)
	default:
		fs.Points = weight * similarity * outOfToleranceFactor
		fs.Detail = fmt.Sprintf("Identifier mismatch (similarity %.2f)", similarity)
	}
	return fs
}

// calculateDateScore credits date proximity, penalising dates outside the
// tolerance window.
func (se *ScoringEngine) calculateDateScore(ticket *models.LedgerTicket, image *models.CandidateImage) FactorScore {
	weight := se.cfg.Weights.Date
	fs := FactorScore{Factor: FactorDate, MaxPoints: weight}
	if ticket.EntryDate.IsNone() || image.Date.IsNone() {
		return fs
	}

	within, similarity := fuzzy.DateWithinTolerance(ticket.EntryDate, image.Date, se.cfg.DateToleranceDays)
	switch {
	case within && similarity == 1:
		fs.Points = weight
		fs.Detail = "Same date"
	case within:
		fs.Points = weight * similarity
		fs.Detail = "Date within tolerance"
	default:
		fs.Points = weight * similarity * outOfToleranceFactor
		fs.Detail = "Date outside tolerance"
	}
	return fs
}

func (se *ScoringEngine) calculateReferenceScore(ticket *models.LedgerTicket, image *models.CandidateImage) FactorScore {
	weight := se.cfg.Weights.Reference
	fs := FactorScore{Factor: FactorReference, MaxPoints: weight}

	want, okTicket := ticket.Reference.Get()
	got, okImage := image.Reference.Get()
	if !okTicket || !okImage {
		return fs
	}

	isMatch, similarity := fuzzy.FuzzyReferenceMatch(want, got, se.cfg.ReferenceThreshold)
	fs.Points = weight * similarity
	if isMatch {
		fs.Detail = "Reference match"
	} else {
		fs.Detail = fmt.Sprintf("Reference differs (similarity %.2f)", similarity)
	}
	return fs
}

// calculateWeightScore gives half credit when the image carries no weight,
// since weights are rarely legible on scans.
func (se *ScoringEngine) calculateWeightScore(ticket *models.LedgerTicket, image *models.CandidateImage) FactorScore {
	weight := se.cfg.Weights.Weight
	fs := FactorScore{Factor: FactorWeight, MaxPoints: weight}
	if ticket.NetWeight.IsNone() {
		return fs
	}
	if image.Weight.IsNone() {
		fs.Points = weight * 0.5
		fs.Detail = "Weight not available from image"
		return fs
	}

	within, similarity := fuzzy.WeightWithinTolerance(ticket.NetWeight, image.Weight, se.cfg.WeightTolerance())
	fs.Points = weight * similarity
	if within {
		fs.Detail = "Weight within tolerance"
	} else {
		fs.Detail = "Weight outside tolerance"
	}
	return fs
}
