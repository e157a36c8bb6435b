package matcher

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ticket-reconciliation-service/internal/config"
	"ticket-reconciliation-service/internal/fuzzy"
	"ticket-reconciliation-service/internal/models"
)

func day(y int, m time.Month, d int) models.Option[time.Time] {
	return models.Some(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

func tonnes(v string) models.Option[decimal.Decimal] {
	return models.Some(decimal.RequireFromString(v))
}

func newImage(id, identifier string) *models.CandidateImage {
	img := &models.CandidateImage{ID: id, Valid: true}
	if identifier != "" {
		img.Identifier = models.Some(identifier)
	}
	return img
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestScoreAutoAcceptTier(t *testing.T) {
	engine := NewScoringEngine(config.DefaultConfig())

	ticket := models.NewLedgerTicket("t1", "T10234")
	ticket.EntryDate = day(2023, 1, 15)
	ticket.NetWeight = tonnes("10.5")

	image := newImage("p000-r0", "T10234")
	image.Date = day(2023, 1, 16)
	image.Weight = tonnes("10.2")

	score := engine.Score(ticket, image)
	if score.Confidence() < 85 {
		t.Errorf("expected auto-accept confidence, got %.2f (%v)", score.Confidence(), score.Reasons)
	}
	// 90 + 5*0.8 + 0 + 2*0.7
	if !approx(score.Total, 95.4) {
		t.Errorf("expected total 95.4, got %.4f", score.Total)
	}
}

func TestScoreRejectTier(t *testing.T) {
	engine := NewScoringEngine(config.DefaultConfig())

	ticket := models.NewLedgerTicket("t1", "ABC123")
	image := newImage("p000-r0", "XYZ789")

	if _, sim := fuzzy.FuzzyIdentifierMatch("ABC123", "XYZ789", 0.8); sim >= 0.3 {
		t.Fatalf("expected similarity below 0.3, got %.2f", sim)
	}
	if conf := engine.Score(ticket, image).Confidence(); conf >= 60 {
		t.Errorf("expected reject tier confidence, got %.2f", conf)
	}
}

func TestScoreFactors(t *testing.T) {
	engine := NewScoringEngine(config.DefaultConfig())

	tests := []struct {
		name   string
		ticket func() *models.LedgerTicket
		image  func() *models.CandidateImage
		factor func(Breakdown) FactorScore
		points float64
		detail string
	}{
		{
			name:   "identifier exact",
			ticket: func() *models.LedgerTicket { return models.NewLedgerTicket("t", "T10234") },
			image:  func() *models.CandidateImage { return newImage("i", "t-10234") },
			factor: func(b Breakdown) FactorScore { return b.Identifier },
			points: 90,
			detail: "Exact identifier match",
		},
		{
			name:   "identifier via OCR confusion",
			ticket: func() *models.LedgerTicket { return models.NewLedgerTicket("t", "ABC120") },
			image:  func() *models.CandidateImage { return newImage("i", "ABC12O") },
			factor: func(b Breakdown) FactorScore { return b.Identifier },
			points: 90,
			detail: "OCR confusion",
		},
		{
			name:   "identifier one misread character",
			ticket: func() *models.LedgerTicket { return models.NewLedgerTicket("t", "ABC123") },
			image:  func() *models.CandidateImage { return newImage("i", "ABC12O") },
			factor: func(b Breakdown) FactorScore { return b.Identifier },
			points: 81,
			detail: "Close identifier match",
		},
		{
			name:   "identifier close",
			ticket: func() *models.LedgerTicket { return models.NewLedgerTicket("t", "T10234") },
			image:  func() *models.CandidateImage { return newImage("i", "T10235") },
			factor: func(b Breakdown) FactorScore { return b.Identifier },
			points: 81,
			detail: "Close identifier match",
		},
		{
			name:   "identifier partial",
			ticket: func() *models.LedgerTicket { return models.NewLedgerTicket("t", "T10234") },
			image:  func() *models.CandidateImage { return newImage("i", "T10299") },
			factor: func(b Breakdown) FactorScore { return b.Identifier },
			points: 45,
			detail: "Partial identifier match",
		},
		{
			name:   "identifier missing on image",
			ticket: func() *models.LedgerTicket { return models.NewLedgerTicket("t", "T10234") },
			image:  func() *models.CandidateImage { return newImage("i", "") },
			factor: func(b Breakdown) FactorScore { return b.Identifier },
			points: 0,
			detail: "Identifier unavailable",
		},
		{
			name: "date outside tolerance is penalised",
			ticket: func() *models.LedgerTicket {
				t := models.NewLedgerTicket("t", "T1")
				t.EntryDate = day(2023, 1, 15)
				return t
			},
			image: func() *models.CandidateImage {
				i := newImage("i", "T1")
				i.Date = day(2023, 1, 17)
				return i
			},
			factor: func(b Breakdown) FactorScore { return b.Date },
			points: 5 * (1 - 2.0/7) * 0.3,
			detail: "Date outside tolerance",
		},
		{
			name: "date missing on image",
			ticket: func() *models.LedgerTicket {
				t := models.NewLedgerTicket("t", "T1")
				t.EntryDate = day(2023, 1, 15)
				return t
			},
			image:  func() *models.CandidateImage { return newImage("i", "T1") },
			factor: func(b Breakdown) FactorScore { return b.Date },
			points: 0,
		},
		{
			name: "reference containment",
			ticket: func() *models.LedgerTicket {
				t := models.NewLedgerTicket("t", "T1")
				t.Reference = models.Some("PO-4471")
				return t
			},
			image: func() *models.CandidateImage {
				i := newImage("i", "T1")
				i.Reference = models.Some("4471")
				return i
			},
			factor: func(b Breakdown) FactorScore { return b.Reference },
			points: 2.7,
			detail: "Reference match",
		},
		{
			name:   "weight missing on ticket",
			ticket: func() *models.LedgerTicket { return models.NewLedgerTicket("t", "T1") },
			image: func() *models.CandidateImage {
				i := newImage("i", "T1")
				i.Weight = tonnes("10")
				return i
			},
			factor: func(b Breakdown) FactorScore { return b.Weight },
			points: 0,
		},
		{
			name: "weight missing on image gets half credit",
			ticket: func() *models.LedgerTicket {
				t := models.NewLedgerTicket("t", "T1")
				t.NetWeight = tonnes("10.5")
				return t
			},
			image:  func() *models.CandidateImage { return newImage("i", "T1") },
			factor: func(b Breakdown) FactorScore { return b.Weight },
			points: 1,
			detail: "Weight not available from image",
		},
		{
			name: "weight outside tolerance",
			ticket: func() *models.LedgerTicket {
				t := models.NewLedgerTicket("t", "T1")
				t.NetWeight = tonnes("10.5")
				return t
			},
			image: func() *models.CandidateImage {
				i := newImage("i", "T1")
				i.Weight = tonnes("11.5")
				return i
			},
			factor: func(b Breakdown) FactorScore { return b.Weight },
			points: 2 * (1 - 2.0/3),
			detail: "Weight outside tolerance",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := tt.factor(engine.Score(tt.ticket(), tt.image()).Breakdown)
			if !approx(fs.Points, tt.points) {
				t.Errorf("expected %.4f points, got %.4f", tt.points, fs.Points)
			}
			if fs.Points > fs.MaxPoints {
				t.Errorf("points %.2f exceed max %.2f", fs.Points, fs.MaxPoints)
			}
			if !strings.Contains(fs.Detail, tt.detail) {
				t.Errorf("expected detail containing %q, got %q", tt.detail, fs.Detail)
			}
		})
	}
}

func TestScoreBreakdownShape(t *testing.T) {
	engine := NewScoringEngine(config.DefaultConfig())
	score := engine.Score(models.NewLedgerTicket("t", "T1"), newImage("i", "T1"))

	factors := score.Breakdown.Factors()
	want := []Factor{FactorIdentifier, FactorDate, FactorReference, FactorWeight}
	var maxTotal float64
	for i, f := range factors {
		if f.Factor != want[i] {
			t.Errorf("expected factor %s at %d, got %s", want[i], i, f.Factor)
		}
		maxTotal += f.MaxPoints
	}
	if maxTotal != score.MaxScore {
		t.Errorf("expected factor maxima to sum to %.0f, got %.0f", score.MaxScore, maxTotal)
	}
	if !strings.Contains(score.Breakdown.JSON(), `"max_points":90`) {
		t.Errorf("expected serialized breakdown, got %s", score.Breakdown.JSON())
	}
}

func TestMatchScoreConfidence(t *testing.T) {
	tests := []struct {
		score MatchScore
		want  float64
	}{
		{MatchScore{Total: 45, MaxScore: 100}, 45},
		{MatchScore{Total: 120, MaxScore: 100}, 100},
		{MatchScore{Total: 10, MaxScore: 50}, 20},
		{MatchScore{Total: 10, MaxScore: 0}, 0},
	}

	for _, tt := range tests {
		if got := tt.score.Confidence(); !approx(got, tt.want) {
			t.Errorf("expected %.1f for %+v, got %.1f", tt.want, tt.score, got)
		}
	}
}
