package fuzzy

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ticket-reconciliation-service/internal/models"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"", "", 0},
		{"ABC123", "ABC123", 0},
		{"", "ABC", 3},
		{"ABC", "", 3},
		{"kitten", "sitting", 3},
		{"T1234", "T1243", 2},
	}

	for _, tt := range tests {
		if got := EditDistance(tt.a, tt.b); got != tt.expected {
			t.Errorf("EditDistance(%q, %q): expected %d, got %d", tt.a, tt.b, tt.expected, got)
		}
	}
}

func TestSimilarityRatio(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected float64
	}{
		{"both empty", "", "", 1.0},
		{"one empty", "x", "", 0.0},
		{"other empty", "", "x", 0.0},
		{"case insensitive", "abc123", "ABC123", 1.0},
		{"one substitution of six", "ABC123", "ABC124", 1 - 1.0/6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SimilarityRatio(tt.a, tt.b); !approx(got, tt.expected) {
				t.Errorf("expected %f, got %f", tt.expected, got)
			}
		})
	}
}

func TestNormalizeIdentifier(t *testing.T) {
	tests := map[string]string{
		"abc-123":    "ABC123",
		" t 12_34/5": "T12345",
		"WB-0042":    "WB0042",
		"":           "",
	}
	for in, want := range tests {
		if got := NormalizeIdentifier(in); got != want {
			t.Errorf("NormalizeIdentifier(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestFuzzyIdentifierMatch(t *testing.T) {
	t.Run("identity", func(t *testing.T) {
		for _, s := range []string{"", "ABC123", "T1", "wb-0042", "|||"} {
			ok, sim := FuzzyIdentifierMatch(s, s, DefaultIdentifierThreshold)
			if !ok || sim != 1.0 {
				t.Errorf("expected (true, 1.0) for %q, got (%t, %f)", s, ok, sim)
			}
		}
	})

	t.Run("separators ignored", func(t *testing.T) {
		ok, sim := FuzzyIdentifierMatch("abc-123", "ABC 123", DefaultIdentifierThreshold)
		if !ok || sim != 1.0 {
			t.Errorf("expected exact match after normalization, got (%t, %f)", ok, sim)
		}
	})

	confusions := []struct{ a, b string }{
		{"AB8123", "ABB123"},
		{"ABC123", "ABC12O"},
		{"T1050", "TI050"},
		{"S5120", "55120"},
		{"G6001", "66001"},
		{"Z2210", "22210"},
		{"D0042", "00042"},
		{"A83301", "AB3301"},
	}
	for _, c := range confusions {
		t.Run(c.a+" vs "+c.b, func(t *testing.T) {
			ok, sim := FuzzyIdentifierMatch(c.a, c.b, DefaultIdentifierThreshold)
			if !ok || sim < 0.8 {
				t.Errorf("expected confusion match >= 0.8, got (%t, %f)", ok, sim)
			}
		})
	}

	t.Run("single confusion is a perfect variant", func(t *testing.T) {
		_, sim := FuzzyIdentifierMatch("ABC123", "ABC12O", DefaultIdentifierThreshold)
		if sim != 1.0 {
			t.Errorf("expected 1.0, got %f", sim)
		}
	})

	t.Run("unrelated identifiers", func(t *testing.T) {
		ok, sim := FuzzyIdentifierMatch("ABC123", "XYZ789", DefaultIdentifierThreshold)
		if ok || sim >= 0.3 {
			t.Errorf("expected no match with low similarity, got (%t, %f)", ok, sim)
		}
	})

	t.Run("one side empty", func(t *testing.T) {
		ok, sim := FuzzyIdentifierMatch("ABC123", "", DefaultIdentifierThreshold)
		if ok || sim != 0 {
			t.Errorf("expected (false, 0), got (%t, %f)", ok, sim)
		}
	})

	t.Run("threshold respected", func(t *testing.T) {
		// one non-confusable substitution in five characters
		ok, sim := FuzzyIdentifierMatch("T1234", "T1294", 0.9)
		if ok {
			t.Errorf("expected no match at threshold 0.9, got similarity %f", sim)
		}
		if !approx(sim, 0.8) {
			t.Errorf("expected similarity 0.8, got %f", sim)
		}
	})
}

func TestFuzzyReferenceMatch(t *testing.T) {
	tests := []struct {
		name      string
		a, b      string
		expectOK  bool
		expectSim float64
	}{
		{"normalized equal", "PO-4411", "po 4411", true, 1.0},
		{"containment", "PO4411", "4411", true, 0.9},
		{"containment reversed", "4411", "Order PO4411", true, 0.9},
		{"one empty", "PO4411", "--", false, 0},
		{"dissimilar", "ALPHA", "OMEGA", false, 0.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, sim := FuzzyReferenceMatch(tt.a, tt.b, DefaultReferenceThreshold)
			if ok != tt.expectOK || !approx(sim, tt.expectSim) {
				t.Errorf("expected (%t, %f), got (%t, %f)", tt.expectOK, tt.expectSim, ok, sim)
			}
		})
	}
}

func TestWeightWithinTolerance(t *testing.T) {
	w := func(s string) models.Option[decimal.Decimal] {
		return models.Some(decimal.RequireFromString(s))
	}
	tol := decimal.RequireFromString("0.5")

	tests := []struct {
		name   string
		a, b   models.Option[decimal.Decimal]
		within bool
		minSim float64
		maxSim float64
	}{
		{"identical", w("10.0"), w("10.0"), true, 1.0, 1.0},
		{"at tolerance", w("10.0"), w("10.5"), true, 0.5, 0.5},
		{"inside tolerance", w("10.0"), w("10.25"), true, 0.75, 0.75},
		{"outside tolerance", w("10.0"), w("11.0"), false, 0, 0.4999},
		{"far outside", w("10.0"), w("20.0"), false, 0, 0},
		{"missing left", models.None[decimal.Decimal](), w("10.0"), false, 0, 0},
		{"missing right", w("10.0"), models.None[decimal.Decimal](), false, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			within, sim := WeightWithinTolerance(tt.a, tt.b, tol)
			if within != tt.within {
				t.Errorf("expected within=%t, got %t", tt.within, within)
			}
			if sim < tt.minSim-1e-9 || sim > tt.maxSim+1e-9 {
				t.Errorf("expected similarity in [%f, %f], got %f", tt.minSim, tt.maxSim, sim)
			}
		})
	}
}

func TestDateWithinTolerance(t *testing.T) {
	d := func(s string) models.Option[time.Time] {
		v, err := time.Parse("2006-01-02 15:04", s)
		if err != nil {
			t.Fatalf("bad date %s: %v", s, err)
		}
		return models.Some(v)
	}

	tests := []struct {
		name   string
		a, b   models.Option[time.Time]
		tol    int
		within bool
		sim    float64
	}{
		{"same day", d("2023-01-15 08:00"), d("2023-01-15 08:00"), 1, true, 1.0},
		{"same day different time", d("2023-01-15 00:01"), d("2023-01-15 23:59"), 1, true, 1.0},
		{"one day", d("2023-01-15 23:00"), d("2023-01-16 01:00"), 1, true, 0.8},
		{"three days", d("2023-01-15 12:00"), d("2023-01-18 12:00"), 1, false, 1 - 3.0/7},
		{"beyond seven tolerances", d("2023-01-01 12:00"), d("2023-01-20 12:00"), 1, false, 0},
		{"zero tolerance same day", d("2023-01-15 09:00"), d("2023-01-15 17:00"), 0, true, 1.0},
		{"zero tolerance next day", d("2023-01-15 09:00"), d("2023-01-16 09:00"), 0, false, 0},
		{"missing", models.None[time.Time](), d("2023-01-15 09:00"), 1, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			within, sim := DateWithinTolerance(tt.a, tt.b, tt.tol)
			if within != tt.within || !approx(sim, tt.sim) {
				t.Errorf("expected (%t, %f), got (%t, %f)", tt.within, tt.sim, within, sim)
			}
		})
	}
}
