// Package fuzzy holds the comparison primitives used to score OCR output
// against ledger values. Everything here is pure and safe for concurrent use.
package fuzzy

import (
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"

	"ticket-reconciliation-service/internal/models"
)

const (
	// DefaultIdentifierThreshold is the similarity needed for an identifier match
	DefaultIdentifierThreshold = 0.8
	// DefaultReferenceThreshold is the similarity needed for a reference match
	DefaultReferenceThreshold = 0.7
	// ContainmentSimilarity is reported when one reference contains the other
	ContainmentSimilarity = 0.9
)

// confusionGroups are characters OCR commonly misreads as one another
var confusionGroups = []string{"0ODQ", "1IL|", "8B3", "5S", "6G", "2Z"}

// confusables maps each character to the other members of its group
var confusables = func() map[rune][]rune {
	m := make(map[rune][]rune)
	for _, group := range confusionGroups {
		runes := []rune(group)
		for _, r := range runes {
			for _, other := range runes {
				if other != r {
					m[r] = append(m[r], other)
				}
			}
		}
	}
	return m
}()

// EditDistance returns the Levenshtein distance between a and b
func EditDistance(a, b string) int {
	return levenshtein.ComputeDistance(a, b)
}

// SimilarityRatio returns a case-insensitive similarity in [0, 1].
// Two empty strings are identical; one empty string matches nothing.
func SimilarityRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	a, b = strings.ToLower(a), strings.ToLower(b)
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	return 1.0 - float64(EditDistance(a, b))/float64(maxLen)
}

// NormalizeIdentifier uppercases and strips whitespace and the separators - _ /
func NormalizeIdentifier(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' || r == '_' || r == '/' {
			return -1
		}
		return unicode.ToUpper(r)
	}, s)
}

// FuzzyIdentifierMatch compares two ticket identifiers allowing for OCR
// character confusion. It returns whether the best similarity reaches
// threshold, and that similarity.
func FuzzyIdentifierMatch(a, b string, threshold float64) (bool, float64) {
	na, nb := NormalizeIdentifier(a), NormalizeIdentifier(b)
	if na == nb {
		return true, 1.0
	}
	if na == "" || nb == "" {
		return false, 0
	}

	best := SimilarityRatio(na, nb)
	aVariants := confusionVariants(na)
	bVariants := confusionVariants(nb)
	for _, va := range aVariants {
		for _, vb := range bVariants {
			if sim := SimilarityRatio(va, vb); sim > best {
				best = sim
				if best == 1.0 {
					return true, 1.0
				}
			}
		}
	}
	return best >= threshold, best
}

// confusionVariants returns s followed by every string obtained by
// replacing exactly one confusable character with another member of its group.
func confusionVariants(s string) []string {
	runes := []rune(s)
	variants := []string{s}
	for i, r := range runes {
		for _, alt := range confusables[r] {
			v := make([]rune, len(runes))
			copy(v, runes)
			v[i] = alt
			variants = append(variants, string(v))
		}
	}
	return variants
}

// NormalizeReference uppercases and keeps only letters and digits
func NormalizeReference(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToUpper(r)
		}
		return -1
	}, s)
}

// FuzzyReferenceMatch compares free-text references such as order numbers.
// Containment of one normalized reference in the other scores 0.9.
func FuzzyReferenceMatch(a, b string, threshold float64) (bool, float64) {
	na, nb := NormalizeReference(a), NormalizeReference(b)
	if na == nb {
		return true, 1.0
	}
	if na == "" || nb == "" {
		return false, 0
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return ContainmentSimilarity >= threshold, ContainmentSimilarity
	}
	sim := SimilarityRatio(na, nb)
	return sim >= threshold, sim
}

// WeightWithinTolerance compares two net weights in tonnes. Within
// tolerance the score degrades linearly from 1.0 to 0.5; beyond it the
// score keeps falling and reaches 0 at three times the tolerance.
func WeightWithinTolerance(w1, w2 models.Option[decimal.Decimal], tolerance decimal.Decimal) (bool, float64) {
	a, okA := w1.Get()
	b, okB := w2.Get()
	if !okA || !okB {
		return false, 0
	}

	diff := a.Sub(b).Abs()
	if !tolerance.IsPositive() {
		if diff.IsZero() {
			return true, 1.0
		}
		return false, 0
	}

	ratio := diff.Div(tolerance).InexactFloat64()
	if diff.LessThanOrEqual(tolerance) {
		return true, math.Max(0.5, 1-ratio*0.5)
	}
	return false, math.Max(0, 1-ratio/3)
}

// DateWithinTolerance compares two dates by whole calendar days. Within
// tolerance the score degrades from 1.0 to 0.8; beyond it the score
// reaches 0 at seven times the tolerance. A zero tolerance means exact
// same-day matching.
func DateWithinTolerance(d1, d2 models.Option[time.Time], toleranceDays int) (bool, float64) {
	a, okA := d1.Get()
	b, okB := d2.Get()
	if !okA || !okB {
		return false, 0
	}

	diff := dayDiff(a, b)
	if toleranceDays <= 0 {
		if diff == 0 {
			return true, 1.0
		}
		return false, 0
	}

	tol := float64(toleranceDays)
	d := float64(diff)
	if diff <= toleranceDays {
		return true, math.Max(0.8, 1-(d/tol)*0.2)
	}
	return false, math.Max(0, 1-d/(7*tol))
}

// dayDiff is the absolute number of calendar days between the date parts
// of a and b, ignoring time of day and zone offsets.
func dayDiff(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	days := int(da.Sub(db).Hours() / 24)
	if days < 0 {
		return -days
	}
	return days
}
