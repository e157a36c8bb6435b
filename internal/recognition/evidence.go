package recognition

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ticket-reconciliation-service/internal/models"
)

// Evidence is supplementary ticket data read from the same text as the
// identifier. Fields the text does not carry stay absent.
type Evidence struct {
	Date      models.Option[time.Time]       `json:"date"`
	Reference models.Option[string]          `json:"reference"`
	Weight    models.Option[decimal.Decimal] `json:"weight"`
}

var (
	dayFirstDate = regexp.MustCompile(`\b(\d{1,2})([/.-])(\d{1,2})([/.-])(\d{4})\b`)
	isoDate      = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	netWeight    = regexp.MustCompile(`\bNET(?:\s*(?:WT|WEIGHT))?\s*:?\s*(\d+(?:[.,]\d+)?)\s*(KG|T|TONNES?)?\b`)
	unitWeight   = regexp.MustCompile(`\b(\d+(?:[.,]\d+)?)\s*(KG|T|TONNES?)\b`)
	reference    = regexp.MustCompile(`\bREF(?:ERENCE)?\.?\s*:?\s*([A-Z0-9][A-Z0-9/-]*)`)
	kgPerTonne   = decimal.NewFromInt(1000)
)

// ExtractEvidence reads a date, a reference and a net weight in tonnes from
// uppercased ticket text.
func ExtractEvidence(text string) Evidence {
	text = strings.ToUpper(text)
	return Evidence{
		Date:      extractDate(text),
		Reference: extractReference(text),
		Weight:    extractWeight(text),
	}
}

func extractDate(text string) models.Option[time.Time] {
	if m := isoDate.FindStringSubmatch(text); m != nil {
		if t, err := time.Parse("2006-01-02", m[0]); err == nil {
			return models.Some(t)
		}
	}
	for _, m := range dayFirstDate.FindAllStringSubmatch(text, -1) {
		if m[2] != m[4] {
			continue
		}
		t, err := time.Parse("02/01/2006", pad(m[1])+"/"+pad(m[3])+"/"+m[5])
		if err == nil {
			return models.Some(t)
		}
	}
	return models.None[time.Time]()
}

func pad(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

func extractReference(text string) models.Option[string] {
	if m := reference.FindStringSubmatch(text); m != nil {
		return models.Some(m[1])
	}
	return models.None[string]()
}

// extractWeight prefers a value labelled NET and otherwise takes the first
// number carrying a weight unit. Bare NET values are taken as tonnes.
func extractWeight(text string) models.Option[decimal.Decimal] {
	m := netWeight.FindStringSubmatch(text)
	if m == nil {
		m = unitWeight.FindStringSubmatch(text)
	}
	if m == nil {
		return models.None[decimal.Decimal]()
	}

	value, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", "."))
	if err != nil {
		return models.None[decimal.Decimal]()
	}
	if m[2] == "KG" {
		value = value.Div(kgPerTonne)
	}
	return models.Some(value)
}
