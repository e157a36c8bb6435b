package models

import (
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerTicket is one weighbridge ticket from the client ledger. It is
// immutable once handed to the matching core.
type LedgerTicket struct {
	ID         string                  `json:"id"`
	Identifier Option[string]          `json:"identifier"`
	EntryDate  Option[time.Time]       `json:"entry_date"`
	Reference  Option[string]          `json:"reference"`
	NetWeight  Option[decimal.Decimal] `json:"net_weight"`
}

// NewLedgerTicket creates a ticket with only an ID and identifier set
func NewLedgerTicket(id, identifier string) *LedgerTicket {
	t := &LedgerTicket{ID: id}
	if strings.TrimSpace(identifier) != "" {
		t.Identifier = Some(identifier)
	}
	return t
}

// Validate performs basic validation on the ticket
func (t *LedgerTicket) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("ticket ID cannot be empty")
	}
	if w, ok := t.NetWeight.Get(); ok && w.IsNegative() {
		return fmt.Errorf("ticket %s net weight cannot be negative: %s", t.ID, w.String())
	}
	return nil
}

// String returns a string representation of the ticket
func (t *LedgerTicket) String() string {
	return fmt.Sprintf("Ticket{ID: %s, Identifier: %s, Date: %s, Reference: %s, Weight: %s}",
		t.ID, t.Identifier, formatDate(t.EntryDate), t.Reference, t.NetWeight)
}

func formatDate(d Option[time.Time]) string {
	if v, ok := d.Get(); ok {
		return v.Format("2006-01-02")
	}
	return "<none>"
}

// DPI is a horizontal and vertical scan resolution
type DPI struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// UniformDPI returns a DPI with equal axes
func UniformDPI(v float64) DPI {
	return DPI{X: v, Y: v}
}

// Min returns the lower of the two axes
func (d DPI) Min() float64 {
	if d.X < d.Y {
		return d.X
	}
	return d.Y
}

// Page is one rasterized document page handed to the segmenter. DPI is
// absent when the source carried no resolution metadata.
type Page struct {
	Index  int         `json:"index"`
	Source string      `json:"source"`
	Image  image.Image `json:"-"`
	DPI    Option[DPI] `json:"dpi"`
}

// QualityMetrics are the measurements taken by the quality gate
type QualityMetrics struct {
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	DPIX            float64 `json:"dpi_x"`
	DPIY            float64 `json:"dpi_y"`
	Contrast        float64 `json:"contrast"`
	EstimatedSizeMB float64 `json:"estimated_size_mb"`
	Completeness    float64 `json:"completeness"`
}

// CandidateImage is one ticket-sized region cut from a page. Only the
// quality gate (Valid, RejectionReason) and the recognizer (identifier and
// derived evidence) write to it; scoring reads it by value.
type CandidateImage struct {
	ID              string                  `json:"id"`
	PageIndex       int                     `json:"page_index"`
	RegionIndex     int                     `json:"region_index"`
	Source          string                  `json:"source,omitempty"`
	Bounds          image.Rectangle         `json:"bounds"`
	Pixels          image.Image             `json:"-"`
	DPI             Option[DPI]             `json:"dpi"`
	Identifier      Option[string]          `json:"identifier"`
	OCRConfidence   float64                 `json:"ocr_confidence"`
	Date            Option[time.Time]       `json:"date"`
	Reference       Option[string]          `json:"reference"`
	Weight          Option[decimal.Decimal] `json:"weight"`
	Valid           bool                    `json:"valid"`
	RejectionReason Option[string]          `json:"rejection_reason"`
	Quality         QualityMetrics          `json:"quality"`
	Warnings        []string                `json:"warnings,omitempty"`
}

// CandidateID builds the stable image ID for a page region
func CandidateID(pageIndex, regionIndex int) string {
	return fmt.Sprintf("p%03d-r%d", pageIndex, regionIndex)
}

// Reject marks the image invalid with the given reason
func (c *CandidateImage) Reject(reason string) {
	c.Valid = false
	c.RejectionReason = Some(reason)
}

// String returns a string representation of the candidate image
func (c *CandidateImage) String() string {
	return fmt.Sprintf("Image{ID: %s, Identifier: %s, Confidence: %.1f, Valid: %t}",
		c.ID, c.Identifier, c.OCRConfidence, c.Valid)
}
