package parsers

import (
	"fmt"
	"strings"
)

// Standard ledger field names
const (
	FieldTicketID   = "ticket_id"
	FieldIdentifier = "identifier"
	FieldDate       = "date"
	FieldReference  = "reference"
	FieldNetWeight  = "net_weight"
)

// LedgerFormat describes one ledger export layout
type LedgerFormat struct {
	Name             string              `json:"name" yaml:"name"`
	TicketIDColumn   string              `json:"ticket_id_column" yaml:"ticket_id_column"`
	IdentifierColumn string              `json:"identifier_column" yaml:"identifier_column"`
	DateColumn       string              `json:"date_column" yaml:"date_column"`
	ReferenceColumn  string              `json:"reference_column" yaml:"reference_column"`
	WeightColumn     string              `json:"weight_column" yaml:"weight_column"`
	DateFormats      []string            `json:"date_formats" yaml:"date_formats"`
	HasHeader        bool                `json:"has_header" yaml:"has_header"`
	Delimiter        rune                `json:"delimiter" yaml:"delimiter"`
	ColumnAliases    map[string][]string `json:"column_aliases,omitempty" yaml:"column_aliases,omitempty"`
	Description      string              `json:"description,omitempty" yaml:"description,omitempty"`
}

// Validate checks if the ledger format is usable
func (lf *LedgerFormat) Validate() error {
	if strings.TrimSpace(lf.Name) == "" {
		return fmt.Errorf("format name cannot be empty")
	}

	if strings.TrimSpace(lf.TicketIDColumn) == "" {
		return fmt.Errorf("ticket ID column cannot be empty")
	}

	if strings.TrimSpace(lf.IdentifierColumn) == "" {
		return fmt.Errorf("identifier column cannot be empty")
	}

	if len(lf.DateFormats) == 0 {
		return fmt.Errorf("at least one date format is required")
	}

	if lf.Delimiter == 0 || lf.Delimiter == '"' || lf.Delimiter == '\n' || lf.Delimiter == '\r' {
		return fmt.Errorf("invalid delimiter %q", lf.Delimiter)
	}

	return nil
}

// GetColumnName returns the primary column name for a standard field
func (lf *LedgerFormat) GetColumnName(standardName string) string {
	switch standardName {
	case FieldTicketID:
		return lf.TicketIDColumn
	case FieldIdentifier:
		return lf.IdentifierColumn
	case FieldDate:
		return lf.DateColumn
	case FieldReference:
		return lf.ReferenceColumn
	case FieldNetWeight:
		return lf.WeightColumn
	default:
		return standardName
	}
}

// ColumnNames returns every header accepted for a standard field, primary
// name first
func (lf *LedgerFormat) ColumnNames(standardName string) []string {
	var names []string
	if primary := lf.GetColumnName(standardName); primary != "" {
		names = append(names, primary)
	}
	return append(names, lf.ColumnAliases[standardName]...)
}

// requiredColumns lists the fields a header row must resolve
func (lf *LedgerFormat) requiredColumns() map[string][]string {
	return map[string][]string{
		FieldTicketID:   lf.ColumnNames(FieldTicketID),
		FieldIdentifier: lf.ColumnNames(FieldIdentifier),
	}
}

// headerless returns the column order assumed when the export has no header
func (lf *LedgerFormat) headerless() []string {
	return []string{lf.TicketIDColumn, lf.IdentifierColumn, lf.DateColumn, lf.ReferenceColumn, lf.WeightColumn}
}

// Predefined ledger formats
var (
	// StandardLedgerFormat is the canonical export with snake_case headers
	StandardLedgerFormat = &LedgerFormat{
		Name:             "standard",
		TicketIDColumn:   FieldTicketID,
		IdentifierColumn: FieldIdentifier,
		DateColumn:       FieldDate,
		ReferenceColumn:  FieldReference,
		WeightColumn:     FieldNetWeight,
		DateFormats:      []string{"2006-01-02", "02/01/2006", "2006-01-02T15:04:05Z07:00"},
		HasHeader:        true,
		Delimiter:        ',',
		ColumnAliases: map[string][]string{
			FieldTicketID:   {"id", "ledger_id", "entry_id"},
			FieldIdentifier: {"ticket_number", "ticket_no", "ticket"},
			FieldDate:       {"entry_date", "ticket_date"},
			FieldReference:  {"ref", "order_reference"},
			FieldNetWeight:  {"weight", "net", "nett_weight"},
		},
		Description: "Standard ledger export with ISO or day/month/year dates",
	}

	// WeighbridgeExportFormat matches the column titles of common
	// weighbridge software exports
	WeighbridgeExportFormat = &LedgerFormat{
		Name:             "weighbridge",
		TicketIDColumn:   "Entry",
		IdentifierColumn: "Docket No",
		DateColumn:       "Date In",
		ReferenceColumn:  "Rego",
		WeightColumn:     "Nett",
		DateFormats:      []string{"02/01/2006", "02/01/2006 15:04", "2006-01-02"},
		HasHeader:        true,
		Delimiter:        ',',
		ColumnAliases: map[string][]string{
			FieldIdentifier: {"Docket", "Docket Number", "Ticket No"},
			FieldReference:  {"Registration", "Vehicle"},
			FieldNetWeight:  {"Nett (t)", "Net Weight", "Nett Weight"},
		},
		Description: "Weighbridge software export with day/month/year dates",
	}

	// SemicolonLedgerFormat is the standard layout with semicolon delimiters
	SemicolonLedgerFormat = &LedgerFormat{
		Name:             "semicolon",
		TicketIDColumn:   FieldTicketID,
		IdentifierColumn: FieldIdentifier,
		DateColumn:       FieldDate,
		ReferenceColumn:  FieldReference,
		WeightColumn:     FieldNetWeight,
		DateFormats:      []string{"02.01.2006", "2006-01-02", "02/01/2006"},
		HasHeader:        true,
		Delimiter:        ';',
		ColumnAliases:    StandardLedgerFormat.ColumnAliases,
		Description:      "Standard layout with semicolon delimiter and dotted dates",
	}
)

// GetLedgerFormat returns a predefined ledger format by name
func GetLedgerFormat(name string) *LedgerFormat {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "standard":
		return StandardLedgerFormat
	case "weighbridge":
		return WeighbridgeExportFormat
	case "semicolon":
		return SemicolonLedgerFormat
	default:
		return nil
	}
}

// ListLedgerFormats returns all predefined ledger formats
func ListLedgerFormats() []*LedgerFormat {
	return []*LedgerFormat{
		StandardLedgerFormat,
		WeighbridgeExportFormat,
		SemicolonLedgerFormat,
	}
}

// AutoDetectLedgerFormat picks the first format whose delimiter splits
// headerLine into all of its required columns, falling back to the
// standard format
func AutoDetectLedgerFormat(headerLine string) *LedgerFormat {
	headerLine = strings.TrimPrefix(strings.TrimSpace(headerLine), "\ufeff")

	for _, format := range ListLedgerFormats() {
		headerMap := make(map[string]bool)
		for _, header := range strings.Split(headerLine, string(format.Delimiter)) {
			headerMap[strings.ToLower(strings.Trim(strings.TrimSpace(header), `"`))] = true
		}

		required := format.requiredColumns()
		matched := 0
		for _, names := range required {
			for _, name := range names {
				if headerMap[strings.ToLower(name)] {
					matched++
					break
				}
			}
		}
		if matched == len(required) {
			return format
		}
	}

	return StandardLedgerFormat
}
