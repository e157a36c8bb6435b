package errors

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ParseContext locates a problem inside a ledger export
type ParseContext struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   string `json:"column"`
	Value    string `json:"value"`
	Expected string `json:"expected,omitempty"`
}

// RowError is a per-row ledger problem. Recoverable row errors skip the
// row and let loading continue.
type RowError struct {
	*ReconcilerError
	Location    *ParseContext `json:"location"`
	Recoverable bool          `json:"recoverable"`
	Examples    []string      `json:"examples,omitempty"`
}

// Error implements the error interface with location information
func (e *RowError) Error() string {
	msg := e.ReconcilerError.Error()
	if e.Location == nil {
		return msg
	}
	location := fmt.Sprintf("at %s", filepath.Base(e.Location.File))
	if e.Location.Line > 0 {
		location += fmt.Sprintf(":%d", e.Location.Line)
	}
	if e.Location.Column != "" {
		location += fmt.Sprintf(" column '%s'", e.Location.Column)
	}
	return msg + " " + location
}

// As exposes the embedded ReconcilerError to errors.As
func (e *RowError) As(target interface{}) bool {
	if t, ok := target.(**ReconcilerError); ok {
		*t = e.ReconcilerError
		return true
	}
	return false
}

// Detailed returns a multi-line description for console output
func (e *RowError) Detailed() string {
	lines := []string{fmt.Sprintf("ERROR: %s", e.Message)}
	if e.Location != nil {
		lines = append(lines, fmt.Sprintf("  → File: %s", e.Location.File))
		if e.Location.Line > 0 {
			lines = append(lines, fmt.Sprintf("  → Line: %d", e.Location.Line))
		}
		if e.Location.Column != "" {
			lines = append(lines, fmt.Sprintf("  → Column: %s", e.Location.Column))
		}
		if e.Location.Value != "" {
			lines = append(lines, fmt.Sprintf("  → Value: '%s'", e.Location.Value))
		}
		if e.Location.Expected != "" {
			lines = append(lines, fmt.Sprintf("  → Expected: %s", e.Location.Expected))
		}
	}
	if e.Suggestion != "" {
		lines = append(lines, fmt.Sprintf("  → Suggestion: %s", e.Suggestion))
	}
	if len(e.Examples) > 0 {
		lines = append(lines, "  → Examples: "+strings.Join(e.Examples, ", "))
	}
	return strings.Join(lines, "\n")
}

func newRowError(code ErrorCode, loc *ParseContext, message string, cause error) *RowError {
	base := build(cause, CategoryParse, code, message)
	if loc != nil {
		base.WithContext("file", loc.File).
			WithContext("line", loc.Line).
			WithContext("column", loc.Column).
			WithContext("value", loc.Value)
	}
	return &RowError{ReconcilerError: base, Location: loc, Recoverable: true}
}

// InvalidWeightError reports an unparseable net weight cell
func InvalidWeightError(file string, line int, column, value string) *RowError {
	err := newRowError(CodeInvalidWeight, &ParseContext{
		File: file, Line: line, Column: column, Value: value, Expected: "decimal tonnes",
	}, "invalid net weight", nil)
	err.Examples = []string{"10.50", "24", "7.125"}
	err.WithSuggestion("remove unit suffixes other than t/kg and use a decimal point")
	return err
}

// InvalidDateError reports an unparseable entry date cell
func InvalidDateError(file string, line int, column, value string) *RowError {
	err := newRowError(CodeInvalidDate, &ParseContext{
		File: file, Line: line, Column: column, Value: value, Expected: "YYYY-MM-DD or DD/MM/YYYY",
	}, "invalid entry date", nil)
	err.Examples = []string{"2024-03-15", "15/03/2024"}
	err.WithSuggestion("use an ISO date or day/month/year")
	return err
}

// EmptyValueError reports a required cell left blank
func EmptyValueError(file string, line int, column string) *RowError {
	err := newRowError(CodeMissingField, &ParseContext{
		File: file, Line: line, Column: column, Expected: "non-empty value",
	}, "required field is empty", nil)
	err.WithSuggestion("provide a value for this required field")
	return err
}

// MissingColumnError reports required headers absent from the export
func MissingColumnError(file string, expected, actual []string) *RowError {
	missing := findMissingColumns(expected, actual)
	err := newRowError(CodeMissingColumn, &ParseContext{
		File: file, Line: 1, Expected: "columns: " + strings.Join(expected, ", "),
	}, "missing required columns: "+strings.Join(missing, ", "), nil)
	err.Recoverable = false
	err.WithSuggestion("add the missing columns to the ledger export header")
	return err
}

// EncodingError reports a non UTF-8 line
func EncodingError(file string, line int, cause error) *RowError {
	err := newRowError(CodeEncodingError, &ParseContext{File: file, Line: line}, "file encoding error", cause)
	err.Recoverable = false
	err.WithSuggestion("save the file in UTF-8 encoding")
	return err
}

// MalformedRowError reports a row the CSV reader could not split
func MalformedRowError(file string, line int, cause error) *RowError {
	err := newRowError(CodeInvalidFormat, &ParseContext{File: file, Line: line}, "malformed row", cause)
	err.WithSuggestion("check quoting and delimiters on this line")
	return err
}

// FieldTooLongError reports a cell above the configured size limit
func FieldTooLongError(file string, line int, column string, limit int) *RowError {
	err := newRowError(CodeInvalidData, &ParseContext{
		File: file, Line: line, Column: column, Expected: fmt.Sprintf("at most %d bytes", limit),
	}, "field exceeds size limit", nil)
	err.WithSuggestion(fmt.Sprintf("reduce the field to under %d bytes", limit))
	return err
}

// DuplicateTicketError reports a ticket ID already seen on an earlier row
func DuplicateTicketError(file string, line int, column, value string, firstLine int) *RowError {
	err := newRowError(CodeInvalidData, &ParseContext{
		File: file, Line: line, Column: column, Value: value, Expected: "unique ticket ID",
	}, fmt.Sprintf("duplicate ticket ID, first seen on line %d", firstLine), nil)
	err.WithSuggestion("remove the repeated ledger row")
	return err
}

// RowErrorCollector accumulates row errors up to a limit
type RowErrorCollector struct {
	errors    []*RowError
	maxErrors int
}

// NewRowErrorCollector creates a collector that stops accepting after maxErrors
func NewRowErrorCollector(maxErrors int) *RowErrorCollector {
	return &RowErrorCollector{maxErrors: maxErrors}
}

// Add records err and reports whether loading may continue
func (c *RowErrorCollector) Add(err *RowError) bool {
	if err == nil {
		return true
	}
	c.errors = append(c.errors, err)
	if c.maxErrors > 0 && len(c.errors) >= c.maxErrors {
		return false
	}
	return err.Recoverable
}

// HasErrors returns true if any errors have been collected
func (c *RowErrorCollector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all collected errors
func (c *RowErrorCollector) Errors() []*RowError {
	return c.errors
}

// Summary returns an error summary for all collected errors
func (c *RowErrorCollector) Summary() *ErrorSummary {
	result := make([]*ReconcilerError, len(c.errors))
	for i, err := range c.errors {
		result[i] = err.ReconcilerError
	}
	return NewErrorSummary(result)
}

func findMissingColumns(expected, actual []string) []string {
	actualSet := make(map[string]bool)
	for _, col := range actual {
		actualSet[strings.ToLower(strings.TrimSpace(col))] = true
	}

	var missing []string
	for _, col := range expected {
		if !actualSet[strings.ToLower(strings.TrimSpace(col))] {
			missing = append(missing, col)
		}
	}
	return missing
}
