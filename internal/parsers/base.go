// Package parsers loads client ledger exports.
//
// Ledgers arrive as CSV exports from weighbridge or accounting systems.
// Column names differ between sites, so each format carries a set of
// aliases for the standard fields (ticket ID, identifier, date, reference
// and net weight). Bad rows are recorded and skipped; only file-level
// problems such as a missing header or broken encoding stop loading.
//
// Example usage:
//
//	parser, err := NewLedgerParser(nil)
//	tickets, stats, err := parser.ParseLedger("ledger.csv")
//
//	// Header based format detection
//	format, err := DetectLedgerFormat("export.csv")
//	parser, err = NewLedgerParser(format)
package parsers

import (
	"bufio"
	"context"
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"unicode/utf8"

	"ticket-reconciliation-service/pkg/errors"
	"ticket-reconciliation-service/pkg/logger"
)

const encodingCheckLines = 100

// ParseConfig holds configuration for CSV parsing
type ParseConfig struct {
	HasHeader        bool
	Delimiter        rune
	Comment          rune
	TrimLeadingSpace bool
	SkipEmptyRows    bool
	MaxFieldSize     int
	ValidateEncoding bool
	// MaxErrors stops loading once this many row errors have been seen
	MaxErrors int
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		HasHeader:        true,
		Delimiter:        ',',
		Comment:          '#',
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		MaxFieldSize:     4096,
		ValidateEncoding: true,
		MaxErrors:        1000,
	}
}

// BaseParser provides common CSV parsing functionality
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a new BaseParser with the given configuration
func NewBaseParser(config *ParseConfig) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}

	log := logger.GetGlobalLogger().WithComponent("base_parser")
	log.WithFields(logger.Fields{
		"has_header":        config.HasHeader,
		"delimiter":         string(config.Delimiter),
		"validate_encoding": config.ValidateEncoding,
		"max_field_size":    config.MaxFieldSize,
	}).Debug("Created base parser")

	return &BaseParser{
		config: config,
		logger: log,
	}
}

// ParseContext holds state during parsing operations
type ParseContext struct {
	File       string
	LineNumber int
	Headers    []string
	HeaderMap  map[string]int
	ctx        context.Context
}

// NewParseContext creates a new parsing context
func NewParseContext(ctx context.Context, file string) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{
		File:      file,
		Headers:   make([]string, 0),
		HeaderMap: make(map[string]int),
		ctx:       ctx,
	}
}

// Err returns the context error once parsing has been cancelled
func (pc *ParseContext) Err() error {
	return pc.ctx.Err()
}

// GetColumnIndex returns the index of a column by name, or -1 if not found
func (pc *ParseContext) GetColumnIndex(name string) int {
	if index, exists := pc.HeaderMap[name]; exists {
		return index
	}

	lowerName := strings.ToLower(strings.TrimSpace(name))
	for header, index := range pc.HeaderMap {
		if strings.ToLower(header) == lowerName {
			return index
		}
	}

	return -1
}

// SetHeaders replaces the header row
func (pc *ParseContext) SetHeaders(headers []string) {
	pc.Headers = headers
	pc.HeaderMap = make(map[string]int, len(headers))
	for i, header := range headers {
		if _, dup := pc.HeaderMap[header]; !dup {
			pc.HeaderMap[header] = i
		}
	}
}

// ResolveColumn returns the first of names present in the headers
func (pc *ParseContext) ResolveColumn(names []string) (string, int) {
	for _, name := range names {
		if idx := pc.GetColumnIndex(name); idx != -1 {
			return pc.Headers[idx], idx
		}
	}
	return "", -1
}

// OpenFile opens a CSV file and returns a csv.Reader
func (bp *BaseParser) OpenFile(filePath string) (*os.File, *csv.Reader, error) {
	bp.logger.WithField("file_path", filePath).Debug("Opening CSV file")

	file, err := os.Open(filePath)
	if err != nil {
		bp.logger.WithError(err).WithField("file_path", filePath).Error("Failed to open CSV file")

		switch {
		case os.IsNotExist(err):
			return nil, nil, errors.FileError(errors.CodeFileNotFound, filePath, err)
		case os.IsPermission(err):
			return nil, nil, errors.FileError(errors.CodeFilePermission, filePath, err)
		}
		return nil, nil, errors.FileError(errors.CodeFileCorrupted, filePath, err)
	}

	if bp.config.ValidateEncoding {
		if err := bp.validateEncoding(file, filePath); err != nil {
			file.Close()
			bp.logger.WithError(err).WithField("file_path", filePath).Error("File encoding validation failed")
			return nil, nil, err
		}

		if _, err := file.Seek(0, io.SeekStart); err != nil {
			file.Close()
			return nil, nil, errors.FileError(errors.CodeFileCorrupted, filePath, err)
		}
	}

	return file, bp.NewReader(file), nil
}

// NewReader wraps r in a csv.Reader configured for this parser
func (bp *BaseParser) NewReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.Comma = bp.config.Delimiter
	reader.Comment = bp.config.Comment
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false
	return reader
}

// validateEncoding checks that the first lines of the file are valid UTF-8
func (bp *BaseParser) validateEncoding(file *os.File, filePath string) error {
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for lineNum < encodingCheckLines && scanner.Scan() {
		lineNum++
		if !utf8.Valid(scanner.Bytes()) {
			return errors.EncodingError(filePath, lineNum, fmt.Errorf("invalid UTF-8 encoding detected"))
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.FileError(errors.CodeFileCorrupted, filePath, err)
	}

	return nil
}

// ReadHeaders reads the header row and checks that every required column
// resolves through its aliases. required maps a field name to its accepted
// header names.
func (bp *BaseParser) ReadHeaders(reader *csv.Reader, parseCtx *ParseContext, required map[string][]string) error {
	if !bp.config.HasHeader {
		return nil
	}

	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			bp.logger.WithField("file_path", parseCtx.File).Error("File is empty or contains no data")
			return errors.ValidationError(
				errors.CodeMissingField,
				"file_content",
				"empty",
				nil,
			).WithSuggestion("Ensure the file contains header and data rows")
		}

		return errors.ParseError(
			errors.CodeInvalidFormat,
			parseCtx.File,
			1,
			"headers",
			"",
			err,
		).WithSuggestion("Check the file format and ensure it's a valid CSV")
	}

	parseCtx.LineNumber++
	parseCtx.SetHeaders(cleanHeaders(headers))

	bp.logger.WithField("headers", parseCtx.Headers).Debug("Read headers")

	var expected []string
	missing := false
	for field, names := range required {
		if _, idx := parseCtx.ResolveColumn(names); idx == -1 {
			missing = true
			expected = append(expected, field)
		}
	}
	if missing {
		sort.Strings(expected)
		bp.logger.WithFields(logger.Fields{
			"missing_fields":    expected,
			"available_headers": parseCtx.Headers,
		}).Error("Required headers are missing")
		return errors.MissingColumnError(parseCtx.File, expected, parseCtx.Headers)
	}

	return nil
}

// cleanHeaders trims whitespace and a leading byte order mark
func cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	for i, header := range headers {
		if i == 0 {
			header = strings.TrimPrefix(header, "\ufeff")
		}
		cleaned[i] = strings.TrimSpace(header)
	}
	return cleaned
}

// ReadRecord reads the next non-empty record. Malformed rows and oversized
// fields are returned as a recoverable *errors.RowError.
func (bp *BaseParser) ReadRecord(reader *csv.Reader, parseCtx *ParseContext) ([]string, error) {
	for {
		if err := parseCtx.Err(); err != nil {
			return nil, err
		}

		record, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				return nil, err
			}
			parseCtx.LineNumber++
			var csvErr *csv.ParseError
			if stderrors.As(err, &csvErr) {
				parseCtx.LineNumber = csvErr.Line
			}
			bp.logger.WithError(err).WithField("line_number", parseCtx.LineNumber).Warn("Failed to read CSV record")
			return nil, errors.MalformedRowError(parseCtx.File, parseCtx.LineNumber, err)
		}

		parseCtx.LineNumber, _ = reader.FieldPos(0)

		if bp.config.SkipEmptyRows && isEmptyRecord(record) {
			bp.logger.WithField("line_number", parseCtx.LineNumber).Debug("Skipping empty record")
			continue
		}

		if bp.config.MaxFieldSize > 0 {
			for i, field := range record {
				if len(field) <= bp.config.MaxFieldSize {
					continue
				}
				column := fmt.Sprintf("field_%d", i)
				if i < len(parseCtx.Headers) {
					column = parseCtx.Headers[i]
				}
				return nil, errors.FieldTooLongError(parseCtx.File, parseCtx.LineNumber, column, bp.config.MaxFieldSize)
			}
		}

		return record, nil
	}
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// GetFieldValue returns the trimmed value of the first resolvable column
// in names. A column that is absent from the header yields an empty value.
func (bp *BaseParser) GetFieldValue(record []string, parseCtx *ParseContext, names []string) (string, string) {
	column, index := parseCtx.ResolveColumn(names)
	if index == -1 || index >= len(record) {
		return column, ""
	}
	return column, strings.TrimSpace(record[index])
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	TotalLines    int
	RecordsParsed int
	RecordsValid  int
	ErrorCount    int
	Errors        []*errors.RowError

	collector *errors.RowErrorCollector
}

// NewParseStats creates a ParseStats that asks loading to stop after
// maxErrors row errors; zero means no limit
func NewParseStats(maxErrors int) *ParseStats {
	return &ParseStats{
		Errors:    make([]*errors.RowError, 0),
		collector: errors.NewRowErrorCollector(maxErrors),
	}
}

// AddError records a row error and reports whether loading may continue
func (ps *ParseStats) AddError(err *errors.RowError) bool {
	ps.Errors = append(ps.Errors, err)
	ps.ErrorCount++
	return ps.collector.Add(err)
}

// HasErrors returns true if there were any parsing errors
func (ps *ParseStats) HasErrors() bool {
	return ps.ErrorCount > 0
}

// Summary groups the row errors by code
func (ps *ParseStats) Summary() *errors.ErrorSummary {
	return ps.collector.Summary()
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d lines, %d records (%d valid), %d errors",
		ps.TotalLines, ps.RecordsParsed, ps.RecordsValid, ps.ErrorCount)
}

// GetSampleErrors returns a sample of the parsing errors for logging
func (ps *ParseStats) GetSampleErrors(maxSamples int) []string {
	if len(ps.Errors) == 0 {
		return nil
	}

	limit := len(ps.Errors)
	if maxSamples > 0 && maxSamples < limit {
		limit = maxSamples
	}

	samples := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		samples = append(samples, ps.Errors[i].Error())
	}
	return samples
}
