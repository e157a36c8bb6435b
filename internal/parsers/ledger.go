package parsers

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ticket-reconciliation-service/internal/models"
	"ticket-reconciliation-service/pkg/errors"
	"ticket-reconciliation-service/pkg/logger"
)

const validationSampleRows = 10

var kilogramsPerTonne = decimal.NewFromInt(1000)

// LedgerParser reads ledger exports into tickets
type LedgerParser struct {
	*BaseParser
	format *LedgerFormat
	logger logger.Logger
}

// NewLedgerParser creates a parser for the given format. A nil format
// means the standard layout.
func NewLedgerParser(format *LedgerFormat) (*LedgerParser, error) {
	if format == nil {
		format = StandardLedgerFormat
	}

	if err := format.Validate(); err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"ledger_format",
			format.Name,
			err,
		).WithSuggestion("Check the ledger format definition")
	}

	parseConfig := DefaultParseConfig()
	parseConfig.HasHeader = format.HasHeader
	parseConfig.Delimiter = format.Delimiter

	log := logger.GetGlobalLogger().WithComponent("ledger_parser")
	log.WithFields(logger.Fields{
		"format":    format.Name,
		"delimiter": string(format.Delimiter),
	}).Debug("Created ledger parser")

	return &LedgerParser{
		BaseParser: NewBaseParser(parseConfig),
		format:     format,
		logger:     log,
	}, nil
}

// Format returns the ledger format in use
func (lp *LedgerParser) Format() *LedgerFormat {
	return lp.format
}

// ParseLedger parses a ledger CSV file
func (lp *LedgerParser) ParseLedger(filePath string) ([]*models.LedgerTicket, *ParseStats, error) {
	return lp.ParseLedgerWithContext(context.Background(), filePath)
}

// ParseLedgerWithContext parses a ledger with cancellation support. Bad
// rows are recorded in the stats and skipped.
func (lp *LedgerParser) ParseLedgerWithContext(ctx context.Context, filePath string) ([]*models.LedgerTicket, *ParseStats, error) {
	lp.logger.WithFields(logger.Fields{
		"file_path": filePath,
		"format":    lp.format.Name,
	}).Info("Starting ledger parsing")

	var tickets []*models.LedgerTicket
	stats, err := lp.parseRows(ctx, filePath, func(t *models.LedgerTicket) error {
		tickets = append(tickets, t)
		return nil
	})
	if err != nil {
		return tickets, stats, err
	}

	lp.logger.WithFields(logger.Fields{
		"file_path":      filePath,
		"total_lines":    stats.TotalLines,
		"records_parsed": stats.RecordsParsed,
		"records_valid":  stats.RecordsValid,
		"error_count":    stats.ErrorCount,
	}).Info("Ledger parsing completed")

	if stats.HasErrors() {
		lp.logger.WithField("sample_errors", stats.GetSampleErrors(3)).Warn("Encountered errors during parsing")
	}

	return tickets, stats, nil
}

// ParseLedgerCallback receives a batch of parsed tickets
type ParseLedgerCallback func([]*models.LedgerTicket) error

// ParseLedgerStream parses a ledger in batches of batchSize tickets
func (lp *LedgerParser) ParseLedgerStream(
	ctx context.Context,
	filePath string,
	batchSize int,
	callback ParseLedgerCallback,
) (*ParseStats, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	batch := make([]*models.LedgerTicket, 0, batchSize)
	stats, err := lp.parseRows(ctx, filePath, func(t *models.LedgerTicket) error {
		batch = append(batch, t)
		if len(batch) < batchSize {
			return nil
		}
		if err := callback(batch); err != nil {
			return err
		}
		batch = make([]*models.LedgerTicket, 0, batchSize)
		return nil
	})
	if err != nil {
		return stats, err
	}

	if len(batch) > 0 {
		if err := callback(batch); err != nil {
			return stats, fmt.Errorf("callback error: %w", err)
		}
	}
	return stats, nil
}

// parseRows drives the record loop and hands each valid ticket to emit
func (lp *LedgerParser) parseRows(ctx context.Context, filePath string, emit func(*models.LedgerTicket) error) (*ParseStats, error) {
	file, reader, err := lp.OpenFile(filePath)
	if err != nil {
		return NewParseStats(lp.config.MaxErrors), err
	}
	defer file.Close()

	parseCtx := NewParseContext(ctx, filePath)
	stats := NewParseStats(lp.config.MaxErrors)

	if !lp.format.HasHeader {
		parseCtx.SetHeaders(lp.format.headerless())
	}
	if err := lp.ReadHeaders(reader, parseCtx, lp.format.requiredColumns()); err != nil {
		return stats, err
	}

	seen := make(map[string]int)
	for {
		record, err := lp.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			break
		}
		if err != nil {
			var rowErr *errors.RowError
			if !stderrors.As(err, &rowErr) {
				stats.TotalLines = parseCtx.LineNumber
				lp.logger.WithError(err).Warn("Ledger parsing was cancelled")
				return stats, err
			}
			if stopErr := lp.addRowError(stats, rowErr); stopErr != nil {
				return stats, stopErr
			}
			continue
		}

		stats.RecordsParsed++

		ticket, rowErr := lp.parseTicket(record, parseCtx)
		if rowErr == nil {
			if first, dup := seen[ticket.ID]; dup {
				column, _ := parseCtx.ResolveColumn(lp.format.ColumnNames(FieldTicketID))
				rowErr = errors.DuplicateTicketError(filePath, parseCtx.LineNumber, column, ticket.ID, first)
			}
		}
		if rowErr != nil {
			if stopErr := lp.addRowError(stats, rowErr); stopErr != nil {
				return stats, stopErr
			}
			continue
		}

		seen[ticket.ID] = parseCtx.LineNumber
		stats.RecordsValid++
		if err := emit(ticket); err != nil {
			return stats, fmt.Errorf("callback error: %w", err)
		}
	}

	stats.TotalLines = parseCtx.LineNumber
	return stats, nil
}

// addRowError records err and returns a non-nil error once loading must stop
func (lp *LedgerParser) addRowError(stats *ParseStats, err *errors.RowError) error {
	lp.logger.WithFields(logger.Fields{
		"code": err.Code,
		"line": err.Location.Line,
	}).Debug("Skipping ledger row")

	if stats.AddError(err) {
		return nil
	}
	if !err.Recoverable {
		return err
	}

	lp.logger.WithField("error_count", stats.ErrorCount).Error("Too many ledger row errors")
	return errors.ValidationError(
		errors.CodeInvalidData,
		"ledger_rows",
		stats.ErrorCount,
		err,
	).WithSuggestion("Check the export format; most rows could not be read")
}

// parseTicket builds a ticket from one record
func (lp *LedgerParser) parseTicket(record []string, parseCtx *ParseContext) (*models.LedgerTicket, *errors.RowError) {
	file, line := parseCtx.File, parseCtx.LineNumber

	idColumn, id := lp.GetFieldValue(record, parseCtx, lp.format.ColumnNames(FieldTicketID))
	if id == "" {
		return nil, errors.EmptyValueError(file, line, idColumn)
	}

	ticket := &models.LedgerTicket{ID: id}

	if _, identifier := lp.GetFieldValue(record, parseCtx, lp.format.ColumnNames(FieldIdentifier)); identifier != "" {
		ticket.Identifier = models.Some(identifier)
	}

	if dateColumn, raw := lp.GetFieldValue(record, parseCtx, lp.format.ColumnNames(FieldDate)); raw != "" {
		date, err := ParseDate(raw, lp.format.DateFormats)
		if err != nil {
			return nil, errors.InvalidDateError(file, line, dateColumn, raw)
		}
		ticket.EntryDate = models.Some(date)
	}

	if _, reference := lp.GetFieldValue(record, parseCtx, lp.format.ColumnNames(FieldReference)); reference != "" {
		ticket.Reference = models.Some(reference)
	}

	if weightColumn, raw := lp.GetFieldValue(record, parseCtx, lp.format.ColumnNames(FieldNetWeight)); raw != "" {
		weight, err := ParseWeight(raw)
		if err != nil || weight.IsNegative() {
			return nil, errors.InvalidWeightError(file, line, weightColumn, raw)
		}
		ticket.NetWeight = models.Some(weight)
	}

	if err := ticket.Validate(); err != nil {
		return nil, errors.EmptyValueError(file, line, idColumn)
	}
	return ticket, nil
}

// ParseDate parses a calendar date with the first matching layout. The
// time of day is dropped and the result is in UTC.
func ParseDate(raw string, layouts []string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q matches none of %v", raw, layouts)
}

// ParseWeight parses a net weight in tonnes. A "t" or "kg" suffix is
// accepted; kilograms are converted. A lone comma is read as the decimal
// separator, and commas alongside a point as thousands separators.
func ParseWeight(raw string) (decimal.Decimal, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	kilograms := false
	switch {
	case strings.HasSuffix(s, "kg"):
		kilograms = true
		s = strings.TrimSuffix(s, "kg")
	case strings.HasSuffix(s, "tonnes"):
		s = strings.TrimSuffix(s, "tonnes")
	case strings.HasSuffix(s, "t"):
		s = strings.TrimSuffix(s, "t")
	}
	s = strings.TrimSpace(s)

	if strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", "")
	} else if strings.Count(s, ",") == 1 {
		s = strings.Replace(s, ",", ".", 1)
	}

	if s == "" {
		return decimal.Zero, fmt.Errorf("empty weight")
	}
	value, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if kilograms {
		value = value.Div(kilogramsPerTonne)
	}
	return value, nil
}

// DetectLedgerFormat picks a predefined format from the file's header line
func DetectLedgerFormat(filePath string) (*LedgerFormat, error) {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, filePath, err)
		}
		return nil, errors.FileError(errors.CodeFilePermission, filePath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		format := AutoDetectLedgerFormat(line)
		logger.GetGlobalLogger().WithComponent("ledger_parser").WithFields(logger.Fields{
			"file_path": filePath,
			"format":    format.Name,
		}).Debug("Detected ledger format")
		return format, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.FileError(errors.CodeFileCorrupted, filePath, err)
	}
	return nil, errors.ValidationError(errors.CodeMissingField, "file_content", "empty", nil).
		WithSuggestion("Ensure the file contains header and data rows")
}

// ValidateLedgerFile checks the header and the first rows of a ledger
func (lp *LedgerParser) ValidateLedgerFile(filePath string) error {
	lp.logger.WithField("file_path", filePath).Info("Validating ledger file format")

	file, reader, err := lp.OpenFile(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	parseCtx := NewParseContext(context.Background(), filePath)
	if !lp.format.HasHeader {
		parseCtx.SetHeaders(lp.format.headerless())
	}
	if err := lp.ReadHeaders(reader, parseCtx, lp.format.requiredColumns()); err != nil {
		return err
	}

	recordCount := 0
	var rowErrors []*errors.RowError
	for recordCount < validationSampleRows {
		record, err := lp.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			break
		}
		recordCount++
		if err != nil {
			var rowErr *errors.RowError
			if stderrors.As(err, &rowErr) {
				rowErrors = append(rowErrors, rowErr)
				continue
			}
			return err
		}
		if _, rowErr := lp.parseTicket(record, parseCtx); rowErr != nil {
			rowErrors = append(rowErrors, rowErr)
		}
	}

	if recordCount == 0 {
		lp.logger.WithField("file_path", filePath).Error("File contains no data records")
		return errors.ValidationError(
			errors.CodeMissingField,
			"data_records",
			0,
			nil,
		).WithSuggestion("Ensure the file contains data rows after the header")
	}

	if len(rowErrors) > 0 {
		lp.logger.WithFields(logger.Fields{
			"file_path":      filePath,
			"error_count":    len(rowErrors),
			"records_tested": recordCount,
		}).Error("File validation failed with errors")

		return errors.ValidationError(
			errors.CodeInvalidData,
			"file_format",
			fmt.Sprintf("%d validation errors out of %d records tested", len(rowErrors), recordCount),
			rowErrors[0],
		).WithSuggestion("Fix the data format issues and try again")
	}

	lp.logger.WithFields(logger.Fields{
		"file_path":      filePath,
		"records_tested": recordCount,
	}).Info("Ledger file validation completed successfully")
	return nil
}
