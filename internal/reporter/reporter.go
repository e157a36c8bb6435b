// Package reporter renders batch reconciliation reports.
//
// A report is generated from a pipeline.BatchReport in one of four formats:
//   - Console: human-readable sections with tier-colored outcomes
//   - JSON: structured data for programmatic consumption
//   - YAML: the JSON document in block style for config-minded readers
//   - CSV: one row per ledger ticket for spreadsheet review
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatJSON})
//	if err != nil {
//		return err
//	}
//	err = generator.GenerateReport(report, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"ticket-reconciliation-service/internal/matcher"
	"ticket-reconciliation-service/internal/models"
	"ticket-reconciliation-service/internal/pipeline"
	"ticket-reconciliation-service/pkg/logger"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatYAML    OutputFormat = "yaml"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatYAML, FormatCSV:
		return true
	default:
		return false
	}
}

// stateUnmatched labels tickets that produced no outcome
const stateUnmatched = "unmatched"

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	// Output format
	Format OutputFormat `json:"format" yaml:"format"`

	// Detail level options
	IncludeOutcomes        bool `json:"include_outcomes" yaml:"include_outcomes"`
	IncludeUnmatched       bool `json:"include_unmatched" yaml:"include_unmatched"`
	IncludeConflicts       bool `json:"include_conflicts" yaml:"include_conflicts"`
	IncludeDuplicates      bool `json:"include_duplicates" yaml:"include_duplicates"`
	IncludeFailures        bool `json:"include_failures" yaml:"include_failures"`
	IncludeProcessingStats bool `json:"include_processing_stats" yaml:"include_processing_stats"`

	// Console formatting options
	UseColors     bool `json:"use_colors" yaml:"use_colors"`
	TableMaxWidth int  `json:"table_max_width" yaml:"table_max_width"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter" yaml:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers" yaml:"csv_headers"`

	// SortByConfidence orders outcomes by descending confidence instead of
	// ledger order.
	SortByConfidence bool `json:"sort_by_confidence" yaml:"sort_by_confidence"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:                 FormatConsole,
		IncludeOutcomes:        true,
		IncludeUnmatched:       true,
		IncludeConflicts:       true,
		IncludeDuplicates:      true,
		IncludeFailures:        true,
		IncludeProcessingStats: true,
		UseColors:              true,
		TableMaxWidth:          120,
		CSVDelimiter:           ',',
		CSVHeaders:             true,
		SortByConfidence:       false,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}

	if c.TableMaxWidth < 50 {
		return fmt.Errorf("table max width must be at least 50 characters, got %d", c.TableMaxWidth)
	}

	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n') {
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}

	return nil
}

// ReportGenerator generates batch reports in various formats
type ReportGenerator struct {
	config *ReportConfig
	styles tierStyles
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{
		config: config,
		styles: newTierStyles(config.UseColors),
	}, nil
}

// GenerateReport renders report and writes it to writer
func (rg *ReportGenerator) GenerateReport(report *pipeline.BatchReport, writer io.Writer) error {
	if report == nil {
		return fmt.Errorf("batch report cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(report, writer)
	case FormatJSON:
		return rg.generateJSONReport(report, writer)
	case FormatYAML:
		return rg.generateYAMLReport(report, writer)
	case FormatCSV:
		return rg.generateCSVReport(report, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// tierStyles colors outcome states on the console
type tierStyles struct {
	enabled bool
	header  lipgloss.Style
	title   lipgloss.Style
	states  map[string]lipgloss.Style
}

func newTierStyles(enabled bool) tierStyles {
	return tierStyles{
		enabled: enabled,
		header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		title:   lipgloss.NewStyle().Bold(true),
		states: map[string]lipgloss.Style{
			string(models.StateAutoAccepted):     lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
			string(models.StateManuallyAccepted): lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
			string(models.StateNeedsReview):      lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
			string(models.StateRejected):         lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
			string(models.StateManuallyRejected): lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
			stateUnmatched:                       lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		},
	}
}

func (s tierStyles) state(state string) string {
	if !s.enabled {
		return state
	}
	if style, ok := s.states[state]; ok {
		return style.Render(state)
	}
	return state
}

func (s tierStyles) section(name string) string {
	line := fmt.Sprintf("=== %s ===", name)
	if !s.enabled {
		return line
	}
	return s.title.Render(line)
}

func (s tierStyles) column(name string) string {
	if !s.enabled {
		return name
	}
	return s.header.Render(name)
}

// generateConsoleReport generates a human-readable console report
func (rg *ReportGenerator) generateConsoleReport(report *pipeline.BatchReport, writer io.Writer) error {
	fmt.Fprintf(writer, "TICKET RECONCILIATION REPORT\n")
	fmt.Fprintf(writer, "Batch: %s\n", report.BatchID)
	fmt.Fprintf(writer, "Generated: %s\n", report.CompletedAt.Format(time.RFC3339))
	fmt.Fprintf(writer, "Processing Duration: %v\n", report.CompletedAt.Sub(report.StartedAt).Round(time.Millisecond))
	if report.Persisted {
		fmt.Fprintf(writer, "Outcomes saved: yes\n")
	}
	fmt.Fprintf(writer, "\n")

	fmt.Fprintln(writer, rg.styles.section("SUMMARY"))
	rg.printSummary(report.Stats, writer)
	fmt.Fprintf(writer, "\n")

	fmt.Fprintln(writer, rg.styles.section("CONFIDENCE DISTRIBUTION"))
	rg.printDistribution(report.Stats, writer)
	fmt.Fprintf(writer, "\n")

	rows := rg.ticketRows(report)
	if rg.config.IncludeOutcomes && len(rows) > 0 {
		fmt.Fprintln(writer, rg.styles.section("OUTCOMES"))
		if err := rg.printOutcomes(rows, writer); err != nil {
			return err
		}
		fmt.Fprintf(writer, "\n")
	}

	if report.Result != nil {
		if rg.config.IncludeConflicts && len(report.Result.Conflicts) > 0 {
			fmt.Fprintln(writer, rg.styles.section("CONFLICTS"))
			rg.printConflicts(report.Result.Conflicts, writer)
			fmt.Fprintf(writer, "\n")
		}

		if rg.config.IncludeDuplicates && len(report.Result.Duplicates) > 0 {
			fmt.Fprintln(writer, rg.styles.section("DUPLICATES"))
			rg.printDuplicates(report.Result.Duplicates, writer)
			fmt.Fprintf(writer, "\n")
		}
	}

	if rg.config.IncludeProcessingStats {
		fmt.Fprintln(writer, rg.styles.section("PAGE PROCESSING"))
		rg.printProcessingStats(report.Processing, report.Stages, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeFailures && report.Failures != nil && report.Failures.Total() > 0 {
		fmt.Fprintln(writer, rg.styles.section("FAILURES"))
		rg.printFailures(report.Failures, writer)
	}

	return nil
}

// generateJSONReport generates a structured JSON report
func (rg *ReportGenerator) generateJSONReport(report *pipeline.BatchReport, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rg.filterReportForOutput(report))
}

// generateYAMLReport re-encodes the JSON document as block-style YAML so
// both formats share one set of field names
func (rg *ReportGenerator) generateYAMLReport(report *pipeline.BatchReport, writer io.Writer) error {
	data, err := json.Marshal(rg.filterReportForOutput(report))
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to convert report to YAML: %w", err)
	}
	blockStyle(&doc)

	encoder := yaml.NewEncoder(writer)
	encoder.SetIndent(2)
	if err := encoder.Encode(&doc); err != nil {
		return fmt.Errorf("failed to write YAML report: %w", err)
	}
	return encoder.Close()
}

// blockStyle clears the flow and quoting styles picked up from JSON input
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, child := range n.Content {
		blockStyle(child)
	}
}

// csvHeaders are the columns of the CSV report
var csvHeaders = []string{
	"Batch_ID",
	"Ticket_ID",
	"Identifier",
	"Image_ID",
	"Confidence",
	"State",
	"Accepted",
	"Flagged",
	"Reviewed",
	"Method",
	"Reason",
}

// generateCSVReport writes one row per ledger ticket
func (rg *ReportGenerator) generateCSVReport(report *pipeline.BatchReport, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(csvHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, row := range rg.ticketRows(report) {
		record := []string{
			report.BatchID,
			row.TicketID,
			row.Identifier,
			row.ImageID,
			"",
			row.State,
			"",
			"",
			"",
			"",
			row.Reason,
		}
		if o := row.Outcome; o != nil {
			record[4] = fmt.Sprintf("%.2f", o.Confidence)
			record[6] = fmt.Sprintf("%t", o.Accepted)
			record[7] = fmt.Sprintf("%t", o.Flagged)
			record[8] = fmt.Sprintf("%t", o.Reviewed)
			record[9] = string(o.Method)
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write record for ticket %s: %w", row.TicketID, err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// ticketRow is one ledger ticket with its outcome, if any
type ticketRow struct {
	TicketID   string
	Identifier string
	ImageID    string
	State      string
	Reason     string
	Outcome    *models.MatchOutcome
}

// ticketRows joins outcomes to tickets in ledger order. Tickets without an
// outcome are included only when IncludeUnmatched is set.
func (rg *ReportGenerator) ticketRows(report *pipeline.BatchReport) []ticketRow {
	byTicket := make(map[string]*models.MatchOutcome, len(report.Outcomes))
	for _, o := range report.Outcomes {
		byTicket[o.TicketID] = o
	}

	var rows []ticketRow
	seen := make(map[string]bool, len(report.Tickets))
	add := func(ticketID, identifier string) {
		if seen[ticketID] {
			return
		}
		seen[ticketID] = true

		o, ok := byTicket[ticketID]
		if !ok {
			if rg.config.IncludeUnmatched {
				rows = append(rows, ticketRow{
					TicketID:   ticketID,
					Identifier: identifier,
					State:      stateUnmatched,
					Reason:     "no candidate image above the noise floor",
				})
			}
			return
		}
		rows = append(rows, ticketRow{
			TicketID:   ticketID,
			Identifier: identifier,
			ImageID:    o.ImageID,
			State:      string(o.State),
			Reason:     o.Reason,
			Outcome:    o,
		})
	}

	for _, t := range report.Tickets {
		add(t.ID, t.Identifier.OrElse(""))
	}
	// Reports loaded without tickets still list every outcome
	for _, o := range report.Outcomes {
		add(o.TicketID, "")
	}

	if rg.config.SortByConfidence {
		sort.SliceStable(rows, func(i, j int) bool {
			return rowConfidence(rows[i]) > rowConfidence(rows[j])
		})
	}
	return rows
}

func rowConfidence(r ticketRow) float64 {
	if r.Outcome == nil {
		return -1
	}
	return r.Outcome.Confidence
}

// Helper methods for console output formatting

func (rg *ReportGenerator) printSummary(stats matcher.BatchStats, writer io.Writer) {
	fmt.Fprintf(writer, "Tickets:\n")
	fmt.Fprintf(writer, "  Total:          %d\n", stats.TotalTickets)
	fmt.Fprintf(writer, "  Auto-accepted:  %d (%.1f%%)\n",
		stats.AutoAccepted, rg.calculatePercentage(stats.AutoAccepted, stats.TotalTickets))
	fmt.Fprintf(writer, "  Needs review:   %d (%.1f%%)\n",
		stats.NeedsReview, rg.calculatePercentage(stats.NeedsReview, stats.TotalTickets))
	fmt.Fprintf(writer, "  Rejected:       %d (%.1f%%)\n",
		stats.Rejected, rg.calculatePercentage(stats.Rejected, stats.TotalTickets))
	fmt.Fprintf(writer, "  Unmatched:      %d (%.1f%%)\n",
		stats.Unmatched, rg.calculatePercentage(stats.Unmatched, stats.TotalTickets))
	fmt.Fprintf(writer, "  Lost conflicts: %d\n", stats.Conflicted)
	fmt.Fprintf(writer, "\nImages:\n")
	fmt.Fprintf(writer, "  Total:          %d\n", stats.TotalImages)
	fmt.Fprintf(writer, "  Valid:          %d (%.1f%%)\n",
		stats.ValidImages, rg.calculatePercentage(stats.ValidImages, stats.TotalImages))
	fmt.Fprintf(writer, "  Contested:      %d\n", stats.ContestedImages)
	fmt.Fprintf(writer, "\nAverage confidence: %.1f%%\n", stats.AverageConfidence)
}

func (rg *ReportGenerator) printDistribution(stats matcher.BatchStats, writer io.Writer) {
	scored := stats.TotalTickets - stats.Unmatched
	d := stats.Distribution
	fmt.Fprintf(writer, "Excellent (>=95%%): %d (%.1f%%)\n", d.Excellent, rg.calculatePercentage(d.Excellent, scored))
	fmt.Fprintf(writer, "Good (85-95%%):     %d (%.1f%%)\n", d.Good, rg.calculatePercentage(d.Good, scored))
	fmt.Fprintf(writer, "Fair (60-85%%):     %d (%.1f%%)\n", d.Fair, rg.calculatePercentage(d.Fair, scored))
	fmt.Fprintf(writer, "Poor (<60%%):       %d (%.1f%%)\n", d.Poor, rg.calculatePercentage(d.Poor, scored))
}

func (rg *ReportGenerator) printOutcomes(rows []ticketRow, writer io.Writer) error {
	w := tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
		rg.styles.column("Ticket"),
		rg.styles.column("Identifier"),
		rg.styles.column("Image"),
		rg.styles.column("Confidence"),
		rg.styles.column("State"),
		rg.styles.column("Reason"))

	reasonWidth := max(20, rg.config.TableMaxWidth-70)
	for _, row := range rows {
		confidence := "-"
		flag := ""
		if row.Outcome != nil {
			confidence = fmt.Sprintf("%.1f%%", row.Outcome.Confidence)
			if row.Outcome.Flagged {
				flag = " *"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s%s\t%s\n",
			row.TicketID,
			orDash(row.Identifier),
			orDash(row.ImageID),
			confidence,
			rg.styles.state(row.State),
			flag,
			truncate(row.Reason, reasonWidth))
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write outcome table: %w", err)
	}
	return nil
}

func (rg *ReportGenerator) printConflicts(conflicts []matcher.Conflict, writer io.Writer) {
	for _, c := range conflicts {
		fmt.Fprintf(writer, "Image %s -> ticket %s (%.1f%%)\n", c.ImageID, c.WinnerTicketID, c.WinnerConfidence)
		for _, l := range c.Losers {
			fmt.Fprintf(writer, "  lost: %s %.1f%% -> %.1f%%\n", l.TicketID, l.OriginalConfidence, l.AdjustedConfidence)
		}
	}
}

func (rg *ReportGenerator) printDuplicates(groups []matcher.DuplicateGroup, writer io.Writer) {
	for _, g := range groups {
		fmt.Fprintf(writer, "[%s] %s: %s\n", g.Kind, g.Identifier, strings.Join(g.IDs, ", "))
	}
}

func (rg *ReportGenerator) printProcessingStats(stats pipeline.ProcessingStats, stages []logger.StageTiming, writer io.Writer) {
	fmt.Fprintf(writer, "Engine:             %s\n", orDash(stats.Engine))
	fmt.Fprintf(writer, "Pages:              %d (%d failed)\n", stats.Pages, stats.PagesFailed)
	fmt.Fprintf(writer, "Images:             %d\n", stats.Images)
	fmt.Fprintf(writer, "Passed quality:     %d\n", stats.ValidImages)
	fmt.Fprintf(writer, "Failed quality:     %d\n", stats.QualityFailed)
	fmt.Fprintf(writer, "Recognized:         %d\n", stats.Recognized)
	fmt.Fprintf(writer, "Low OCR confidence: %d\n", stats.OCRLowConfidence)
	fmt.Fprintf(writer, "Processing time:    %v\n", stats.Duration.Round(time.Millisecond))

	if len(stages) > 0 {
		parts := make([]string, len(stages))
		for i, s := range stages {
			parts[i] = fmt.Sprintf("%s=%v", s.Stage, s.Duration.Round(time.Millisecond))
		}
		fmt.Fprintf(writer, "Stages:             %s\n", strings.Join(parts, " "))
	}
}

func (rg *ReportGenerator) printFailures(failures *pipeline.FailureLog, writer io.Writer) {
	snap := failures.Snapshot()
	fmt.Fprintf(writer, "Total: %d", snap.Total)
	if snap.Dropped > 0 {
		fmt.Fprintf(writer, " (%d not shown)", snap.Dropped)
	}
	fmt.Fprintf(writer, "\n")

	for _, name := range failures.CounterNames() {
		fmt.Fprintf(writer, "  %-20s %d\n", name+":", snap.Counters[name])
	}
	for _, r := range snap.Records {
		fmt.Fprintf(writer, "  - [%s] %s\n", r.Code, r.Message)
		if r.Suggestion != "" {
			fmt.Fprintf(writer, "    suggestion: %s\n", r.Suggestion)
		}
	}
}

// calculatePercentage calculates percentage with proper handling of division by zero
func (rg *ReportGenerator) calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// reportView is the filtered document written by the JSON and YAML formats
type reportView struct {
	BatchID     string                    `json:"batch_id"`
	StartedAt   time.Time                 `json:"started_at"`
	CompletedAt time.Time                 `json:"completed_at"`
	Persisted   bool                      `json:"persisted"`
	Stats       matcher.BatchStats        `json:"stats"`
	Outcomes    []*models.MatchOutcome    `json:"outcomes,omitempty"`
	Unmatched   []string                  `json:"unmatched,omitempty"`
	Conflicts   []matcher.Conflict        `json:"conflicts,omitempty"`
	Duplicates  []matcher.DuplicateGroup  `json:"duplicates,omitempty"`
	Processing  *pipeline.ProcessingStats `json:"processing,omitempty"`
	Stages      []logger.StageTiming      `json:"stages,omitempty"`
	Failures    *pipeline.FailureSnapshot `json:"failures,omitempty"`
}

// filterReportForOutput creates a filtered view based on configuration
func (rg *ReportGenerator) filterReportForOutput(report *pipeline.BatchReport) reportView {
	view := reportView{
		BatchID:     report.BatchID,
		StartedAt:   report.StartedAt,
		CompletedAt: report.CompletedAt,
		Persisted:   report.Persisted,
		Stats:       report.Stats,
	}

	rows := rg.ticketRows(report)
	for _, row := range rows {
		if row.Outcome != nil && rg.config.IncludeOutcomes {
			view.Outcomes = append(view.Outcomes, row.Outcome)
		}
		if row.Outcome == nil {
			view.Unmatched = append(view.Unmatched, row.TicketID)
		}
	}

	if report.Result != nil {
		if rg.config.IncludeConflicts {
			view.Conflicts = report.Result.Conflicts
		}
		if rg.config.IncludeDuplicates {
			view.Duplicates = report.Result.Duplicates
		}
	}

	if rg.config.IncludeProcessingStats {
		processing := report.Processing
		view.Processing = &processing
		view.Stages = report.Stages
	}

	if rg.config.IncludeFailures && report.Failures != nil {
		snap := report.Failures.Snapshot()
		view.Failures = &snap
	}

	return view
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	rg.config = config
	rg.styles = newTierStyles(config.UseColors)
	return nil
}

// GetConfiguration returns a copy of the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	configCopy := *rg.config
	return &configCopy
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, width int) string {
	if len(s) <= width {
		return s
	}
	return s[:width-3] + "..."
}
