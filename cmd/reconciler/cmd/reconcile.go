package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cliconfig "ticket-reconciliation-service/cmd/reconciler/config"
	"ticket-reconciliation-service/internal/document"
	"ticket-reconciliation-service/internal/models"
	"ticket-reconciliation-service/internal/parsers"
	"ticket-reconciliation-service/internal/pipeline"
	"ticket-reconciliation-service/internal/reporter"
	"ticket-reconciliation-service/internal/storage"
	"ticket-reconciliation-service/pkg/errors"
	"ticket-reconciliation-service/pkg/logger"
)

// Flags for the reconcile command
var (
	ledgerFile   string
	ledgerFormat string
	pageInputs   []string
	outputFormat string
	outputFile   string
	ocrEngine    string
	ocrLanguage  string
	batchID      string
	showProgress bool
	noColor      bool
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Match ledger tickets against scanned ticket images",
	Long: `Reconcile loads a ledger export and one or more scanned documents, splits
each page into ticket images, reads their identifiers and matches them to
ledger rows.

This command requires:
- A ledger file (CSV)
- One or more page files (PDF, PNG, JPEG, TIFF, BMP) or directories of them

Examples:
  # Basic reconciliation
  reconciler reconcile --ledger ledger.csv --pages scans/

  # Persist outcomes for the review queue
  reconciler reconcile --ledger ledger.csv --pages batch.pdf --db outcomes.db

  # Machine-readable output
  reconciler reconcile --ledger ledger.csv --pages scans/ \
    --output-format json --output-file report.json

  # Without an OCR installation
  reconciler reconcile --ledger ledger.csv --pages scans/ --ocr heuristic`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	// Input flags
	reconcileCmd.Flags().StringVarP(&ledgerFile, "ledger", "l", "", "path to the ledger CSV file (required)")
	reconcileCmd.Flags().StringVar(&ledgerFormat, "ledger-format", cliconfig.LedgerFormatAuto, "ledger layout: auto, standard, weighbridge, semicolon")
	reconcileCmd.Flags().StringSliceVarP(&pageInputs, "pages", "p", []string{}, "comma-separated page files or directories (required)")
	reconcileCmd.Flags().StringVar(&batchID, "batch-id", "", "batch identifier (default: generated)")

	// Output flags
	reconcileCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json, yaml, csv")
	reconcileCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")
	reconcileCmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored console output")

	// Recognition flags
	reconcileCmd.Flags().StringVar(&ocrEngine, "ocr", cliconfig.EngineTesseract, "text recognition engine: tesseract, heuristic")
	reconcileCmd.Flags().StringVar(&ocrLanguage, "lang", "eng", "OCR language")

	// UI flags
	reconcileCmd.Flags().BoolVar(&showProgress, "progress", false, "show a progress bar")

	// Mark required flags
	reconcileCmd.MarkFlagRequired("ledger")
	reconcileCmd.MarkFlagRequired("pages")

	// Bind flags to viper
	viper.BindPFlag("ledger", reconcileCmd.Flags().Lookup("ledger"))
	viper.BindPFlag("ledger-format", reconcileCmd.Flags().Lookup("ledger-format"))
	viper.BindPFlag("pages", reconcileCmd.Flags().Lookup("pages"))
	viper.BindPFlag("output-format", reconcileCmd.Flags().Lookup("output-format"))
	viper.BindPFlag("output-file", reconcileCmd.Flags().Lookup("output-file"))
	viper.BindPFlag("ocr", reconcileCmd.Flags().Lookup("ocr"))
	viper.BindPFlag("lang", reconcileCmd.Flags().Lookup("lang"))
	viper.BindPFlag("progress", reconcileCmd.Flags().Lookup("progress"))
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	// Get values from viper (allows override from config file)
	ledgerFile = viper.GetString("ledger")
	ledgerFormat = viper.GetString("ledger-format")
	pageInputs = viper.GetStringSlice("pages")
	outputFormat = viper.GetString("output-format")
	outputFile = viper.GetString("output-file")
	ocrEngine = viper.GetString("ocr")
	ocrLanguage = viper.GetString("lang")
	showProgress = viper.GetBool("progress")

	if ledgerFile == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "ledger", nil, nil)
	}
	if len(pageInputs) == 0 {
		return errors.ConfigurationError(errors.CodeMissingConfig, "pages", nil, nil)
	}

	if err := validateFileExists(ledgerFile, "ledger file"); err != nil {
		return err
	}

	if !reporter.OutputFormat(strings.ToLower(outputFormat)).IsValid() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", outputFormat, nil).
			WithSuggestion("Valid formats: console, json, yaml, csv")
	}

	// Validate output file directory exists if specified
	if outputFile != "" {
		dir := filepath.Dir(outputFile)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return errors.FileError(errors.CodeFileNotFound, dir, err).
					WithSuggestion("Create the output directory first")
			}
		}
	}

	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return errors.ValidationError(errors.CodeMissingField, description, filePath, nil)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, filePath, err)
	}
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err)
	}

	if info.IsDir() {
		return errors.FileError(errors.CodeUnsupportedFormat, filePath, fmt.Errorf("%s is a directory, expected a file", description))
	}

	// Check if file is readable
	file, err := os.Open(filePath)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err)
	}
	file.Close()

	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.GetGlobalLogger().WithComponent("cli")
	log.WithFields(logger.Fields{
		"ledger":        ledgerFile,
		"pages":         strings.Join(pageInputs, ", "),
		"output_format": outputFormat,
		"ocr":           ocrEngine,
	}).Debug("Starting reconciliation")

	cfg, err := cliconfig.CreatePipelineConfig(viper.GetString("profile"), viper.GetViper())
	if err != nil {
		return err
	}

	tickets, err := loadLedger(ctx, log)
	if err != nil {
		return err
	}

	paths, err := cliconfig.ResolveDocumentPaths(pageInputs)
	if err != nil {
		return err
	}
	pages, err := document.NewLoader().LoadAll(ctx, paths)
	if err != nil {
		return err
	}
	log.WithFields(logger.Fields{"files": len(paths), "pages": len(pages)}).Debug("Loaded documents")

	engine, err := cliconfig.CreateRecognizer(ocrEngine, ocrLanguage)
	if err != nil {
		return err
	}

	var opts []pipeline.Option
	if path := viper.GetString("db"); path != "" {
		store, err := storage.Open(ctx, path)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, pipeline.WithRepository(store))
	}

	processor := pipeline.NewProcessor(cfg, engine, opts...)
	if showProgress {
		bar := newPagesBar(len(pages), os.Stderr)
		processor.AddProgressCallback(func(p *pipeline.Progress) {
			bar.Describe(p.CurrentStep)
			_ = bar.Set(p.PagesProcessed)
		})
		defer func() { _ = bar.Finish() }()
	}

	report, err := processor.Run(ctx, pipeline.Request{
		BatchID: batchID,
		Tickets: tickets,
		Pages:   pages,
	})
	if err != nil {
		return err
	}

	return writeReport(report)
}

// loadLedger parses the ledger, logging rows that were skipped
func loadLedger(ctx context.Context, log logger.Logger) ([]*models.LedgerTicket, error) {
	format, err := cliconfig.CreateLedgerFormat(ledgerFormat, ledgerFile)
	if err != nil {
		return nil, err
	}

	parser, err := parsers.NewLedgerParser(format)
	if err != nil {
		return nil, err
	}

	tickets, stats, err := parser.ParseLedgerWithContext(ctx, ledgerFile)
	if err != nil {
		return nil, err
	}

	if stats.HasErrors() {
		log.WithFields(logger.Fields{
			"format":  format.Name,
			"skipped": stats.ErrorCount,
		}).Warn("Some ledger rows were skipped")
		for _, sample := range stats.GetSampleErrors(5) {
			log.Warn(sample)
		}
	}

	if len(tickets) == 0 {
		return nil, errors.ValidationError(errors.CodeMissingField, "ledger", ledgerFile, nil).
			WithSuggestion("The ledger has no usable ticket rows")
	}
	return tickets, nil
}

func newPagesBar(total int, w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan]Processing pages[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}),
	)
}

// writeReport renders the report to --output-file or stdout
func writeReport(report *pipeline.BatchReport) error {
	colors := !noColor && outputFile == ""
	reportConfig, err := cliconfig.CreateReportConfig(outputFormat, colors)
	if err != nil {
		return err
	}

	generator, err := reporter.NewSafeReportGenerator(reportConfig, logger.GetGlobalLogger())
	if err != nil {
		return err
	}

	var output *os.File
	if outputFile != "" {
		output, err = os.Create(outputFile)
		if err != nil {
			return errors.FileError(errors.CodeFilePermission, outputFile, err)
		}
		defer output.Close()
	} else {
		output = os.Stdout
	}

	return generator.GenerateReportSafely(report, output)
}
