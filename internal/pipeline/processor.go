// Package pipeline runs a reconciliation batch end to end.
//
// A batch moves through four steps:
//  1. Page processing: every page is segmented into ticket regions, each
//     region passes the quality gate and valid regions are recognized
//  2. Matching: every ledger ticket is scored against every candidate
//     image and conflicting claims are resolved
//  3. Triage: the best candidate of each ticket becomes an automatic outcome
//  4. Persistence: outcomes are saved when a repository is configured
//
// Failures in one page, image or ticket are recorded in the FailureLog and
// never abort the batch. Only context cancellation and repository errors
// stop a run.
//
// Example usage:
//
//	proc := pipeline.NewProcessor(cfg, tesseract.New("eng"), pipeline.WithRepository(store))
//	proc.AddProgressCallback(func(p *pipeline.Progress) {
//		fmt.Printf("%.0f%% %s\n", p.PercentComplete, p.CurrentStep)
//	})
//	report, err := proc.Run(ctx, pipeline.Request{Tickets: tickets, Pages: pages})
package pipeline

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ticket-reconciliation-service/internal/config"
	"ticket-reconciliation-service/internal/matcher"
	"ticket-reconciliation-service/internal/models"
	"ticket-reconciliation-service/internal/quality"
	"ticket-reconciliation-service/internal/recognition"
	"ticket-reconciliation-service/internal/segment"
	"ticket-reconciliation-service/internal/triage"
	apperrors "ticket-reconciliation-service/pkg/errors"
	"ticket-reconciliation-service/pkg/logger"
)

// Processor wires the pipeline components together
type Processor struct {
	cfg        *config.Config
	segmenter  *segment.Segmenter
	gate       *quality.Gate
	recognizer *recognition.Recognizer
	matcher    *matcher.BatchMatcher
	policy     *triage.Policy
	repo       triage.Repository
	clock      func() time.Time
	logger     logger.Logger

	progressCallbacks []ProgressCallback
	currentProgress   *Progress
	progressMutex     sync.Mutex
}

// Option configures a Processor
type Option func(*Processor)

// WithRepository persists outcomes at the end of each run
func WithRepository(repo triage.Repository) Option {
	return func(p *Processor) {
		p.repo = repo
	}
}

// WithClock overrides the time source used for outcome timestamps
func WithClock(clock func() time.Time) Option {
	return func(p *Processor) {
		p.clock = clock
	}
}

// NewProcessor creates a processor. A nil engine recognizes in heuristic
// mode: images are measured but no identifier is read.
func NewProcessor(cfg *config.Config, engine recognition.TextRecognizer, opts ...Option) *Processor {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	p := &Processor{
		cfg:             cfg,
		segmenter:       segment.New(cfg),
		gate:            quality.NewGate(cfg),
		recognizer:      recognition.NewRecognizer(cfg, engine),
		matcher:         matcher.NewBatchMatcher(cfg),
		policy:          triage.NewPolicy(cfg),
		clock:           func() time.Time { return time.Now().UTC() },
		logger:          logger.GetGlobalLogger().WithComponent("pipeline"),
		currentProgress: &Progress{TotalSteps: totalSteps},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessingStats counts what page processing produced
type ProcessingStats struct {
	Pages            int           `json:"pages" yaml:"pages"`
	PagesFailed      int           `json:"pages_failed" yaml:"pages_failed"`
	Images           int           `json:"images" yaml:"images"`
	ValidImages      int           `json:"valid_images" yaml:"valid_images"`
	Recognized       int           `json:"recognized" yaml:"recognized"`
	QualityFailed    int           `json:"quality_failed" yaml:"quality_failed"`
	ImagesFailed     int           `json:"images_failed" yaml:"images_failed"`
	OCRLowConfidence int           `json:"ocr_low_confidence" yaml:"ocr_low_confidence"`
	Engine           string        `json:"engine" yaml:"engine"`
	Duration         time.Duration `json:"duration" yaml:"duration"`
}

// PageResult is the output of page processing
type PageResult struct {
	Images   []*models.CandidateImage
	Stats    ProcessingStats
	Failures *FailureLog
}

// ProcessPages segments, gates and recognizes every page. Pages run in
// parallel; images come back in page then region order.
func (p *Processor) ProcessPages(ctx context.Context, pages []models.Page) (*PageResult, error) {
	return p.processPages(ctx, pages, NewFailureLog(p.cfg.Pipeline.MaxRecordedFailures))
}

func (p *Processor) processPages(ctx context.Context, pages []models.Page, failures *FailureLog) (*PageResult, error) {
	start := time.Now()
	perPage := make([][]*models.CandidateImage, len(pages))

	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "process pages",
		Total:     int64(len(pages)),
		Logger:    p.logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, p.cfg.Pipeline.Workers))
	for i, page := range pages {
		i, page := i, page
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			images, err := p.processPage(gctx, page, failures)
			if err != nil {
				return err
			}
			perPage[i] = images
			done := tracker.Increment()
			p.reportPages(int(done), len(pages))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	tracker.Complete()

	result := &PageResult{Failures: failures}
	for _, images := range perPage {
		result.Images = append(result.Images, images...)
	}

	stats := ProcessingStats{
		Pages:            len(pages),
		Images:           len(result.Images),
		PagesFailed:      failures.Count(CounterPagesFailed),
		QualityFailed:    failures.Count(CounterQualityFailed),
		ImagesFailed:     failures.Count(CounterImagesFailed),
		OCRLowConfidence: failures.Count(CounterOCRLowConfidence),
		Engine:           p.recognizer.Engine(),
		Duration:         time.Since(start),
	}
	for _, img := range result.Images {
		if img.Valid {
			stats.ValidImages++
		}
		if img.Identifier.IsSome() {
			stats.Recognized++
		}
	}
	result.Stats = stats

	p.logger.WithFields(logger.Fields{
		"pages":          stats.Pages,
		"images":         stats.Images,
		"valid_images":   stats.ValidImages,
		"recognized":     stats.Recognized,
		"quality_failed": stats.QualityFailed,
	}).Info("Pages processed")

	return result, nil
}

// processPage returns the candidate images of one page. Segmentation
// failures are recorded and yield no images.
func (p *Processor) processPage(ctx context.Context, page models.Page, failures *FailureLog) ([]*models.CandidateImage, error) {
	regions, err := p.segmenter.Split(page)
	if err != nil {
		rerr := apperrors.WrapIfNeeded(err, apperrors.CategoryImage, apperrors.CodeImageProcessingFailed, "segmentation failed")
		failures.Record(CounterPagesFailed, rerr.WithContext("source", page.Source))
		p.logger.WithError(err).WithField("page", page.Index).Warn("Page skipped")
		return nil, nil
	}

	images := make([]*models.CandidateImage, 0, len(regions))
	for _, region := range regions {
		img := &models.CandidateImage{
			ID:          models.CandidateID(page.Index, region.Index),
			PageIndex:   page.Index,
			RegionIndex: region.Index,
			Source:      page.Source,
			Bounds:      region.Bounds,
			Pixels:      region.Image,
			DPI:         page.DPI,
		}
		if err := p.processImage(ctx, img, failures); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

// processImage gates and recognizes one image. Invalid images are not
// sent to recognition.
func (p *Processor) processImage(ctx context.Context, img *models.CandidateImage, failures *FailureLog) error {
	q := p.gate.Validate(img.Pixels, img.DPI)
	img.Quality = q.Metrics
	img.Warnings = append(img.Warnings, q.Warnings...)
	if !q.Valid {
		img.Reject(q.Reason())
		failures.Record(CounterQualityFailed, apperrors.QualityError(img.ID, q.Errors))
		return nil
	}
	img.Valid = true

	res := p.recognizer.Recognize(ctx, img.Pixels, q.Metrics)
	if res.Mode == recognition.ModeFailed {
		if err := ctx.Err(); err != nil {
			return err
		}
		failures.Record(CounterImagesFailed,
			apperrors.RecognitionError(apperrors.CodeOCRFailed, img.ID, 0, res.Err))
		failures.Record(CounterOCRLowConfidence,
			apperrors.RecognitionError(apperrors.CodeOCRLowConfidence, img.ID, 0, res.Err).
				WithContext("mode", string(res.Mode)))
		img.Identifier = models.None[string]()
		img.OCRConfidence = 0
		img.Warnings = append(img.Warnings, "text recognition failed", "low recognition confidence")
		return nil
	}

	img.Identifier = res.Identifier
	img.OCRConfidence = res.Confidence
	img.Date = res.Evidence.Date
	img.Reference = res.Evidence.Reference
	img.Weight = res.Evidence.Weight

	if res.LowConfidence(p.cfg.Recognition.LowConfidence) {
		failures.Record(CounterOCRLowConfidence,
			apperrors.RecognitionError(apperrors.CodeOCRLowConfidence, img.ID, res.Confidence, nil).
				WithContext("mode", string(res.Mode)))
		img.Warnings = append(img.Warnings, "low recognition confidence")
	}
	return nil
}
