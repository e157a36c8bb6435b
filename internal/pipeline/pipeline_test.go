package pipeline

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-reconciliation-service/internal/config"
	"ticket-reconciliation-service/internal/models"
	"ticket-reconciliation-service/internal/recognition"
	"ticket-reconciliation-service/internal/synth"
	"ticket-reconciliation-service/internal/triage"
	apperrors "ticket-reconciliation-service/pkg/errors"
)

// scriptedEngine returns one scripted token list per call
type scriptedEngine struct {
	mu     sync.Mutex
	script [][]recognition.Token
	err    error
	calls  int
}

func (e *scriptedEngine) Name() string { return "scripted" }

func (e *scriptedEngine) Recognize(ctx context.Context, img image.Image) ([]recognition.Token, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	if len(e.script) == 0 {
		return nil, nil
	}
	tokens := e.script[0]
	e.script = e.script[1:]
	return tokens, nil
}

func words(conf float64, texts ...string) []recognition.Token {
	tokens := make([]recognition.Token, len(texts))
	for i, t := range texts {
		tokens[i] = recognition.Token{Text: t, Confidence: conf}
	}
	return tokens
}

func twoTicketPage(index int) models.Page {
	img := synth.RenderPage(1240, 1754,
		synth.Ticket{Identifier: "T10234", Date: "15/01/2023", NetWeight: "10.50"},
		synth.Ticket{Identifier: "T10235", Date: "15/01/2023"},
	)
	return models.Page{Index: index, Source: "scan.pdf", Image: img, DPI: models.Some(models.UniformDPI(150))}
}

func ledger() []*models.LedgerTicket {
	jan15 := models.Some(time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC))

	l1 := models.NewLedgerTicket("L001", "T10234")
	l1.EntryDate = jan15
	l1.NetWeight = models.Some(decimal.RequireFromString("10.5"))

	l2 := models.NewLedgerTicket("L002", "T10235")
	l2.EntryDate = jan15
	l2.NetWeight = models.Some(decimal.RequireFromString("8.20"))

	l3 := models.NewLedgerTicket("L003", "Q55555")

	return []*models.LedgerTicket{l1, l2, l3}
}

func sequentialConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Pipeline.Workers = 1
	return cfg
}

func TestRunEndToEnd(t *testing.T) {
	engine := &scriptedEngine{script: [][]recognition.Token{
		words(70, "WEIGHBRIDGE", "TICKET", "TICKET", "NO", "T10234", "DATE", "15/01/2023", "NET", "10.50", "T"),
		words(70, "WEIGHBRIDGE", "TICKET", "TICKET", "NO", "T1O235", "DATE", "15/01/2023"),
	}}
	repo := triage.NewMemoryRepository()
	fixed := time.Date(2023, 1, 16, 8, 0, 0, 0, time.UTC)

	proc := NewProcessor(sequentialConfig(), engine, WithRepository(repo), WithClock(func() time.Time { return fixed }))

	var steps []string
	var last Progress
	proc.AddProgressCallback(func(p *Progress) {
		steps = append(steps, p.CurrentStep)
		last = *p
	})

	tickets := append(ledger(),
		&models.LedgerTicket{ID: ""},
		models.NewLedgerTicket("L001", "DUP"),
	)
	pages := []models.Page{
		twoTicketPage(0),
		{Index: 1, Source: "scan.pdf", Image: synth.Blank(1240, 1754, 255)},
		{Index: 2, Source: "scan.pdf"},
	}

	report, err := proc.Run(context.Background(), Request{BatchID: "batch-1", Tickets: tickets, Pages: pages})
	require.NoError(t, err)

	assert.Equal(t, "batch-1", report.BatchID)
	assert.Equal(t, fixed, report.StartedAt)
	assert.Len(t, report.Tickets, 3)
	assert.Equal(t, 2, engine.calls)

	// Page processing
	require.Len(t, report.Images, 2)
	assert.Equal(t, "p000-r0", report.Images[0].ID)
	assert.Equal(t, "p000-r1", report.Images[1].ID)
	for _, img := range report.Images {
		assert.True(t, img.Valid, "image %s should pass the quality gate: %s", img.ID, img.RejectionReason)
	}
	assert.Equal(t, models.Some("T10234"), report.Images[0].Identifier)
	assert.Equal(t, models.Some("T1O235"), report.Images[1].Identifier)
	assert.True(t, report.Images[0].Weight.IsSome())

	assert.Equal(t, 3, report.Processing.Pages)
	assert.Equal(t, 2, report.Processing.PagesFailed)
	assert.Equal(t, 2, report.Processing.Recognized)
	assert.Equal(t, "scripted", report.Processing.Engine)

	// Local failures never abort the batch
	assert.Equal(t, 2, report.Failures.Count(CounterPagesFailed))
	assert.Equal(t, 2, report.Failures.Count(CounterTicketsInvalid))
	assert.Equal(t, 0, report.Failures.Count(CounterOCRLowConfidence))
	summary := report.Failures.Summary()
	assert.True(t, summary.HasCode(apperrors.CodeNoTicketsDetected))
	assert.True(t, summary.HasCode(apperrors.CodeImageProcessingFailed))

	// Matching and conflict resolution
	stats := report.Stats
	assert.Equal(t, 3, stats.TotalTickets)
	assert.Equal(t, 2, stats.AutoAccepted)
	assert.Equal(t, 1, stats.Unmatched)
	assert.Equal(t, 2, stats.ContestedImages)

	best := map[string]string{}
	for _, tc := range report.Result.Tickets {
		if b := tc.Best(); b != nil {
			best[b.TicketID] = b.ImageID
		}
	}
	assert.Equal(t, map[string]string{"L001": "p000-r0", "L002": "p000-r1"}, best)

	// Triage and persistence
	require.Len(t, report.Outcomes, 2)
	assert.True(t, report.Persisted)
	saved, err := repo.ListByState(context.Background(), models.StateAutoAccepted)
	require.NoError(t, err)
	assert.Len(t, saved, 2)
	for _, o := range saved {
		assert.Equal(t, "batch-1", o.BatchID)
		assert.Equal(t, models.MethodAutomatic, o.Method)
	}

	// Progress
	assert.Contains(t, steps, "Processing pages")
	assert.Contains(t, steps, "Saving outcomes")
	assert.Equal(t, "Completed", last.CurrentStep)
	assert.Equal(t, 100.0, last.PercentComplete)
	assert.Equal(t, 3, last.PagesProcessed)
	assert.Equal(t, 2, last.MatchesFound)

	assert.NotEmpty(t, report.Stages)
}

func TestProcessPagesSkipsRecognitionForInvalidImages(t *testing.T) {
	engine := &scriptedEngine{}
	proc := NewProcessor(config.DefaultConfig(), engine)

	page := twoTicketPage(0)
	page.DPI = models.None[models.DPI]()

	result, err := proc.ProcessPages(context.Background(), []models.Page{page})
	require.NoError(t, err)

	require.Len(t, result.Images, 2)
	assert.Equal(t, 0, engine.calls)
	assert.Equal(t, 2, result.Stats.QualityFailed)
	assert.Equal(t, 0, result.Stats.ValidImages)
	for _, img := range result.Images {
		assert.False(t, img.Valid)
		reason, ok := img.RejectionReason.Get()
		assert.True(t, ok)
		assert.Contains(t, reason, "DPI")
	}
	assert.True(t, result.Failures.Summary().HasCode(apperrors.CodeQualityFailed))
}

func TestProcessPagesRecognitionFailure(t *testing.T) {
	engine := &scriptedEngine{err: errors.New("engine crashed")}
	proc := NewProcessor(config.DefaultConfig(), engine)

	result, err := proc.ProcessPages(context.Background(), []models.Page{twoTicketPage(0)})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Stats.ImagesFailed)
	assert.Equal(t, 2, result.Stats.OCRLowConfidence)
	assert.Equal(t, 2, result.Stats.ValidImages)
	assert.Equal(t, 0, result.Stats.Recognized)
	require.Len(t, result.Images, 2)
	for _, img := range result.Images {
		assert.True(t, img.Identifier.IsNone())
		assert.Equal(t, 0.0, img.OCRConfidence)
		assert.Contains(t, img.Warnings, "text recognition failed")
		assert.Contains(t, img.Warnings, "low recognition confidence")
	}
	summary := result.Failures.Summary()
	assert.True(t, summary.HasCode(apperrors.CodeOCRFailed))
	assert.True(t, summary.HasCode(apperrors.CodeOCRLowConfidence))
}

func TestProcessPagesLowConfidence(t *testing.T) {
	engine := &scriptedEngine{script: [][]recognition.Token{
		words(40, "T10234"),
		words(40, "T10235"),
	}}
	proc := NewProcessor(sequentialConfig(), engine)

	result, err := proc.ProcessPages(context.Background(), []models.Page{twoTicketPage(0)})
	require.NoError(t, err)

	// 40 + 5 + 10 + 5 = 60, below the 80 threshold
	assert.Equal(t, 2, result.Stats.OCRLowConfidence)
	assert.Equal(t, 2, result.Stats.Recognized)
	assert.Equal(t, 60.0, result.Images[0].OCRConfidence)
	assert.Contains(t, result.Images[0].Warnings, "low recognition confidence")
}

func TestProcessPagesHeuristicMode(t *testing.T) {
	proc := NewProcessor(config.DefaultConfig(), nil)

	pages := []models.Page{twoTicketPage(0), twoTicketPage(1), twoTicketPage(2)}
	result, err := proc.ProcessPages(context.Background(), pages)
	require.NoError(t, err)

	require.Len(t, result.Images, 6)
	for i, img := range result.Images {
		assert.Equal(t, models.CandidateID(i/2, i%2), img.ID, "images keep page then region order")
		assert.True(t, img.Identifier.IsNone())
		assert.Greater(t, img.OCRConfidence, 0.0)
	}
	assert.Equal(t, "heuristic", result.Stats.Engine)
	assert.Equal(t, 6, result.Stats.ValidImages)
}

func TestRunCancelled(t *testing.T) {
	proc := NewProcessor(config.DefaultConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := proc.Run(ctx, Request{Tickets: ledger(), Pages: []models.Page{twoTicketPage(0)}})
	assert.ErrorIs(t, err, context.Canceled)
}

type failingRepository struct {
	triage.Repository
}

func (failingRepository) SaveOutcomes(ctx context.Context, outcomes []*models.MatchOutcome) error {
	return apperrors.StorageError(apperrors.CodeStorageFailed, "save outcomes", errors.New("disk full"))
}

func TestRunRepositoryFailure(t *testing.T) {
	engine := &scriptedEngine{script: [][]recognition.Token{words(90, "T10234"), words(90, "T10235")}}
	proc := NewProcessor(sequentialConfig(), engine, WithRepository(failingRepository{}))

	_, err := proc.Run(context.Background(), Request{Tickets: ledger(), Pages: []models.Page{twoTicketPage(0)}})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStorageFailed))
}

func TestRunGeneratesBatchID(t *testing.T) {
	proc := NewProcessor(config.DefaultConfig(), nil)

	report, err := proc.Run(context.Background(), Request{Tickets: ledger()})
	require.NoError(t, err)
	assert.NotEmpty(t, report.BatchID)
	assert.Equal(t, 3, report.Stats.Unmatched)
	assert.Empty(t, report.Outcomes)
	assert.False(t, report.Persisted)
}

func TestFailureLog(t *testing.T) {
	log := NewFailureLog(10)
	for i := 0; i < 15; i++ {
		log.Record(CounterQualityFailed, apperrors.QualityError(models.CandidateID(i, 0), []string{"contrast too low"}))
	}
	log.Record(CounterImagesFailed, nil)

	assert.Equal(t, 16, log.Total())
	assert.Len(t, log.Records(), 10)
	assert.Equal(t, 6, log.Dropped())
	assert.Equal(t, map[string]int{CounterQualityFailed: 15, CounterImagesFailed: 1}, log.Counters())
	assert.Equal(t, []string{CounterImagesFailed, CounterQualityFailed}, log.CounterNames())

	snap := log.Snapshot()
	require.Len(t, snap.Records, 10)
	assert.Equal(t, apperrors.CodeQualityFailed, snap.Records[0].Code)
	assert.Equal(t, "p000-r0", snap.Records[0].Context["image_id"])
}
