package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ticket-reconciliation-service/internal/matcher"
	"ticket-reconciliation-service/internal/models"
	apperrors "ticket-reconciliation-service/pkg/errors"
	"ticket-reconciliation-service/pkg/logger"
)

// Request is one batch to reconcile
type Request struct {
	// BatchID is generated when empty.
	BatchID string
	Tickets []*models.LedgerTicket
	Pages   []models.Page
}

// BatchReport is everything a run produced
type BatchReport struct {
	BatchID     string                   `json:"batch_id" yaml:"batch_id"`
	StartedAt   time.Time                `json:"started_at" yaml:"started_at"`
	CompletedAt time.Time                `json:"completed_at" yaml:"completed_at"`
	Tickets     []*models.LedgerTicket   `json:"-" yaml:"-"`
	Images      []*models.CandidateImage `json:"images" yaml:"-"`
	Result      *matcher.BatchResult     `json:"result" yaml:"-"`
	Outcomes    []*models.MatchOutcome   `json:"outcomes" yaml:"outcomes"`
	Stats       matcher.BatchStats       `json:"stats" yaml:"stats"`
	Processing  ProcessingStats          `json:"processing" yaml:"processing"`
	Failures    *FailureLog              `json:"failures" yaml:"failures"`
	Stages      []logger.StageTiming     `json:"stages" yaml:"stages"`
	Persisted   bool                     `json:"persisted" yaml:"persisted"`
}

// Run reconciles one batch. Invalid tickets and failing pages are recorded
// and skipped; the run fails only on cancellation or a repository error.
func (p *Processor) Run(ctx context.Context, req Request) (*BatchReport, error) {
	batchID := req.BatchID
	if batchID == "" {
		batchID = uuid.NewString()
	}

	report := &BatchReport{
		BatchID:   batchID,
		StartedAt: p.clock(),
		Failures:  NewFailureLog(p.cfg.Pipeline.MaxRecordedFailures),
	}

	op := logger.NewOperationLogger("reconcile batch", p.logger).
		With("batch_id", batchID).
		With("tickets", len(req.Tickets)).
		With("pages", len(req.Pages))

	p.initializeProgress(len(req.Pages))

	p.updateProgress("Validating tickets", 0)
	report.Tickets = p.validTickets(req.Tickets, report.Failures)
	op.Stage("validate")

	p.updateProgress("Processing pages", 1)
	pages, err := p.processPages(ctx, req.Pages, report.Failures)
	if err != nil {
		op.Error(err, "Page processing aborted")
		return nil, err
	}
	report.Images = pages.Images
	report.Processing = pages.Stats
	op.Stage("pages")

	p.updateProgress("Matching tickets", 2)
	result, err := p.matcher.Match(ctx, report.Tickets, report.Images)
	if err != nil {
		op.Error(err, "Matching aborted")
		return nil, err
	}
	report.Result = result
	report.Stats = result.Stats
	op.Stage("match")

	p.updateProgress("Classifying outcomes", 3)
	report.Outcomes = p.policy.Outcomes(batchID, result, report.StartedAt)
	p.setMatches(report.Stats.AutoAccepted)
	op.Stage("triage")

	if p.repo != nil {
		p.updateProgress("Saving outcomes", 4)
		if err := p.repo.SaveOutcomes(ctx, report.Outcomes); err != nil {
			op.Error(err, "Saving outcomes failed")
			return nil, err
		}
		report.Persisted = true
		op.Stage("persist")
	}

	report.CompletedAt = p.clock()
	report.Stages = op.Stages()
	p.updateProgress("Completed", totalSteps)

	op.With("auto_accepted", report.Stats.AutoAccepted).
		With("needs_review", report.Stats.NeedsReview).
		With("failures", report.Failures.Total()).
		Success("Batch reconciled")

	return report, nil
}

// validTickets drops tickets that fail validation or repeat an ID
func (p *Processor) validTickets(tickets []*models.LedgerTicket, failures *FailureLog) []*models.LedgerTicket {
	valid := make([]*models.LedgerTicket, 0, len(tickets))
	seen := make(map[string]bool, len(tickets))
	for i, t := range tickets {
		if t == nil {
			continue
		}
		err := t.Validate()
		if err == nil && seen[t.ID] {
			err = fmt.Errorf("duplicate ticket ID %s", t.ID)
		}
		if err != nil {
			failures.Record(CounterTicketsInvalid,
				apperrors.ValidationError(apperrors.CodeInvalidData, "ticket", t.ID, err).
					WithContext("position", i))
			continue
		}
		seen[t.ID] = true
		valid = append(valid, t)
	}
	return valid
}
