// Package matcher scores ledger tickets against candidate ticket images,
// ranks the candidates for each ticket and resolves images claimed by
// more than one ticket.
package matcher

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"ticket-reconciliation-service/internal/config"
	"ticket-reconciliation-service/internal/models"
	apperrors "ticket-reconciliation-service/pkg/errors"
	"ticket-reconciliation-service/pkg/logger"
)

// MatchCandidate pairs one ledger ticket with one image. Confidence starts
// as the score confidence and is only changed by conflict resolution.
type MatchCandidate struct {
	Ticket     *models.LedgerTicket   `json:"-"`
	Image      *models.CandidateImage `json:"-"`
	TicketID   string                 `json:"ticket_id"`
	ImageID    string                 `json:"image_id"`
	Score      MatchScore             `json:"score"`
	Confidence float64                `json:"confidence"`
	Reasons    []string               `json:"reasons"`
	Flagged    bool                   `json:"flagged"`

	autoAcceptAt float64
	rejectBelow  float64
}

// IsAutoAccept reports whether the candidate is confident enough to accept
func (c *MatchCandidate) IsAutoAccept() bool {
	return c.Confidence >= c.autoAcceptAt
}

// NeedsReview reports whether the candidate needs a human decision
func (c *MatchCandidate) NeedsReview() bool {
	return c.Confidence >= c.rejectBelow && c.Confidence < c.autoAcceptAt
}

// IsReject reports whether the candidate is too weak to consider
func (c *MatchCandidate) IsReject() bool {
	return c.Confidence < c.rejectBelow
}

// Reason joins the candidate's reasons
func (c *MatchCandidate) Reason() string {
	return strings.Join(c.Reasons, "; ")
}

func (c *MatchCandidate) clone() *MatchCandidate {
	cp := *c
	cp.Reasons = append([]string(nil), c.Reasons...)
	return &cp
}

// TicketCandidates is one ticket's ranked candidates, best first
type TicketCandidates struct {
	Ticket *models.LedgerTicket `json:"-"`
	// Position is the ticket's index in the ledger.
	Position   int               `json:"position"`
	Candidates []*MatchCandidate `json:"candidates"`
}

// Best returns the highest ranked candidate or nil
func (tc TicketCandidates) Best() *MatchCandidate {
	if len(tc.Candidates) == 0 {
		return nil
	}
	return tc.Candidates[0]
}

// BatchResult is the resolved outcome of matching one batch
type BatchResult struct {
	Tickets    []TicketCandidates `json:"tickets"`
	Conflicts  []Conflict         `json:"conflicts"`
	Duplicates []DuplicateGroup   `json:"duplicates"`
	Stats      BatchStats         `json:"stats"`
}

// BatchMatcher runs the scoring engine over a whole batch
type BatchMatcher struct {
	cfg    *config.Config
	scorer *ScoringEngine
	logger logger.Logger
}

// NewBatchMatcher creates a batch matcher
func NewBatchMatcher(cfg *config.Config) *BatchMatcher {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &BatchMatcher{
		cfg:    cfg,
		scorer: NewScoringEngine(cfg),
		logger: logger.GetGlobalLogger().WithComponent("matcher"),
	}
}

// Scorer returns the underlying scoring engine
func (bm *BatchMatcher) Scorer() *ScoringEngine {
	return bm.scorer
}

// Match scores every ticket against every image, ranks each ticket's
// candidates and resolves conflicting claims. Tickets are scored in
// parallel; conflict resolution runs once all rankings are complete.
func (bm *BatchMatcher) Match(ctx context.Context, tickets []*models.LedgerTicket, images []*models.CandidateImage) (*BatchResult, error) {
	ranked := make([]TicketCandidates, len(tickets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, bm.cfg.Pipeline.Workers))
	for i, ticket := range tickets {
		i, ticket := i, ticket
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ranked[i] = bm.rankTicket(i, ticket, images)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperrors.MatchingError(apperrors.CodeMatchingFailed, "rank candidates", err)
	}

	resolved, conflicts := ResolveConflicts(ranked, bm.cfg)
	result := &BatchResult{
		Tickets:    resolved,
		Conflicts:  conflicts,
		Duplicates: append(DetectDuplicateTickets(tickets), DetectDuplicateImages(images)...),
		Stats:      CalculateStats(resolved, conflicts, images),
	}

	bm.logger.WithFields(logger.Fields{
		"tickets":       len(tickets),
		"images":        len(images),
		"auto_accepted": result.Stats.AutoAccepted,
		"needs_review":  result.Stats.NeedsReview,
		"unmatched":     result.Stats.Unmatched,
		"conflicts":     len(conflicts),
	}).Info("Batch matched")

	return result, nil
}

// FindMatches scores one ticket against the images and returns the
// candidates above the noise floor, best first, without conflict resolution.
func (bm *BatchMatcher) FindMatches(ticket *models.LedgerTicket, images []*models.CandidateImage) []*MatchCandidate {
	return bm.rankTicket(0, ticket, images).Candidates
}

func (bm *BatchMatcher) rankTicket(position int, ticket *models.LedgerTicket, images []*models.CandidateImage) TicketCandidates {
	tc := TicketCandidates{Ticket: ticket, Position: position, Candidates: []*MatchCandidate{}}

	for _, image := range images {
		candidate := bm.newCandidate(ticket, image)
		if candidate.Confidence < bm.cfg.Matching.NoiseFloor {
			continue
		}
		tc.Candidates = append(tc.Candidates, candidate)
	}

	sortCandidates(tc.Candidates)
	return tc
}

func (bm *BatchMatcher) newCandidate(ticket *models.LedgerTicket, image *models.CandidateImage) *MatchCandidate {
	score := bm.scorer.Score(ticket, image)
	return &MatchCandidate{
		Ticket:       ticket,
		Image:        image,
		TicketID:     ticket.ID,
		ImageID:      image.ID,
		Score:        score,
		Confidence:   score.Confidence(),
		Reasons:      append([]string(nil), score.Reasons...),
		autoAcceptAt: bm.cfg.Triage.AutoAcceptThreshold,
		rejectBelow:  bm.cfg.Triage.RejectThreshold,
	}
}

// sortCandidates orders by confidence, highest first, then by image ID
func sortCandidates(candidates []*MatchCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].ImageID < candidates[j].ImageID
	})
}
