package triage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ticket-reconciliation-service/internal/models"
	apperrors "ticket-reconciliation-service/pkg/errors"
)

// Repository persists match outcomes. Implementations must reject a second
// automatic outcome for the same ticket in the same batch.
type Repository interface {
	SaveOutcomes(ctx context.Context, outcomes []*models.MatchOutcome) error
	Get(ctx context.Context, id string) (*models.MatchOutcome, error)
	Update(ctx context.Context, outcome *models.MatchOutcome) error
	// ListByState returns outcomes oldest first.
	ListByState(ctx context.Context, state models.MatchState) ([]*models.MatchOutcome, error)
}

// MemoryRepository keeps outcomes in memory
type MemoryRepository struct {
	mu        sync.RWMutex
	outcomes  map[string]*models.MatchOutcome
	automatic map[string]string
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		outcomes:  make(map[string]*models.MatchOutcome),
		automatic: make(map[string]string),
	}
}

func automaticKey(o *models.MatchOutcome) string {
	return o.BatchID + "\x00" + o.TicketID
}

// SaveOutcomes stores all outcomes or none
func (r *MemoryRepository) SaveOutcomes(ctx context.Context, outcomes []*models.MatchOutcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool)
	for _, o := range outcomes {
		if err := o.Validate(); err != nil {
			return apperrors.StorageError(apperrors.CodeStorageFailed, "save outcomes", err)
		}
		if _, ok := r.outcomes[o.ID]; ok {
			return apperrors.StorageError(apperrors.CodeStorageFailed, "save outcomes",
				fmt.Errorf("outcome %s already exists", o.ID))
		}
		if o.Method != models.MethodAutomatic {
			continue
		}
		key := automaticKey(o)
		if _, ok := r.automatic[key]; ok || seen[key] {
			return apperrors.StorageError(apperrors.CodeStorageFailed, "save outcomes",
				fmt.Errorf("batch %s already has an automatic outcome for ticket %s", o.BatchID, o.TicketID))
		}
		seen[key] = true
	}

	for _, o := range outcomes {
		cp := *o
		r.outcomes[o.ID] = &cp
		if o.Method == models.MethodAutomatic {
			r.automatic[automaticKey(o)] = o.ID
		}
	}
	return nil
}

// Get returns a copy of the outcome with the given ID
func (r *MemoryRepository) Get(ctx context.Context, id string) (*models.MatchOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.outcomes[id]
	if !ok {
		return nil, apperrors.StorageError(apperrors.CodeNotFound, "outcome "+id, nil)
	}
	cp := *o
	return &cp, nil
}

// Update replaces a stored outcome
func (r *MemoryRepository) Update(ctx context.Context, outcome *models.MatchOutcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := outcome.Validate(); err != nil {
		return apperrors.StorageError(apperrors.CodeStorageFailed, "update outcome", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.outcomes[outcome.ID]; !ok {
		return apperrors.StorageError(apperrors.CodeNotFound, "outcome "+outcome.ID, nil)
	}
	cp := *outcome
	r.outcomes[outcome.ID] = &cp
	return nil
}

// ListByState returns copies of all outcomes in a state, oldest first
func (r *MemoryRepository) ListByState(ctx context.Context, state models.MatchState) ([]*models.MatchOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var list []*models.MatchOutcome
	for _, o := range r.outcomes {
		if o.State == state {
			cp := *o
			list = append(list, &cp)
		}
	}
	SortOldestFirst(list)
	return list, nil
}

// SortOldestFirst orders outcomes by creation time, then ID
func SortOldestFirst(outcomes []*models.MatchOutcome) {
	sort.SliceStable(outcomes, func(i, j int) bool {
		if !outcomes[i].CreatedAt.Equal(outcomes[j].CreatedAt) {
			return outcomes[i].CreatedAt.Before(outcomes[j].CreatedAt)
		}
		return outcomes[i].ID < outcomes[j].ID
	})
}
