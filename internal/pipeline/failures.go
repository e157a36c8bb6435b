package pipeline

import (
	"encoding/json"
	"sort"
	"sync"

	apperrors "ticket-reconciliation-service/pkg/errors"
)

// Failure counters
const (
	CounterPagesFailed      = "pages_failed"
	CounterImagesFailed     = "images_failed"
	CounterQualityFailed    = "quality_failed"
	CounterOCRLowConfidence = "ocr_low_confidence"
	CounterTicketsInvalid   = "tickets_invalid"
)

// FailureLog collects local failures during a batch. Every failure bumps a
// counter; only the first Limit are kept as records.
type FailureLog struct {
	mu       sync.Mutex
	limit    int
	records  []*apperrors.ReconcilerError
	counters map[string]int
	total    int
}

// NewFailureLog creates a log that keeps at most limit records
func NewFailureLog(limit int) *FailureLog {
	return &FailureLog{
		limit:    max(0, limit),
		records:  []*apperrors.ReconcilerError{},
		counters: make(map[string]int),
	}
}

// Record counts a failure under counter and keeps err while under the limit
func (f *FailureLog) Record(counter string, err *apperrors.ReconcilerError) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.counters[counter]++
	f.total++
	if err != nil && len(f.records) < f.limit {
		f.records = append(f.records, err)
	}
}

// Count returns the value of one counter
func (f *FailureLog) Count(counter string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters[counter]
}

// Counters returns a copy of all counters
func (f *FailureLog) Counters() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]int, len(f.counters))
	for k, v := range f.counters {
		out[k] = v
	}
	return out
}

// Records returns the kept failure records in arrival order
func (f *FailureLog) Records() []*apperrors.ReconcilerError {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*apperrors.ReconcilerError(nil), f.records...)
}

// Total returns the number of failures seen, kept or not
func (f *FailureLog) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

// Dropped returns how many failures were counted but not kept
func (f *FailureLog) Dropped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total - len(f.records)
}

// Summary summarises the kept records
func (f *FailureLog) Summary() *apperrors.ErrorSummary {
	return apperrors.NewErrorSummary(f.Records())
}

// CounterNames returns counter names in sorted order
func (f *FailureLog) CounterNames() []string {
	counters := f.Counters()
	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FailureSnapshot is the serialized form of a FailureLog
type FailureSnapshot struct {
	Total    int             `json:"total" yaml:"total"`
	Dropped  int             `json:"dropped" yaml:"dropped"`
	Counters map[string]int  `json:"counters" yaml:"counters"`
	Records  []FailureRecord `json:"records" yaml:"records"`
}

// FailureRecord is one kept failure without its stack trace
type FailureRecord struct {
	Category   apperrors.ErrorCategory `json:"category" yaml:"category"`
	Code       apperrors.ErrorCode     `json:"code" yaml:"code"`
	Message    string                  `json:"message" yaml:"message"`
	Suggestion string                  `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
	Context    map[string]interface{}  `json:"context,omitempty" yaml:"context,omitempty"`
}

// Snapshot returns a serializable copy of the log
func (f *FailureLog) Snapshot() FailureSnapshot {
	records := f.Records()
	snap := FailureSnapshot{
		Total:    f.Total(),
		Dropped:  f.Dropped(),
		Counters: f.Counters(),
		Records:  make([]FailureRecord, len(records)),
	}
	for i, r := range records {
		snap.Records[i] = FailureRecord{
			Category:   r.Category,
			Code:       r.Code,
			Message:    r.Message,
			Suggestion: r.Suggestion,
			Context:    r.Context,
		}
	}
	return snap
}

// MarshalJSON encodes the snapshot
func (f *FailureLog) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Snapshot())
}

// MarshalYAML encodes the snapshot
func (f *FailureLog) MarshalYAML() (interface{}, error) {
	return f.Snapshot(), nil
}
