package logger

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ProgressTracker counts completed units of a long-running stage and logs
// a progress line every LogEvery units.
type ProgressTracker struct {
	logger    Logger
	operation string
	total     int64
	current   int64
	logEvery  int64
	startTime time.Time
	mutex     sync.Mutex
}

// ProgressConfig configures progress tracking behavior
type ProgressConfig struct {
	Operation string
	Total     int64
	LogEvery  int64
	Logger    Logger
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.LogEvery <= 0 {
		config.LogEvery = 10
	}

	tracker := &ProgressTracker{
		logger:    config.Logger.WithComponent("progress"),
		operation: config.Operation,
		total:     config.Total,
		logEvery:  config.LogEvery,
		startTime: time.Now(),
	}

	tracker.logger.WithFields(Fields{
		"operation": config.Operation,
		"total":     config.Total,
	}).Debug("Starting operation")

	return tracker
}

// Increment records one completed unit. Safe for concurrent use.
func (p *ProgressTracker) Increment() int64 {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.current++
	if p.current%p.logEvery == 0 || p.current == p.total {
		fields := Fields{
			"operation": p.operation,
			"processed": p.current,
		}
		if p.total > 0 {
			fields["total"] = p.total
			fields["percentage"] = fmt.Sprintf("%.1f%%", float64(p.current)/float64(p.total)*100)
		}
		p.logger.WithFields(fields).Debug("Progress update")
	}
	return p.current
}

// Complete logs final statistics for the stage
func (p *ProgressTracker) Complete() ProgressStats {
	stats := p.GetStats()
	p.logger.WithFields(Fields{
		"operation": stats.Operation,
		"processed": stats.Current,
		"duration":  stats.Duration.String(),
		"rate":      fmt.Sprintf("%.2f/sec", stats.Rate),
	}).Info("Operation completed")
	return stats
}

// GetStats returns current progress statistics
func (p *ProgressTracker) GetStats() ProgressStats {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	duration := time.Since(p.startTime)
	var rate float64
	if duration.Seconds() > 0 {
		rate = float64(p.current) / duration.Seconds()
	}

	var percentage float64
	if p.total > 0 {
		percentage = float64(p.current) / float64(p.total) * 100
	}

	return ProgressStats{
		Operation:  p.operation,
		Total:      p.total,
		Current:    p.current,
		Percentage: percentage,
		Duration:   duration,
		Rate:       rate,
	}
}

// ProgressStats contains progress statistics
type ProgressStats struct {
	Operation  string        `json:"operation"`
	Total      int64         `json:"total"`
	Current    int64         `json:"current"`
	Percentage float64       `json:"percentage"`
	Duration   time.Duration `json:"duration"`
	Rate       float64       `json:"rate"`
}

// String returns a human-readable representation of the progress
func (ps ProgressStats) String() string {
	if ps.Total > 0 {
		return fmt.Sprintf("%s: %d/%d (%.1f%%) at %.2f/sec",
			ps.Operation, ps.Current, ps.Total, ps.Percentage, ps.Rate)
	}
	return fmt.Sprintf("%s: %d processed at %.2f/sec, elapsed: %v",
		ps.Operation, ps.Current, ps.Rate, ps.Duration)
}

// OperationLogger times a multi-stage operation and logs each stage
// with the shared operation fields.
type OperationLogger struct {
	logger    Logger
	operation string
	startTime time.Time
	stageAt   time.Time
	stages    map[string]time.Duration
	mutex     sync.Mutex
}

// NewOperationLogger creates a new operation logger
func NewOperationLogger(operation string, logger Logger) *OperationLogger {
	if logger == nil {
		logger = GetGlobalLogger()
	}
	now := time.Now()
	ol := &OperationLogger{
		logger:    logger.WithField("operation", operation),
		operation: operation,
		startTime: now,
		stageAt:   now,
		stages:    make(map[string]time.Duration),
	}
	ol.logger.Info("Starting operation")
	return ol
}

// With adds a field to every subsequent line
func (ol *OperationLogger) With(key string, value interface{}) *OperationLogger {
	ol.logger = ol.logger.WithField(key, value)
	return ol
}

// Stage closes the previous stage, records its duration under name and logs it.
func (ol *OperationLogger) Stage(name string) {
	ol.mutex.Lock()
	now := time.Now()
	elapsed := now.Sub(ol.stageAt)
	ol.stages[name] = elapsed
	ol.stageAt = now
	ol.mutex.Unlock()

	ol.logger.WithFields(Fields{
		"stage":    name,
		"duration": elapsed.String(),
	}).Debug("Stage completed")
}

// Stages returns recorded stage names in alphabetical order with their durations
func (ol *OperationLogger) Stages() []StageTiming {
	ol.mutex.Lock()
	defer ol.mutex.Unlock()

	timings := make([]StageTiming, 0, len(ol.stages))
	for name, d := range ol.stages {
		timings = append(timings, StageTiming{Stage: name, Duration: d})
	}
	sort.Slice(timings, func(i, j int) bool { return timings[i].Stage < timings[j].Stage })
	return timings
}

// StageTiming is one recorded stage duration
type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration"`
}

// Success completes the operation successfully
func (ol *OperationLogger) Success(message string) {
	ol.logger.WithFields(Fields{
		"duration": time.Since(ol.startTime).String(),
		"status":   "success",
	}).Info(message)
}

// Error completes the operation with an error
func (ol *OperationLogger) Error(err error, message string) {
	ol.logger.WithError(err).WithFields(Fields{
		"duration": time.Since(ol.startTime).String(),
		"status":   "error",
	}).Error(message)
}

// TimedOperation executes fn and logs timing information
func TimedOperation(operation string, logger Logger, fn func() error) error {
	ol := NewOperationLogger(operation, logger)
	if err := fn(); err != nil {
		ol.Error(err, "Operation failed")
		return err
	}
	ol.Success("Operation completed successfully")
	return nil
}
