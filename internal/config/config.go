// Package config holds the single immutable configuration shared by every
// pipeline component.
//
// Components receive a *Config at construction and never read globals:
//
//	cfg := config.DefaultConfig()
//	cfg.Matching.DateToleranceDays = 2
//	if err := cfg.Validate(); err != nil {
//		return err
//	}
//	seg := segment.New(cfg)
//	gate := quality.NewGate(cfg)
package config

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration
type Config struct {
	Segmentation SegmentationConfig `json:"segmentation" yaml:"segmentation" mapstructure:"segmentation"`
	Quality      QualityConfig      `json:"quality" yaml:"quality" mapstructure:"quality"`
	Recognition  RecognitionConfig  `json:"recognition" yaml:"recognition" mapstructure:"recognition"`
	Matching     MatchingConfig     `json:"matching" yaml:"matching" mapstructure:"matching"`
	Triage       TriageConfig       `json:"triage" yaml:"triage" mapstructure:"triage"`
	Pipeline     PipelineConfig     `json:"pipeline" yaml:"pipeline" mapstructure:"pipeline"`
}

// SegmentationConfig controls how pages are split into ticket regions
type SegmentationConfig struct {
	// PeakSigma is how many standard deviations above the mean a row's
	// gradient energy must be to count as a separator candidate.
	PeakSigma float64 `json:"peak_sigma" yaml:"peak_sigma" mapstructure:"peak_sigma"`
	// ClusterWindow groups candidate rows closer than this many pixels.
	ClusterWindow int `json:"cluster_window" yaml:"cluster_window" mapstructure:"cluster_window"`
	// CenterTolerance is the max distance from the vertical midpoint as a
	// fraction of page height.
	CenterTolerance float64 `json:"center_tolerance" yaml:"center_tolerance" mapstructure:"center_tolerance"`
	// Margin is the overlap in pixels added on each side of the split.
	Margin int `json:"margin" yaml:"margin" mapstructure:"margin"`
	// PortraitRatio triggers the even-split fallback when height exceeds width by this factor.
	PortraitRatio float64 `json:"portrait_ratio" yaml:"portrait_ratio" mapstructure:"portrait_ratio"`
}

// QualityConfig holds the image quality gate thresholds
type QualityConfig struct {
	MinWidth            int     `json:"min_width" yaml:"min_width" mapstructure:"min_width"`
	MinHeight           int     `json:"min_height" yaml:"min_height" mapstructure:"min_height"`
	MaxWidth            int     `json:"max_width" yaml:"max_width" mapstructure:"max_width"`
	MaxHeight           int     `json:"max_height" yaml:"max_height" mapstructure:"max_height"`
	MinDPI              float64 `json:"min_dpi" yaml:"min_dpi" mapstructure:"min_dpi"`
	DefaultDPI          float64 `json:"default_dpi" yaml:"default_dpi" mapstructure:"default_dpi"`
	MaxDPISkew          float64 `json:"max_dpi_skew" yaml:"max_dpi_skew" mapstructure:"max_dpi_skew"`
	MinContrast         float64 `json:"min_contrast" yaml:"min_contrast" mapstructure:"min_contrast"`
	MaxContrast         float64 `json:"max_contrast" yaml:"max_contrast" mapstructure:"max_contrast"`
	MaxSizeMB           float64 `json:"max_size_mb" yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MinSizeMB           float64 `json:"min_size_mb" yaml:"min_size_mb" mapstructure:"min_size_mb"`
	CompressionRatio    float64 `json:"compression_ratio" yaml:"compression_ratio" mapstructure:"compression_ratio"`
	MinCompleteness     float64 `json:"min_completeness" yaml:"min_completeness" mapstructure:"min_completeness"`
	BackgroundLuminance uint8   `json:"background_luminance" yaml:"background_luminance" mapstructure:"background_luminance"`
}

// RecognitionConfig controls identifier recognition
type RecognitionConfig struct {
	// LowConfidence flags recognized identifiers below this confidence (0-100).
	LowConfidence float64 `json:"low_confidence" yaml:"low_confidence" mapstructure:"low_confidence"`
	// Language passed to the OCR engine.
	Language string `json:"language" yaml:"language" mapstructure:"language"`
	// Timeout bounds a single OCR call.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// MatchingConfig holds scoring weights, tolerances and batch thresholds.
// Weights are in points and must sum to MaxScore.
type MatchingConfig struct {
	IdentifierThreshold   float64         `json:"identifier_threshold" yaml:"identifier_threshold" mapstructure:"identifier_threshold"`
	ReferenceThreshold    float64         `json:"reference_threshold" yaml:"reference_threshold" mapstructure:"reference_threshold"`
	WeightToleranceTonnes float64         `json:"weight_tolerance_tonnes" yaml:"weight_tolerance_tonnes" mapstructure:"weight_tolerance_tonnes"`
	DateToleranceDays     int             `json:"date_tolerance_days" yaml:"date_tolerance_days" mapstructure:"date_tolerance_days"`
	MaxScore              float64         `json:"max_score" yaml:"max_score" mapstructure:"max_score"`
	Weights               MatchingWeights `json:"weights" yaml:"weights" mapstructure:"weights"`
	// NoiseFloor drops candidates scoring below this confidence.
	NoiseFloor float64 `json:"noise_floor" yaml:"noise_floor" mapstructure:"noise_floor"`
	// ConflictPenalty multiplies a losing claimant's confidence.
	ConflictPenalty float64 `json:"conflict_penalty" yaml:"conflict_penalty" mapstructure:"conflict_penalty"`
	// ConflictFloor is the lowest confidence a losing claimant is reduced to.
	ConflictFloor float64 `json:"conflict_floor" yaml:"conflict_floor" mapstructure:"conflict_floor"`
}

// MatchingWeights are the maximum points each factor contributes
type MatchingWeights struct {
	Identifier float64 `json:"identifier" yaml:"identifier" mapstructure:"identifier"`
	Date       float64 `json:"date" yaml:"date" mapstructure:"date"`
	Reference  float64 `json:"reference" yaml:"reference" mapstructure:"reference"`
	Weight     float64 `json:"weight" yaml:"weight" mapstructure:"weight"`
}

// TriageConfig holds the accept/review/reject boundaries
type TriageConfig struct {
	AutoAcceptThreshold float64       `json:"auto_accept_threshold" yaml:"auto_accept_threshold" mapstructure:"auto_accept_threshold"`
	RejectThreshold     float64       `json:"reject_threshold" yaml:"reject_threshold" mapstructure:"reject_threshold"`
	EscalationAge       time.Duration `json:"escalation_age" yaml:"escalation_age" mapstructure:"escalation_age"`
}

// PipelineConfig controls batch execution
type PipelineConfig struct {
	Workers             int `json:"workers" yaml:"workers" mapstructure:"workers"`
	MaxRecordedFailures int `json:"max_recorded_failures" yaml:"max_recorded_failures" mapstructure:"max_recorded_failures"`
}

// DefaultConfig returns the production defaults
func DefaultConfig() *Config {
	return &Config{
		Segmentation: SegmentationConfig{
			PeakSigma:       2.0,
			ClusterWindow:   20,
			CenterTolerance: 0.30,
			Margin:          50,
			PortraitRatio:   1.5,
		},
		Quality: QualityConfig{
			MinWidth:            100,
			MinHeight:           100,
			MaxWidth:            10000,
			MaxHeight:           10000,
			MinDPI:              150,
			DefaultDPI:          72,
			MaxDPISkew:          20,
			MinContrast:         30,
			MaxContrast:         90,
			MaxSizeMB:           5,
			MinSizeMB:           0.01,
			CompressionRatio:    0.5,
			MinCompleteness:     0.10,
			BackgroundLuminance: 240,
		},
		Recognition: RecognitionConfig{
			LowConfidence: 80,
			Language:      "eng",
			Timeout:       30 * time.Second,
		},
		Matching: MatchingConfig{
			IdentifierThreshold:   0.8,
			ReferenceThreshold:    0.7,
			WeightToleranceTonnes: 0.5,
			DateToleranceDays:     1,
			MaxScore:              100,
			Weights: MatchingWeights{
				Identifier: 90,
				Date:       5,
				Reference:  3,
				Weight:     2,
			},
			NoiseFloor:      20,
			ConflictPenalty: 0.5,
			ConflictFloor:   40,
		},
		Triage: TriageConfig{
			AutoAcceptThreshold: 85,
			RejectThreshold:     60,
			EscalationAge:       24 * time.Hour,
		},
		Pipeline: PipelineConfig{
			Workers:             4,
			MaxRecordedFailures: 10,
		},
	}
}

// StrictConfig tightens tolerances and raises the auto-accept bar
func StrictConfig() *Config {
	cfg := DefaultConfig()
	cfg.Matching.IdentifierThreshold = 0.9
	cfg.Matching.DateToleranceDays = 0
	cfg.Matching.WeightToleranceTonnes = 0.2
	cfg.Triage.AutoAcceptThreshold = 95
	return cfg
}

// RelaxedConfig widens tolerances for poor scan batches
func RelaxedConfig() *Config {
	cfg := DefaultConfig()
	cfg.Matching.IdentifierThreshold = 0.7
	cfg.Matching.DateToleranceDays = 3
	cfg.Matching.WeightToleranceTonnes = 1.0
	cfg.Quality.MinDPI = 100
	return cfg
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Segmentation.Validate(); err != nil {
		return fmt.Errorf("segmentation: %w", err)
	}
	if err := c.Quality.Validate(); err != nil {
		return fmt.Errorf("quality: %w", err)
	}
	if err := c.Recognition.Validate(); err != nil {
		return fmt.Errorf("recognition: %w", err)
	}
	if err := c.Matching.Validate(); err != nil {
		return fmt.Errorf("matching: %w", err)
	}
	if err := c.Triage.Validate(); err != nil {
		return fmt.Errorf("triage: %w", err)
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline: workers must be positive: %d", c.Pipeline.Workers)
	}
	if c.Pipeline.MaxRecordedFailures < 0 {
		return fmt.Errorf("pipeline: max recorded failures cannot be negative: %d", c.Pipeline.MaxRecordedFailures)
	}
	if c.Matching.NoiseFloor > c.Triage.RejectThreshold {
		return fmt.Errorf("matching noise floor %.1f exceeds triage reject threshold %.1f",
			c.Matching.NoiseFloor, c.Triage.RejectThreshold)
	}
	// A conflict loser must always fall below the reject threshold
	if c.Matching.ConflictFloor >= c.Triage.RejectThreshold {
		return fmt.Errorf("matching conflict floor %.1f must be below triage reject threshold %.1f",
			c.Matching.ConflictFloor, c.Triage.RejectThreshold)
	}
	if c.Matching.ConflictPenalty*100 >= c.Triage.RejectThreshold {
		return fmt.Errorf("matching conflict penalty %.2f lets a losing claim reach triage reject threshold %.1f",
			c.Matching.ConflictPenalty, c.Triage.RejectThreshold)
	}
	return nil
}

// Validate checks segmentation parameters
func (s *SegmentationConfig) Validate() error {
	if s.PeakSigma <= 0 {
		return fmt.Errorf("peak sigma must be positive: %f", s.PeakSigma)
	}
	if s.ClusterWindow <= 0 {
		return fmt.Errorf("cluster window must be positive: %d", s.ClusterWindow)
	}
	if s.CenterTolerance <= 0 || s.CenterTolerance > 0.5 {
		return fmt.Errorf("center tolerance must be in (0, 0.5]: %f", s.CenterTolerance)
	}
	if s.Margin < 0 {
		return fmt.Errorf("margin cannot be negative: %d", s.Margin)
	}
	if s.PortraitRatio <= 1 {
		return fmt.Errorf("portrait ratio must exceed 1: %f", s.PortraitRatio)
	}
	return nil
}

// Validate checks quality thresholds
func (q *QualityConfig) Validate() error {
	if q.MinWidth <= 0 || q.MinHeight <= 0 {
		return fmt.Errorf("minimum dimensions must be positive: %dx%d", q.MinWidth, q.MinHeight)
	}
	if q.MaxWidth < q.MinWidth || q.MaxHeight < q.MinHeight {
		return fmt.Errorf("maximum dimensions %dx%d below minimum %dx%d", q.MaxWidth, q.MaxHeight, q.MinWidth, q.MinHeight)
	}
	if q.MinDPI <= 0 || q.DefaultDPI <= 0 {
		return fmt.Errorf("DPI thresholds must be positive")
	}
	if q.MinContrast < 0 || q.MaxContrast <= q.MinContrast {
		return fmt.Errorf("contrast range invalid: [%f, %f]", q.MinContrast, q.MaxContrast)
	}
	if q.MaxSizeMB <= q.MinSizeMB || q.MinSizeMB < 0 {
		return fmt.Errorf("size range invalid: [%f, %f]", q.MinSizeMB, q.MaxSizeMB)
	}
	if q.CompressionRatio <= 0 || q.CompressionRatio > 1 {
		return fmt.Errorf("compression ratio must be in (0, 1]: %f", q.CompressionRatio)
	}
	if q.MinCompleteness < 0 || q.MinCompleteness > 1 {
		return fmt.Errorf("min completeness must be in [0, 1]: %f", q.MinCompleteness)
	}
	return nil
}

// Validate checks recognition settings
func (r *RecognitionConfig) Validate() error {
	if r.LowConfidence < 0 || r.LowConfidence > 100 {
		return fmt.Errorf("low confidence must be between 0 and 100: %f", r.LowConfidence)
	}
	if r.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative: %s", r.Timeout)
	}
	return nil
}

// Validate checks matching parameters
func (m *MatchingConfig) Validate() error {
	if m.IdentifierThreshold < 0 || m.IdentifierThreshold > 1 {
		return fmt.Errorf("identifier threshold must be between 0 and 1: %f", m.IdentifierThreshold)
	}
	if m.ReferenceThreshold < 0 || m.ReferenceThreshold > 1 {
		return fmt.Errorf("reference threshold must be between 0 and 1: %f", m.ReferenceThreshold)
	}
	if m.WeightToleranceTonnes <= 0 {
		return fmt.Errorf("weight tolerance must be positive: %f", m.WeightToleranceTonnes)
	}
	if m.DateToleranceDays < 0 {
		return fmt.Errorf("date tolerance days cannot be negative: %d", m.DateToleranceDays)
	}
	if m.MaxScore <= 0 {
		return fmt.Errorf("max score must be positive: %f", m.MaxScore)
	}
	if err := m.Weights.Validate(m.MaxScore); err != nil {
		return fmt.Errorf("invalid weights: %w", err)
	}
	if m.NoiseFloor < 0 || m.NoiseFloor > 100 {
		return fmt.Errorf("noise floor must be between 0 and 100: %f", m.NoiseFloor)
	}
	if m.ConflictPenalty < 0 || m.ConflictPenalty > 1 {
		return fmt.Errorf("conflict penalty must be between 0 and 1: %f", m.ConflictPenalty)
	}
	if m.ConflictFloor < 0 || m.ConflictFloor > 100 {
		return fmt.Errorf("conflict floor must be between 0 and 100: %f", m.ConflictFloor)
	}
	return nil
}

// Validate checks that every weight is non-negative and they sum to max
func (w *MatchingWeights) Validate(max float64) error {
	for name, v := range map[string]float64{
		"identifier": w.Identifier, "date": w.Date, "reference": w.Reference, "weight": w.Weight,
	} {
		if v < 0 {
			return fmt.Errorf("%s weight cannot be negative: %f", name, v)
		}
	}
	if total := w.Total(); math.Abs(total-max) > 1e-9 {
		return fmt.Errorf("weights must sum to %.0f, got %f", max, total)
	}
	return nil
}

// Total returns the sum of all factor weights
func (w *MatchingWeights) Total() float64 {
	return w.Identifier + w.Date + w.Reference + w.Weight
}

// WeightTolerance returns the net weight tolerance as a decimal tonnage
func (m *MatchingConfig) WeightTolerance() decimal.Decimal {
	return decimal.NewFromFloat(m.WeightToleranceTonnes)
}

// Validate checks the triage boundaries
func (t *TriageConfig) Validate() error {
	if t.RejectThreshold < 0 || t.AutoAcceptThreshold > 100 {
		return fmt.Errorf("thresholds must be within [0, 100]")
	}
	if t.RejectThreshold >= t.AutoAcceptThreshold {
		return fmt.Errorf("reject threshold %.1f must be below auto-accept threshold %.1f",
			t.RejectThreshold, t.AutoAcceptThreshold)
	}
	if t.EscalationAge <= 0 {
		return fmt.Errorf("escalation age must be positive: %s", t.EscalationAge)
	}
	return nil
}

// Clone creates a deep copy of the configuration. Every section is a
// value type so a struct copy is sufficient.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// YAML renders the effective configuration
func (c *Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to render configuration: %w", err)
	}
	return string(out), nil
}

// String returns a short summary of the thresholds that drive decisions
func (c *Config) String() string {
	return fmt.Sprintf("Config{Weights: %.0f/%.0f/%.0f/%.0f, AutoAccept: %.0f, Reject: %.0f, NoiseFloor: %.0f, Workers: %d}",
		c.Matching.Weights.Identifier, c.Matching.Weights.Date, c.Matching.Weights.Reference, c.Matching.Weights.Weight,
		c.Triage.AutoAcceptThreshold, c.Triage.RejectThreshold, c.Matching.NoiseFloor, c.Pipeline.Workers)
}
