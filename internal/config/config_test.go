package config

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfigIsValid(t *testing.T) {
	for name, cfg := range map[string]*Config{
		"default": DefaultConfig(),
		"strict":  StrictConfig(),
		"relaxed": RelaxedConfig(),
	} {
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected %s config to be valid, got %v", name, err)
		}
	}
}

func TestDefaultWeights(t *testing.T) {
	cfg := DefaultConfig()
	want := MatchingWeights{Identifier: 90, Date: 5, Reference: 3, Weight: 2}
	if diff := cmp.Diff(want, cfg.Matching.Weights); diff != "" {
		t.Errorf("weights mismatch (-want +got):\n%s", diff)
	}
	if cfg.Matching.Weights.Total() != cfg.Matching.MaxScore {
		t.Errorf("expected weights to sum to %f, got %f", cfg.Matching.MaxScore, cfg.Matching.Weights.Total())
	}
	if got := cfg.Matching.WeightTolerance().String(); got != "0.5" {
		t.Errorf("expected weight tolerance 0.5, got %s", got)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"weights do not sum", func(c *Config) { c.Matching.Weights.Date = 10 }, "weights must sum"},
		{"negative weight", func(c *Config) { c.Matching.Weights.Weight = -2; c.Matching.Weights.Date = 9 }, "cannot be negative"},
		{"thresholds inverted", func(c *Config) { c.Triage.RejectThreshold = 90 }, "must be below"},
		{"noise floor above reject", func(c *Config) { c.Matching.NoiseFloor = 70; c.Triage.RejectThreshold = 65 }, "noise floor"},
		{"conflict floor at reject", func(c *Config) { c.Matching.ConflictFloor = 60 }, "conflict floor"},
		{"conflict penalty keeps loser live", func(c *Config) { c.Matching.ConflictPenalty = 0.7 }, "conflict penalty"},
		{"no workers", func(c *Config) { c.Pipeline.Workers = 0 }, "workers"},
		{"bad margin", func(c *Config) { c.Segmentation.Margin = -1 }, "margin"},
		{"contrast range", func(c *Config) { c.Quality.MaxContrast = 10 }, "contrast"},
		{"zero escalation", func(c *Config) { c.Triage.EscalationAge = 0 }, "escalation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.errMsg)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("expected error containing %q, got %v", tt.errMsg, err)
			}
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.Matching.Weights.Identifier = 50
	clone.Triage.EscalationAge = time.Hour

	if cfg.Matching.Weights.Identifier != 90 {
		t.Errorf("expected original identifier weight unchanged, got %f", cfg.Matching.Weights.Identifier)
	}
	if cfg.Triage.EscalationAge != 24*time.Hour {
		t.Errorf("expected original escalation age unchanged, got %s", cfg.Triage.EscalationAge)
	}
	if (*Config)(nil).Clone() != nil {
		t.Errorf("expected nil clone of nil config")
	}
}

func TestYAMLDump(t *testing.T) {
	out, err := DefaultConfig().YAML()
	if err != nil {
		t.Fatalf("expected YAML, got %v", err)
	}
	var decoded map[string]interface{}
	if err := yaml.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("expected parseable YAML, got %v", err)
	}
	for _, key := range []string{"segmentation", "quality", "recognition", "matching", "triage", "pipeline"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("expected section %s in YAML dump", key)
		}
	}
}
