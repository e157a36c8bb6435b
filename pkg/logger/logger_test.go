package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		expectErr bool
	}{
		{"default", *DefaultConfig(), false},
		{"debug", *DebugConfig(), false},
		{"bad level", Config{Level: "loud", Format: TextFormat, Output: StderrOutput}, true},
		{"bad format", Config{Level: InfoLevel, Format: "xml", Output: StderrOutput}, true},
		{"file without path", Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput}, true},
		{"discard", Config{Level: InfoLevel, Format: JSONFormat, Output: DiscardOutput}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectErr && err == nil {
				t.Errorf("expected error, got nil")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

func TestWithFieldKeepsFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, DebugLevel, JSONFormat)

	log.WithComponent("segmenter").WithField("page", 3).Info("split page")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["component"] != "segmenter" {
		t.Errorf("expected component field segmenter, got %v", entry["component"])
	}
	if entry["page"] != float64(3) {
		t.Errorf("expected page field 3, got %v", entry["page"])
	}
	if entry["msg"] != "split page" {
		t.Errorf("expected msg 'split page', got %v", entry["msg"])
	}
}

func TestWithErrorAndLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, WarnLevel, TextFormat)

	log.Info("hidden")
	log.WithError(errors.New("ocr timeout")).Warn("recognition degraded")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("expected info line to be filtered, got %q", out)
	}
	if !strings.Contains(out, "ocr timeout") {
		t.Errorf("expected error text in output, got %q", out)
	}
}

func TestOperationLoggerStages(t *testing.T) {
	ol := NewOperationLogger("batch", NewNopLogger())
	ol.Stage("segment")
	ol.Stage("match")

	stages := ol.Stages()
	if len(stages) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(stages))
	}
	if stages[0].Stage != "match" || stages[1].Stage != "segment" {
		t.Errorf("expected alphabetical stages, got %v", stages)
	}
}

func TestProgressTracker(t *testing.T) {
	tracker := NewProgressTracker(ProgressConfig{Operation: "pages", Total: 4, Logger: NewNopLogger()})
	for i := 0; i < 4; i++ {
		tracker.Increment()
	}

	stats := tracker.GetStats()
	if stats.Current != 4 {
		t.Errorf("expected 4 processed, got %d", stats.Current)
	}
	if stats.Percentage != 100 {
		t.Errorf("expected 100%%, got %.1f", stats.Percentage)
	}

	err := TimedOperation("noop", NewNopLogger(), func() error { return nil })
	if err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}
