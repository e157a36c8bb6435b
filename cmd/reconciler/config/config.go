// Package config builds the component configurations used by the CLI from
// flags, config files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"ticket-reconciliation-service/internal/config"
	"ticket-reconciliation-service/internal/document"
	"ticket-reconciliation-service/internal/parsers"
	"ticket-reconciliation-service/internal/recognition"
	"ticket-reconciliation-service/internal/recognition/tesseract"
	"ticket-reconciliation-service/internal/reporter"
	"ticket-reconciliation-service/pkg/errors"
)

// Profile names accepted by --profile
const (
	ProfileDefault = "default"
	ProfileStrict  = "strict"
	ProfileRelaxed = "relaxed"
)

// Recognition engines accepted by --ocr
const (
	EngineTesseract = "tesseract"
	EngineHeuristic = "heuristic"
)

// LedgerFormatAuto detects the ledger layout from the header row
const LedgerFormatAuto = "auto"

// EnvPrefix is the prefix for environment overrides
const EnvPrefix = "RECONCILER"

// Profiles returns the names of the predefined pipeline profiles
func Profiles() []string {
	return []string{ProfileDefault, ProfileStrict, ProfileRelaxed}
}

// profileConfig returns the preset for a profile name
func profileConfig(profile string) (*config.Config, error) {
	switch strings.ToLower(strings.TrimSpace(profile)) {
	case "", ProfileDefault:
		return config.DefaultConfig(), nil
	case ProfileStrict:
		return config.StrictConfig(), nil
	case ProfileRelaxed:
		return config.RelaxedConfig(), nil
	default:
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "profile", profile, nil).
			WithSuggestion(fmt.Sprintf("Use one of: %s", strings.Join(Profiles(), ", ")))
	}
}

// CreatePipelineConfig starts from the profile preset and overlays any
// pipeline settings found in v (config file sections or bound env vars)
func CreatePipelineConfig(profile string, v *viper.Viper) (*config.Config, error) {
	cfg, err := profileConfig(profile)
	if err != nil {
		return nil, err
	}

	if v != nil {
		if err := v.Unmarshal(cfg); err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "config_file", v.ConfigFileUsed(), err).
				WithSuggestion("Check the types of values in the configuration file")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "pipeline", profile, err).
			WithSuggestion("Run 'reconciler config show' to see the effective settings")
	}
	return cfg, nil
}

// SettingKeys lists every pipeline setting as a dotted key, sorted
func SettingKeys() ([]string, error) {
	data, err := yaml.Marshal(config.DefaultConfig())
	if err != nil {
		return nil, err
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, err
	}

	var keys []string
	flattenKeys("", tree, &keys)
	sort.Strings(keys)
	return keys, nil
}

func flattenKeys(prefix string, tree map[string]interface{}, keys *[]string) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]interface{}); ok {
			flattenKeys(key, sub, keys)
			continue
		}
		*keys = append(*keys, key)
	}
}

// EnvName returns the environment variable that overrides a setting key
func EnvName(key string) string {
	return EnvPrefix + "_" + envReplacer.Replace(strings.ToUpper(key))
}

var envReplacer = strings.NewReplacer(".", "_", "-", "_")

// BindEnvKeys makes every pipeline setting overridable through the
// environment, e.g. RECONCILER_TRIAGE_AUTO_ACCEPT_THRESHOLD
func BindEnvKeys(v *viper.Viper) error {
	keys, err := SettingKeys()
	if err != nil {
		return fmt.Errorf("failed to list settings: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

// CreateLedgerFormat resolves --ledger-format. "auto" sniffs the header
// row of ledgerPath.
func CreateLedgerFormat(name, ledgerPath string) (*parsers.LedgerFormat, error) {
	if strings.EqualFold(strings.TrimSpace(name), LedgerFormatAuto) {
		return parsers.DetectLedgerFormat(ledgerPath)
	}

	format := parsers.GetLedgerFormat(name)
	if format == nil {
		names := make([]string, 0, len(parsers.ListLedgerFormats())+1)
		for _, f := range parsers.ListLedgerFormats() {
			names = append(names, f.Name)
		}
		names = append(names, LedgerFormatAuto)
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "ledger-format", name, nil).
			WithSuggestion(fmt.Sprintf("Use one of: %s", strings.Join(names, ", ")))
	}
	return format, nil
}

// CreateRecognizer returns the OCR engine for --ocr. The heuristic engine
// is represented by nil.
func CreateRecognizer(engine, language string) (recognition.TextRecognizer, error) {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case EngineTesseract:
		if language == "" {
			language = "eng"
		}
		return tesseract.New(language), nil
	case "", EngineHeuristic:
		return nil, nil
	default:
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "ocr", engine, nil).
			WithSuggestion("Use 'tesseract' or 'heuristic'")
	}
}

// CreateReportConfig creates a report configuration for the specified output format
func CreateReportConfig(format string, colors bool) (*reporter.ReportConfig, error) {
	cfg := reporter.DefaultReportConfig()
	cfg.Format = reporter.OutputFormat(strings.ToLower(format))
	cfg.UseColors = colors

	switch cfg.Format {
	case reporter.FormatConsole:
		cfg.IncludeUnmatched = true
	case reporter.FormatJSON, reporter.FormatYAML:
		cfg.UseColors = false
	case reporter.FormatCSV:
		// CSV is per-ticket data only
		cfg.UseColors = false
		cfg.IncludeConflicts = false
		cfg.IncludeDuplicates = false
		cfg.IncludeProcessingStats = false
		cfg.IncludeFailures = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", format, err).
			WithSuggestion("Valid formats: console, json, yaml, csv")
	}
	return cfg, nil
}

// ResolveDocumentPaths expands directories to the supported documents they
// contain, sorted by name. Explicit file arguments keep their order.
func ResolveDocumentPaths(inputs []string) ([]string, error) {
	var paths []string
	for _, input := range inputs {
		info, err := os.Stat(input)
		if err != nil {
			code := errors.CodeFileNotFound
			if os.IsPermission(err) {
				code = errors.CodeFilePermission
			}
			return nil, errors.FileError(code, input, err)
		}

		if !info.IsDir() {
			if !document.IsSupported(input) {
				return nil, errors.FileError(errors.CodeUnsupportedFormat, input, nil)
			}
			paths = append(paths, input)
			continue
		}

		entries, err := os.ReadDir(input)
		if err != nil {
			return nil, errors.FileError(errors.CodeFilePermission, input, err)
		}
		var found []string
		for _, entry := range entries {
			if !entry.IsDir() && document.IsSupported(entry.Name()) {
				found = append(found, filepath.Join(input, entry.Name()))
			}
		}
		sort.Strings(found)
		paths = append(paths, found...)
	}

	if len(paths) == 0 {
		return nil, errors.ValidationError(errors.CodeMissingField, "pages", strings.Join(inputs, ","), nil).
			WithSuggestion("Pass PDF or image files, or a directory containing them")
	}
	return paths, nil
}
