// Package recognition reads ticket identifiers off validated ticket images.
//
// A TextRecognizer supplies words with per-word confidence; the Recognizer
// scans the recognized text for known identifier shapes and scores each
// hit from the confidence of the words it spans plus shape bonuses. When no
// engine is available it falls back to a confidence-only heuristic derived
// from the image itself.
package recognition

import (
	"context"
	"errors"
	"image"
	"regexp"
	"strings"
	"unicode"

	"ticket-reconciliation-service/internal/config"
	"ticket-reconciliation-service/internal/models"
	"ticket-reconciliation-service/pkg/logger"
)

// ErrUnavailable is returned by engines that cannot run on this host
var ErrUnavailable = errors.New("text recognition unavailable")

// Token is one recognized word
type Token struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// TextRecognizer is an OCR engine
type TextRecognizer interface {
	Name() string
	Recognize(ctx context.Context, img image.Image) ([]Token, error)
}

// IdentifierPatterns are the ticket number shapes, tried in order. On equal
// confidence an earlier shape wins.
var IdentifierPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b[A-Z]\d{3,6}\b`),
	regexp.MustCompile(`\b[A-Z]{2,3}-?\d{3,8}\b`),
	regexp.MustCompile(`\b\d{4,8}\b`),
	regexp.MustCompile(`\b[A-Z]\d[A-Z]\d{1,6}\b`),
}

const (
	lengthBonus    = 5.0
	fullTokenBonus = 10.0
	mixedBonus     = 5.0
)

// Mode records which path produced a Result
type Mode string

const (
	ModePattern   Mode = "pattern"
	ModeFallback  Mode = "fallback"
	ModeHeuristic Mode = "heuristic"
	ModeEmpty     Mode = "empty"
	ModeFailed    Mode = "failed"
)

// Result is the recognized identifier and its confidence (0-100)
type Result struct {
	Identifier models.Option[string] `json:"identifier"`
	Confidence float64               `json:"confidence"`
	Mode       Mode                  `json:"mode"`
	Text       string                `json:"text"`
	Evidence   Evidence              `json:"evidence"`
	Err        error                 `json:"-"`
}

// LowConfidence reports whether the result should be flagged for review
func (r Result) LowConfidence(threshold float64) bool {
	return r.Confidence < threshold
}

// Recognizer extracts identifiers using an optional OCR engine
type Recognizer struct {
	engine TextRecognizer
	cfg    config.RecognitionConfig
	logger logger.Logger
}

// NewRecognizer creates a Recognizer. A nil engine always uses the heuristic.
func NewRecognizer(cfg *config.Config, engine TextRecognizer) *Recognizer {
	return &Recognizer{
		engine: engine,
		cfg:    cfg.Recognition,
		logger: logger.GetGlobalLogger().WithComponent("recognizer"),
	}
}

// Engine returns the engine name or "heuristic"
func (r *Recognizer) Engine() string {
	if r.engine == nil {
		return "heuristic"
	}
	return r.engine.Name()
}

// Recognize reads the identifier from img. metrics are the quality gate
// measurements of the same image, used by the heuristic mode.
func (r *Recognizer) Recognize(ctx context.Context, img image.Image, metrics models.QualityMetrics) Result {
	if r.engine == nil {
		return heuristicResult(img, metrics)
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	tokens, err := r.engine.Recognize(ctx, img)
	if errors.Is(err, ErrUnavailable) {
		r.logger.WithField("engine", r.engine.Name()).Debug("Engine unavailable, using heuristic confidence")
		return heuristicResult(img, metrics)
	}
	if err != nil {
		r.logger.WithError(err).WithField("engine", r.engine.Name()).Warn("Text recognition failed")
		return Result{Mode: ModeFailed, Err: err}
	}
	return FromTokens(tokens)
}

// span locates a token inside the joined text
type span struct {
	start, end int
	token      Token
}

// FromTokens scores identifier candidates in recognized words
func FromTokens(tokens []Token) Result {
	text, spans := join(tokens)
	if strings.TrimSpace(text) == "" {
		return Result{Mode: ModeEmpty}
	}

	res := Result{Text: text, Evidence: ExtractEvidence(text)}
	best := -1.0
	for _, pattern := range IdentifierPatterns {
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			conf := matchConfidence(text[loc[0]:loc[1]], loc, spans)
			if conf > best {
				best = conf
				res.Identifier = models.Some(text[loc[0]:loc[1]])
				res.Confidence = conf
				res.Mode = ModePattern
			}
		}
	}
	if best >= 0 {
		return res
	}

	if id, conf, ok := longestAlphanumeric(tokens); ok {
		res.Identifier = models.Some(id)
		res.Confidence = conf
		res.Mode = ModeFallback
		return res
	}
	res.Mode = ModeEmpty
	return res
}

// join uppercases and space-joins token texts, recording each token's span
func join(tokens []Token) (string, []span) {
	var b strings.Builder
	spans := make([]span, 0, len(tokens))
	for _, tok := range tokens {
		t := strings.ToUpper(strings.TrimSpace(tok.Text))
		if t == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		start := b.Len()
		b.WriteString(t)
		spans = append(spans, span{start: start, end: b.Len(), token: tok})
	}
	return b.String(), spans
}

// matchConfidence is the mean confidence of the tokens overlapping loc
// plus shape bonuses, capped at 100.
func matchConfidence(match string, loc []int, spans []span) float64 {
	var sum float64
	var n int
	full := false
	for _, s := range spans {
		if s.end <= loc[0] || s.start >= loc[1] {
			continue
		}
		sum += s.token.Confidence
		n++
		if s.start == loc[0] && s.end == loc[1] {
			full = true
		}
	}
	if n == 0 {
		return 0
	}

	conf := sum / float64(n)
	if l := len(match); l >= 3 && l <= 8 {
		conf += lengthBonus
	}
	if full {
		conf += fullTokenBonus
	}
	if isMixed(match) {
		conf += mixedBonus
	}
	if conf > 100 {
		conf = 100
	}
	return conf
}

func isMixed(s string) bool {
	var letter, digit bool
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return letter && digit
}

// longestAlphanumeric returns the longest token after stripping
// non-alphanumerics, with that token's raw confidence.
func longestAlphanumeric(tokens []Token) (string, float64, bool) {
	var best string
	var conf float64
	for _, tok := range tokens {
		cleaned := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToUpper(r)
			}
			return -1
		}, tok.Text)
		if len(cleaned) > len(best) {
			best, conf = cleaned, tok.Confidence
		}
	}
	return best, conf, best != ""
}
