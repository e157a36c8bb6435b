// Package tesseract adapts the Tesseract OCR engine to recognition.TextRecognizer.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"ticket-reconciliation-service/internal/recognition"
)

// Engine runs one gosseract client per call
type Engine struct {
	clientFactory func() *gosseract.Client
	languages     []string
	variables     map[string]string
}

// New creates an Engine for the given languages (e.g. "eng")
func New(languages ...string) *Engine {
	return &Engine{
		clientFactory: gosseract.NewClient,
		languages:     languages,
		variables: map[string]string{
			// Ticket text is laid out in labelled blocks.
			"tessedit_pageseg_mode": "11",
		},
	}
}

func (e *Engine) Name() string { return "tesseract" }

// Recognize returns the words Tesseract finds in img with their confidence
// (0-100). A missing installation or language pack is reported as
// recognition.ErrUnavailable.
func (e *Engine) Recognize(ctx context.Context, img image.Image) ([]recognition.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	type outcome struct {
		tokens []recognition.Token
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		c := e.clientFactory()
		defer c.Close()
		tokens, err := e.recognizeWithClient(c, buf.Bytes())
		done <- outcome{tokens, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-done:
		return out.tokens, out.err
	}
}

func (e *Engine) recognizeWithClient(c *gosseract.Client, data []byte) ([]recognition.Token, error) {
	if len(e.languages) > 0 {
		if err := c.SetLanguage(e.languages...); err != nil {
			return nil, classify("set languages", err)
		}
	}
	for k, v := range e.variables {
		if err := c.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return nil, classify("set variable "+k, err)
		}
	}
	if err := c.SetImageFromBytes(data); err != nil {
		return nil, classify("set image", err)
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, classify("recognize words", err)
	}
	tokens := make([]recognition.Token, 0, len(boxes))
	for _, b := range boxes {
		word := strings.TrimSpace(b.Word)
		if word == "" {
			continue
		}
		tokens = append(tokens, recognition.Token{Text: word, Confidence: b.Confidence})
	}
	return tokens, nil
}

// classify maps initialisation failures to recognition.ErrUnavailable
func classify(op string, err error) error {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"tessdata", "loading language", "initialize"} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%s: %w: %v", op, recognition.ErrUnavailable, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
