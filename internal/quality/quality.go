// Package quality gates candidate ticket images before recognition.
package quality

import (
	"fmt"
	"image"
	"math"

	"ticket-reconciliation-service/internal/config"
	"ticket-reconciliation-service/internal/imageutil"
	"ticket-reconciliation-service/internal/models"
	"ticket-reconciliation-service/pkg/logger"
)

const bytesPerMB = 1024 * 1024

// Result is the outcome of validating one image. Every check runs; errors
// accumulate and Valid is true only when there are none.
type Result struct {
	Valid    bool                  `json:"valid"`
	Errors   []string              `json:"errors"`
	Warnings []string              `json:"warnings"`
	Metrics  models.QualityMetrics `json:"metrics"`
}

// Reason joins all errors into a single rejection reason
func (r Result) Reason() string {
	if len(r.Errors) == 0 {
		return ""
	}
	reason := r.Errors[0]
	for _, e := range r.Errors[1:] {
		reason += "; " + e
	}
	return reason
}

// Gate validates images against the quality section of the config
type Gate struct {
	cfg    config.QualityConfig
	logger logger.Logger
}

// NewGate creates a quality gate
func NewGate(cfg *config.Config) *Gate {
	return &Gate{
		cfg:    cfg.Quality,
		logger: logger.GetGlobalLogger().WithComponent("quality"),
	}
}

// Validate measures img and checks dimensions, resolution, contrast,
// estimated encoded size and completeness. An absent DPI falls back to the
// configured default.
func (g *Gate) Validate(img image.Image, dpi models.Option[models.DPI]) Result {
	res := Result{Errors: []string{}, Warnings: []string{}}
	if img == nil {
		res.Errors = append(res.Errors, "image has no pixel data")
		return res
	}

	b := img.Bounds()
	res.Metrics.Width, res.Metrics.Height = b.Dx(), b.Dy()
	g.checkDimensions(&res)
	g.checkResolution(&res, dpi.OrElse(models.UniformDPI(g.cfg.DefaultDPI)))

	if b.Dx() > 0 && b.Dy() > 0 {
		stats := imageutil.Measure(imageutil.Luminance(img), g.cfg.BackgroundLuminance)
		g.checkContrast(&res, stats)
		g.checkSize(&res, imageutil.BytesPerPixel(img))
		g.checkCompleteness(&res, stats)
	} else {
		res.Errors = append(res.Errors, "image is empty")
	}

	res.Valid = len(res.Errors) == 0
	g.logger.WithFields(logger.Fields{
		"valid":    res.Valid,
		"errors":   len(res.Errors),
		"warnings": len(res.Warnings),
		"contrast": fmt.Sprintf("%.1f", res.Metrics.Contrast),
	}).Debug("Validated image")
	return res
}

func (g *Gate) checkDimensions(res *Result) {
	w, h := res.Metrics.Width, res.Metrics.Height
	if w < g.cfg.MinWidth || h < g.cfg.MinHeight {
		res.Errors = append(res.Errors, fmt.Sprintf("dimensions too small: %dx%d (minimum %dx%d)",
			w, h, g.cfg.MinWidth, g.cfg.MinHeight))
	}
	if w > g.cfg.MaxWidth || h > g.cfg.MaxHeight {
		res.Errors = append(res.Errors, fmt.Sprintf("dimensions too large: %dx%d (maximum %dx%d)",
			w, h, g.cfg.MaxWidth, g.cfg.MaxHeight))
	}
	if w > 0 && h > 0 {
		aspect := float64(w) / float64(h)
		if aspect < 0.1 || aspect > 10 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("unusual aspect ratio: %.2f", aspect))
		}
	}
}

func (g *Gate) checkResolution(res *Result, dpi models.DPI) {
	res.Metrics.DPIX, res.Metrics.DPIY = dpi.X, dpi.Y
	if dpi.Min() < g.cfg.MinDPI {
		res.Errors = append(res.Errors, fmt.Sprintf("resolution too low: %.0f DPI (minimum %.0f)",
			dpi.Min(), g.cfg.MinDPI))
	}
	if math.Abs(dpi.X-dpi.Y) > g.cfg.MaxDPISkew {
		res.Warnings = append(res.Warnings, fmt.Sprintf("uneven resolution: %.0fx%.0f DPI", dpi.X, dpi.Y))
	}
}

func (g *Gate) checkContrast(res *Result, stats imageutil.Stats) {
	contrast := math.Min(100, stats.StdDev/128*100)
	res.Metrics.Contrast = contrast
	if contrast < g.cfg.MinContrast {
		res.Errors = append(res.Errors, fmt.Sprintf("contrast too low: %.1f%% (minimum %.0f%%)",
			contrast, g.cfg.MinContrast))
	}
	if contrast > g.cfg.MaxContrast {
		res.Warnings = append(res.Warnings, fmt.Sprintf("very high contrast: %.1f%%, image may be over-processed", contrast))
	}
}

func (g *Gate) checkSize(res *Result, bytesPerPixel int) {
	size := float64(res.Metrics.Width) * float64(res.Metrics.Height) * float64(bytesPerPixel) *
		g.cfg.CompressionRatio / bytesPerMB
	res.Metrics.EstimatedSizeMB = size
	if size > g.cfg.MaxSizeMB {
		res.Errors = append(res.Errors, fmt.Sprintf("estimated size too large: %.2fMB (maximum %.0fMB)",
			size, g.cfg.MaxSizeMB))
	}
	if size < g.cfg.MinSizeMB {
		res.Warnings = append(res.Warnings, fmt.Sprintf("estimated size very small: %.3fMB", size))
	}
}

func (g *Gate) checkCompleteness(res *Result, stats imageutil.Stats) {
	res.Metrics.Completeness = stats.Below
	if stats.Below < g.cfg.MinCompleteness {
		res.Errors = append(res.Errors, fmt.Sprintf("insufficient content: %.1f%% non-background (minimum %.0f%%)",
			stats.Below*100, g.cfg.MinCompleteness*100))
	}
}
