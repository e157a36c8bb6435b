package recognition

import (
	"image"
	"math"

	"ticket-reconciliation-service/internal/imageutil"
	"ticket-reconciliation-service/internal/models"
)

const (
	referencePixels   = 1200 * 800
	referenceContrast = 60.0
	backgroundCutoff  = 240
)

// HeuristicConfidence estimates how readable an image is without an OCR
// engine: up to 40 points for size, 40 for contrast and 20 for a plausible
// share of ink.
func HeuristicConfidence(m models.QualityMetrics) float64 {
	size := math.Min(1, float64(m.Width*m.Height)/referencePixels)
	contrast := math.Min(1, m.Contrast/referenceContrast)
	density := 0.5
	if m.Completeness >= 0.1 && m.Completeness <= 0.6 {
		density = 1
	}
	return 40*size + 40*contrast + 20*density
}

func heuristicResult(img image.Image, m models.QualityMetrics) Result {
	if m.Width == 0 && img != nil {
		m = measure(img)
	}
	return Result{
		Identifier: models.None[string](),
		Confidence: HeuristicConfidence(m),
		Mode:       ModeHeuristic,
	}
}

func measure(img image.Image) models.QualityMetrics {
	b := img.Bounds()
	m := models.QualityMetrics{Width: b.Dx(), Height: b.Dy()}
	if b.Empty() {
		return m
	}
	stats := imageutil.Measure(imageutil.Luminance(img), backgroundCutoff)
	m.Contrast = math.Min(100, stats.StdDev/128*100)
	m.Completeness = stats.Below
	return m
}
