package quality

import (
	"image"
	"image/color"
	"strings"
	"testing"

	"ticket-reconciliation-service/internal/config"
	"ticket-reconciliation-service/internal/models"
	"ticket-reconciliation-service/internal/synth"
)

func dpi(v float64) models.Option[models.DPI] {
	return models.Some(models.UniformDPI(v))
}

func checkerboard(w, h, cell int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/cell+y/cell)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 0})
			} else {
				img.SetGray(x, y, color.Gray{Y: 200})
			}
		}
	}
	return img
}

func hasMessage(msgs []string, fragment string) bool {
	for _, m := range msgs {
		if strings.Contains(m, fragment) {
			return true
		}
	}
	return false
}

func TestValidateGoodTicket(t *testing.T) {
	gate := NewGate(config.DefaultConfig())
	img := synth.RenderTicket(1240, 927, synth.Ticket{Identifier: "T10234", Date: "15/01/2023", NetWeight: "10.50"})

	res := gate.Validate(img, dpi(150))
	if !res.Valid {
		t.Fatalf("expected synthetic ticket to pass, got errors %v", res.Errors)
	}
	if res.Metrics.Contrast < 30 || res.Metrics.Contrast > 90 {
		t.Errorf("expected contrast within bounds, got %.1f", res.Metrics.Contrast)
	}
	if res.Metrics.Completeness < 0.10 {
		t.Errorf("expected completeness >= 10%%, got %.2f", res.Metrics.Completeness)
	}
	if res.Metrics.EstimatedSizeMB > 1 {
		t.Errorf("expected grayscale region well under 1MB, got %.2f", res.Metrics.EstimatedSizeMB)
	}
}

func TestValidateSmallImageAlwaysFails(t *testing.T) {
	gate := NewGate(config.DefaultConfig())

	for _, d := range []float64{72, 300, 600} {
		res := gate.Validate(checkerboard(50, 30, 5), dpi(d))
		if res.Valid {
			t.Errorf("expected 50x30 image to be invalid at %.0f DPI", d)
		}
		if !hasMessage(res.Errors, "dimensions too small") {
			t.Errorf("expected 'dimensions too small' error, got %v", res.Errors)
		}
	}
}

func TestValidateChecks(t *testing.T) {
	gate := NewGate(config.DefaultConfig())

	tests := []struct {
		name        string
		img         image.Image
		dpi         models.Option[models.DPI]
		expectValid bool
		errorFrag   string
		warningFrag string
	}{
		{
			name:      "missing DPI defaults to 72",
			img:       checkerboard(600, 400, 10),
			dpi:       models.None[models.DPI](),
			errorFrag: "resolution too low: 72 DPI",
		},
		{
			name:      "flat image has no contrast",
			img:       synth.Blank(600, 400, 200),
			dpi:       dpi(300),
			errorFrag: "contrast too low",
		},
		{
			name:      "white page lacks content",
			img:       synth.Blank(600, 400, 255),
			dpi:       dpi(300),
			errorFrag: "insufficient content",
		},
		{
			name:      "large colour scan exceeds size estimate",
			img:       image.NewRGBA(image.Rect(0, 0, 3000, 2000)),
			dpi:       dpi(300),
			errorFrag: "estimated size too large",
		},
		{
			name:        "skewed resolution warns",
			img:         checkerboard(600, 400, 10),
			dpi:         models.Some(models.DPI{X: 300, Y: 200}),
			expectValid: true,
			warningFrag: "uneven resolution",
		},
		{
			name:        "extreme aspect ratio warns",
			img:         checkerboard(2000, 150, 10),
			dpi:         dpi(300),
			expectValid: true,
			warningFrag: "aspect ratio",
		},
		{
			name:        "hard black and white warns about over-processing",
			img:         binary(600, 400),
			dpi:         dpi(300),
			expectValid: true,
			warningFrag: "very high contrast",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := gate.Validate(tt.img, tt.dpi)
			if res.Valid != tt.expectValid {
				t.Errorf("expected valid=%t, got %t (errors %v)", tt.expectValid, res.Valid, res.Errors)
			}
			if tt.errorFrag != "" && !hasMessage(res.Errors, tt.errorFrag) {
				t.Errorf("expected error containing %q, got %v", tt.errorFrag, res.Errors)
			}
			if tt.warningFrag != "" && !hasMessage(res.Warnings, tt.warningFrag) {
				t.Errorf("expected warning containing %q, got %v", tt.warningFrag, res.Warnings)
			}
		})
	}
}

func binary(w, h int) *image.Gray {
	img := synth.Blank(w, h, 255)
	for y := 0; y < h/2; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: 0})
		}
	}
	return img
}

func TestValidateAccumulatesErrors(t *testing.T) {
	gate := NewGate(config.DefaultConfig())

	res := gate.Validate(synth.Blank(50, 30, 255), models.None[models.DPI]())
	if res.Valid {
		t.Fatalf("expected invalid result")
	}
	for _, frag := range []string{"dimensions too small", "resolution too low", "contrast too low", "insufficient content"} {
		if !hasMessage(res.Errors, frag) {
			t.Errorf("expected error containing %q, got %v", frag, res.Errors)
		}
	}
	if !strings.Contains(res.Reason(), "; ") {
		t.Errorf("expected joined reason, got %q", res.Reason())
	}
	if !hasMessage(res.Warnings, "estimated size very small") {
		t.Errorf("expected small size warning, got %v", res.Warnings)
	}
}

func TestValidateWithStrictThresholds(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Quality.MinDPI = 400

	res := NewGate(cfg).Validate(checkerboard(600, 400, 10), dpi(300))
	if res.Valid || !hasMessage(res.Errors, "minimum 400") {
		t.Errorf("expected configured DPI threshold to apply, got %v", res.Errors)
	}
}
