// Package segment splits scanned pages into ticket-sized regions.
//
// Scans usually carry two tickets per page separated by a cut line or the
// edge of a ticket card. The segmenter looks for a band of strong
// row-to-row luminance change near the vertical middle of the page and
// splits there, with an overlap margin on both sides so an imprecise split
// never cuts through the ticket number. Regions are returned as 8-bit
// grayscale; the quality gate downstream decides whether a split was good.
package segment

import (
	"image"
	"math"

	"ticket-reconciliation-service/internal/config"
	"ticket-reconciliation-service/internal/imageutil"
	"ticket-reconciliation-service/internal/models"
	apperrors "ticket-reconciliation-service/pkg/errors"
	"ticket-reconciliation-service/pkg/logger"
)

// Method records how a page was divided
type Method string

const (
	MethodGradient Method = "gradient"
	MethodEven     Method = "even"
	MethodWhole    Method = "whole"
)

// Region is one ticket-sized crop of a page
type Region struct {
	Index  int
	Bounds image.Rectangle
	Image  *image.Gray
	Method Method
}

// Segmenter splits pages using the segmentation section of the config
type Segmenter struct {
	cfg    config.SegmentationConfig
	logger logger.Logger
}

// New creates a Segmenter
func New(cfg *config.Config) *Segmenter {
	return &Segmenter{
		cfg:    cfg.Segmentation,
		logger: logger.GetGlobalLogger().WithComponent("segmenter"),
	}
}

// Split divides a page into regions. Unreadable pages fail with
// image_processing_failed and blank pages with no_tickets_detected.
func (s *Segmenter) Split(page models.Page) ([]Region, error) {
	if page.Image == nil {
		return nil, apperrors.ImageError(apperrors.CodeImageProcessingFailed, page.Index, nil).
			WithContext("reason", "page has no image data")
	}
	b := page.Image.Bounds()
	if b.Dx() < 1 || b.Dy() < 1 {
		return nil, apperrors.ImageError(apperrors.CodeImageProcessingFailed, page.Index, nil).
			WithContext("reason", "page has zero area")
	}

	gray := imageutil.Luminance(page.Image)
	if imageutil.Measure(gray, 255).StdDev == 0 {
		return nil, apperrors.ImageError(apperrors.CodeNoTicketsDetected, page.Index, nil).
			WithContext("reason", "page is uniform")
	}

	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	log := s.logger.WithFields(logger.Fields{"page": page.Index, "width": w, "height": h})

	if split, ok := s.FindSplit(gray); ok {
		log.WithField("split_row", split).Debug("Split page on gradient band")
		return s.cut(gray, split, MethodGradient), nil
	}
	if float64(h) > s.cfg.PortraitRatio*float64(w) {
		log.Debug("No separator found on portrait page, splitting evenly")
		return s.cut(gray, h/2, MethodEven), nil
	}

	log.Debug("No separator found, keeping whole page")
	return []Region{{Index: 0, Bounds: gray.Rect, Image: gray, Method: MethodWhole}}, nil
}

// cut returns the top and bottom regions around split, each extended by
// the overlap margin and clamped to the page.
func (s *Segmenter) cut(gray *image.Gray, split int, method Method) []Region {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	top := image.Rect(0, 0, w, min(h, split+s.cfg.Margin))
	bottom := image.Rect(0, max(0, split-s.cfg.Margin), w, h)

	return []Region{
		{Index: 0, Bounds: top, Image: imageutil.Crop(gray, top), Method: method},
		{Index: 1, Bounds: bottom, Image: imageutil.Crop(gray, bottom), Method: method},
	}
}

// FindSplit returns the row of the separator band nearest the vertical
// midpoint, if one lies within the configured distance of it.
func (s *Segmenter) FindSplit(gray *image.Gray) (int, bool) {
	profile := EnergyProfile(gray)
	peaks := Peaks(profile, s.cfg.PeakSigma)
	if len(peaks) == 0 {
		return 0, false
	}

	h := gray.Rect.Dy()
	mid := float64(h) / 2
	best, bestDist := 0, math.Inf(1)
	for _, c := range Cluster(peaks, profile, s.cfg.ClusterWindow) {
		if d := math.Abs(float64(c) - mid); d < bestDist {
			best, bestDist = c, d
		}
	}

	if bestDist > s.cfg.CenterTolerance*float64(h) {
		return 0, false
	}
	return best, true
}

// EnergyProfile sums the absolute luminance change between each row and
// the next. Entry y describes the boundary between rows y and y+1.
func EnergyProfile(gray *image.Gray) []float64 {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	if h < 2 {
		return nil
	}
	profile := make([]float64, h-1)
	for y := 0; y < h-1; y++ {
		cur := gray.Pix[y*gray.Stride : y*gray.Stride+w]
		next := gray.Pix[(y+1)*gray.Stride : (y+1)*gray.Stride+w]
		var sum int
		for x := 0; x < w; x++ {
			d := int(next[x]) - int(cur[x])
			if d < 0 {
				d = -d
			}
			sum += d
		}
		profile[y] = float64(sum)
	}
	return profile
}

// Peaks returns the indices whose energy exceeds mean + sigma*stddev
func Peaks(profile []float64, sigma float64) []int {
	if len(profile) == 0 {
		return nil
	}

	var sum, sumSq float64
	for _, v := range profile {
		sum += v
		sumSq += v * v
	}
	n := float64(len(profile))
	mean := sum / n
	std := math.Sqrt(math.Max(0, sumSq/n-mean*mean))
	threshold := mean + sigma*std

	var peaks []int
	for y, v := range profile {
		if v > threshold {
			peaks = append(peaks, y)
		}
	}
	return peaks
}

// Cluster merges sorted peak rows that lie within window pixels of the
// previous peak and returns the energy-weighted centre row of each group.
func Cluster(peaks []int, profile []float64, window int) []int {
	if len(peaks) == 0 {
		return nil
	}

	var centres []int
	start := 0
	flush := func(end int) {
		var weight, moment float64
		for _, y := range peaks[start:end] {
			weight += profile[y]
			moment += profile[y] * float64(y)
		}
		if weight == 0 {
			centres = append(centres, peaks[start])
			return
		}
		centres = append(centres, int(math.Round(moment/weight)))
	}

	for i := 1; i < len(peaks); i++ {
		if peaks[i]-peaks[i-1] > window {
			flush(i)
			start = i
		}
	}
	flush(len(peaks))
	return centres
}
