// Package document turns scanned input files into pages for the pipeline.
//
// PDFs are expected to be scans: each page carries an embedded raster
// image, which is extracted as-is. Page resolution is derived from the
// image size and the page's physical dimensions. Image files (PNG, JPEG,
// TIFF, BMP) become a single page each, with resolution read from the file
// header when present.
package document

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"ticket-reconciliation-service/internal/models"
	apperrors "ticket-reconciliation-service/pkg/errors"
	"ticket-reconciliation-service/pkg/logger"
)

const pointsPerInch = 72.0

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
	".bmp":  true,
}

// Loader reads PDF and image files into pages
type Loader struct {
	conf   *model.Configuration
	logger logger.Logger
}

// NewLoader creates a document loader
func NewLoader() *Loader {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Loader{
		conf:   conf,
		logger: logger.GetGlobalLogger().WithComponent("document"),
	}
}

// IsSupported reports whether path has a loadable extension
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".pdf" || imageExtensions[ext]
}

// LoadAll loads every file in order and numbers the pages consecutively
func (l *Loader) LoadAll(ctx context.Context, paths []string) ([]models.Page, error) {
	var pages []models.Page
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		loaded, err := l.Load(path)
		if err != nil {
			return nil, err
		}
		for _, p := range loaded {
			p.Index = len(pages)
			pages = append(pages, p)
		}
	}
	return pages, nil
}

// Load reads one file
func (l *Loader) Load(path string) ([]models.Page, error) {
	if !IsSupported(path) {
		return nil, apperrors.FileError(apperrors.CodeUnsupportedFormat, path, nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		code := apperrors.CodeFileCorrupted
		if os.IsNotExist(err) {
			code = apperrors.CodeFileNotFound
		} else if os.IsPermission(err) {
			code = apperrors.CodeFilePermission
		}
		return nil, apperrors.FileError(code, path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return l.LoadPDF(bytes.NewReader(data), path)
	}

	page, err := DecodePage(data, path)
	if err != nil {
		return nil, err
	}
	return []models.Page{page}, nil
}

// DecodePage decodes one encoded image into a page
func DecodePage(data []byte, source string) (models.Page, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return models.Page{}, apperrors.FileError(apperrors.CodeFileCorrupted, source, err).
			WithContext("reason", "image could not be decoded")
	}
	logger.GetGlobalLogger().WithComponent("document").WithFields(logger.Fields{
		"source": source,
		"format": format,
		"width":  img.Bounds().Dx(),
		"height": img.Bounds().Dy(),
	}).Debug("Decoded image")

	return models.Page{Source: source, Image: img, DPI: ReadDPI(data)}, nil
}

// LoadPDF extracts one raster page per PDF page. When a page holds more
// than one image the largest is used; pages without images are skipped.
func (l *Loader) LoadPDF(rs io.ReadSeeker, source string) (pages []models.Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = apperrors.FileError(apperrors.CodeFileCorrupted, source, fmt.Errorf("panic while extracting PDF images: %v", r))
		}
	}()

	extracted, err := api.ExtractImagesRaw(rs, nil, l.conf)
	if err != nil {
		return nil, apperrors.FileError(apperrors.CodeFileCorrupted, source, err).
			WithContext("reason", "PDF images could not be extracted")
	}

	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, apperrors.FileError(apperrors.CodeFileCorrupted, source, err)
	}
	dims, err := api.PageDims(rs, l.conf)
	if err != nil {
		l.logger.WithError(err).WithField("source", source).Warn("Page dimensions unavailable, DPI left unset")
		dims = nil
	}

	byPage := make(map[int]image.Image)
	for _, m := range extracted {
		for _, raw := range m {
			img, _, decErr := image.Decode(raw)
			if decErr != nil {
				l.logger.WithError(decErr).WithFields(logger.Fields{
					"source": source,
					"page":   raw.PageNr,
					"object": raw.ObjNr,
					"type":   raw.FileType,
				}).Warn("Skipping undecodable PDF image")
				continue
			}
			if cur, ok := byPage[raw.PageNr]; !ok || area(img) > area(cur) {
				byPage[raw.PageNr] = img
			}
		}
	}

	pageNrs := make([]int, 0, len(byPage))
	for nr := range byPage {
		pageNrs = append(pageNrs, nr)
	}
	sort.Ints(pageNrs)

	for _, nr := range pageNrs {
		img := byPage[nr]
		page := models.Page{Index: len(pages), Source: fmt.Sprintf("%s#%d", source, nr), Image: img}
		if nr >= 1 && nr <= len(dims) {
			page.DPI = pageDPI(img, dims[nr-1].Width, dims[nr-1].Height)
		}
		pages = append(pages, page)
	}

	if skipped := len(dims) - len(pages); len(dims) > 0 && skipped > 0 {
		l.logger.WithFields(logger.Fields{"source": source, "skipped": skipped}).Warn("PDF pages without images skipped")
	}
	return pages, nil
}

// pageDPI derives resolution from the image size and the page size in points
func pageDPI(img image.Image, widthPt, heightPt float64) models.Option[models.DPI] {
	if widthPt <= 0 || heightPt <= 0 {
		return models.None[models.DPI]()
	}
	b := img.Bounds()
	return positive(float64(b.Dx())/(widthPt/pointsPerInch), float64(b.Dy())/(heightPt/pointsPerInch))
}

func area(img image.Image) int {
	b := img.Bounds()
	return b.Dx() * b.Dy()
}
