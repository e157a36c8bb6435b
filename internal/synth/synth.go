// Package synth renders synthetic weighbridge ticket scans for tests and
// the sample data generator.
package synth

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	// Paper is the luminance of scanned paper
	Paper uint8 = 228
	// Margin is the luminance outside the ticket card
	Margin uint8 = 255
	// Ink is the luminance of printed text and rules
	Ink uint8 = 0
)

// Ticket is the printed content of one ticket
type Ticket struct {
	Identifier string
	Date       string
	Reference  string
	NetWeight  string
}

// Lines returns the text lines printed on the ticket body
func (t Ticket) Lines() []string {
	lines := []string{"WEIGHBRIDGE TICKET", "TICKET NO " + t.Identifier}
	if t.Date != "" {
		lines = append(lines, "DATE "+t.Date)
	}
	if t.Reference != "" {
		lines = append(lines, "REF "+t.Reference)
	}
	if t.NetWeight != "" {
		lines = append(lines, "NET "+t.NetWeight+" T")
	}
	return lines
}

// Blank returns a uniform image
func Blank(w, h int, lum uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	fill(img, img.Rect, lum)
	return img
}

// RenderTicket draws one ticket card: paper background, a dark header
// band and the ticket text scaled for legibility.
func RenderTicket(w, h int, t Ticket) *image.Gray {
	img := Blank(w, h, Margin)
	inset := w / 20
	card := image.Rect(inset, inset, w-inset, h-inset)
	fill(img, card, Paper)

	band := image.Rect(card.Min.X, card.Min.Y, card.Max.X, card.Min.Y+h/12)
	fill(img, band, Ink)

	scale := h / 120
	if scale < 1 {
		scale = 1
	}
	y := band.Max.Y + 10*scale
	for _, line := range t.Lines() {
		text := renderText(line, scale)
		r := text.Bounds().Add(image.Pt(card.Min.X+10*scale, y))
		draw.Draw(img, r, text, image.Point{}, draw.Src)
		y += text.Bounds().Dy() + 4*scale
	}
	return img
}

// RenderPage stacks the tickets vertically on one page and draws a cut
// line between neighbours.
func RenderPage(w, h int, tickets ...Ticket) *image.Gray {
	img := Blank(w, h, Margin)
	if len(tickets) == 0 {
		return img
	}
	slot := h / len(tickets)
	for i, t := range tickets {
		card := RenderTicket(w, slot, t)
		draw.Draw(img, image.Rect(0, i*slot, w, (i+1)*slot), card, image.Point{}, draw.Src)
		if i > 0 {
			fill(img, image.Rect(0, i*slot-3, w, i*slot+3), Ink)
		}
	}
	return img
}

// Speckle darkens every n-th pixel to simulate scanner noise
func Speckle(img *image.Gray, n int, lum uint8) {
	for i := 0; i < len(img.Pix); i += n {
		img.Pix[i] = lum
	}
}

// renderText draws s in the 7x13 bitmap face and scales it up with
// nearest-neighbour sampling so glyph edges stay sharp.
func renderText(s string, scale int) image.Image {
	face := basicfont.Face7x13
	width := font.MeasureString(face, s).Ceil()
	src := image.NewGray(image.Rect(0, 0, width, face.Height))
	fill(src, src.Rect, Paper)
	d := &font.Drawer{
		Dst:  src,
		Src:  image.NewUniform(color.Gray{Y: Ink}),
		Face: face,
		Dot:  fixed.P(0, face.Ascent),
	}
	d.DrawString(s)
	if scale == 1 {
		return src
	}
	return imaging.Resize(src, width*scale, face.Height*scale, imaging.NearestNeighbor)
}

func fill(img *image.Gray, r image.Rectangle, lum uint8) {
	draw.Draw(img, r.Intersect(img.Rect), image.NewUniform(color.Gray{Y: lum}), image.Point{}, draw.Src)
}

// Describe summarises a ticket for logs and test names
func (t Ticket) Describe() string {
	return fmt.Sprintf("%s/%s/%s/%s", t.Identifier, t.Date, t.Reference, t.NetWeight)
}
