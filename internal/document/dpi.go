package document

import (
	"bytes"
	"encoding/binary"

	"ticket-reconciliation-service/internal/models"
)

const (
	inchesPerMeter = 0.0254
	cmPerInch      = 2.54
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// ReadDPI reads the resolution stored in an encoded image. PNG pHYs, JPEG
// JFIF and BMP headers are understood; anything else is absent.
func ReadDPI(data []byte) models.Option[models.DPI] {
	switch {
	case bytes.HasPrefix(data, pngSignature):
		return pngDPI(data)
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8}):
		return jfifDPI(data)
	case bytes.HasPrefix(data, []byte("BM")):
		return bmpDPI(data)
	}
	return models.None[models.DPI]()
}

// pngDPI walks the chunks up to IDAT looking for pHYs in pixels per metre
func pngDPI(data []byte) models.Option[models.DPI] {
	pos := len(pngSignature)
	for pos+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[pos:]))
		kind := string(data[pos+4 : pos+8])
		body := pos + 8
		if length < 0 || body+length > len(data) {
			break
		}

		switch kind {
		case "pHYs":
			if length < 9 || data[body+8] != 1 {
				return models.None[models.DPI]()
			}
			x := float64(binary.BigEndian.Uint32(data[body:])) * inchesPerMeter
			y := float64(binary.BigEndian.Uint32(data[body+4:])) * inchesPerMeter
			return positive(x, y)
		case "IDAT", "IEND":
			return models.None[models.DPI]()
		}
		pos = body + length + 4
	}
	return models.None[models.DPI]()
}

// jfifDPI reads the density of the APP0 JFIF segment
func jfifDPI(data []byte) models.Option[models.DPI] {
	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xFF {
			break
		}
		marker := data[pos+1]
		length := int(binary.BigEndian.Uint16(data[pos+2:]))
		body := pos + 4
		if length < 2 || body+length-2 > len(data) {
			break
		}
		if marker == 0xDA {
			break
		}

		if marker == 0xE0 && length >= 16 && bytes.Equal(data[body:body+5], []byte("JFIF\x00")) {
			units := data[body+7]
			x := float64(binary.BigEndian.Uint16(data[body+8:]))
			y := float64(binary.BigEndian.Uint16(data[body+10:]))
			switch units {
			case 1:
				return positive(x, y)
			case 2:
				return positive(x*cmPerInch, y*cmPerInch)
			}
			return models.None[models.DPI]()
		}
		pos = body + length - 2
	}
	return models.None[models.DPI]()
}

// bmpDPI reads the pixels-per-metre fields of a BITMAPINFOHEADER
func bmpDPI(data []byte) models.Option[models.DPI] {
	if len(data) < 46 {
		return models.None[models.DPI]()
	}
	x := float64(int32(binary.LittleEndian.Uint32(data[38:]))) * inchesPerMeter
	y := float64(int32(binary.LittleEndian.Uint32(data[42:]))) * inchesPerMeter
	return positive(x, y)
}

func positive(x, y float64) models.Option[models.DPI] {
	if x <= 0 || y <= 0 {
		return models.None[models.DPI]()
	}
	return models.Some(models.DPI{X: x, Y: y})
}
