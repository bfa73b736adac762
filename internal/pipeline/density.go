package pipeline

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"math"

	"github.com/dunamismax/pixelfit/internal/domain"
)

const (
	metersPerInch = 0.0254
	maxJFIFDPI    = math.MaxUint16

	tiffTagXResolution   = 282
	tiffTagYResolution   = 283
	tiffTagResolutionRef = 296
	tiffTypeShort        = 3
	tiffTypeRational     = 5
	tiffUnitInch         = 2
	tiffUnitCentimeter   = 3
)

var (
	errMalformedPNG  = errors.New("png: malformed chunk layout")
	errMalformedJPEG = errors.New("jpeg: malformed marker layout")
	errMalformedTIFF = errors.New("tiff: malformed header")
	errNoTIFFDensity = errors.New("tiff: no resolution tags to update")
	jfifIdentifier   = []byte("JFIF\x00")
)

// sourceDensity reads the DPI a container declares, or 0.
func sourceDensity(format domain.Format, data []byte) int {
	switch format {
	case domain.FormatPNG:
		return readPNGInfo(data).density
	case domain.FormatJPEG:
		return readJFIFDensity(data)
	case domain.FormatTIFF:
		return readTIFFDensity(data)
	default:
		return 0
	}
}

// writeDensity stamps dpi into the container's resolution fields. Formats
// without one (GIF, WebP, AVIF) pass through unchanged.
func writeDensity(format domain.Format, data []byte, dpi int) ([]byte, error) {
	if dpi <= 0 {
		return data, nil
	}
	switch format {
	case domain.FormatPNG:
		return setPNGDensity(data, dpi)
	case domain.FormatJPEG:
		return setJFIFDensity(data, dpi)
	case domain.FormatTIFF:
		return setTIFFDensity(data, dpi)
	default:
		return data, nil
	}
}

// encodeDensity picks what Encode writes: the handle's own density, else
// the format default from opts.
func encodeDensity(handleDPI int, opts EncodeOptions) int {
	if handleDPI > 0 {
		return handleDPI
	}
	return opts.ResolutionDPI
}

func pngChunk(kind string, body []byte) []byte {
	chunk := make([]byte, 0, 12+len(body))
	chunk = binary.BigEndian.AppendUint32(chunk, uint32(len(body)))
	chunk = append(chunk, kind...)
	chunk = append(chunk, body...)
	crc := crc32.NewIEEE()
	crc.Write([]byte(kind))
	crc.Write(body)
	return binary.BigEndian.AppendUint32(chunk, crc.Sum32())
}

// setPNGDensity replaces pHYs, or adds one right after IHDR.
func setPNGDensity(data []byte, dpi int) ([]byte, error) {
	if !bytes.HasPrefix(data, pngSignature) {
		return nil, errMalformedPNG
	}
	ppm := uint32(math.Round(float64(dpi) / metersPerInch))
	body := make([]byte, 9)
	binary.BigEndian.PutUint32(body[0:4], ppm)
	binary.BigEndian.PutUint32(body[4:8], ppm)
	body[8] = 1
	phys := pngChunk("pHYs", body)

	insertAt := -1
	off := len(pngSignature)
	for off+12 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[off : off+4]))
		kind := string(data[off+4 : off+8])
		end := off + 12 + length
		if length < 0 || end > len(data) {
			return nil, errMalformedPNG
		}
		if kind == "pHYs" {
			return splice(data, off, end, phys), nil
		}
		if kind == "IHDR" {
			insertAt = end
		}
		if kind == "IDAT" || kind == "IEND" {
			break
		}
		off = end
	}
	if insertAt < 0 {
		return nil, errMalformedPNG
	}
	return splice(data, insertAt, insertAt, phys), nil
}

// findJFIF returns the offset of the APP0 JFIF payload, or -1. Only the
// leading APPn segments are searched.
func findJFIF(data []byte) (int, error) {
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		return -1, errMalformedJPEG
	}
	off := 2
	for off+4 <= len(data) {
		if data[off] != 0xFF {
			return -1, errMalformedJPEG
		}
		marker := data[off+1]
		if marker < 0xE0 || marker > 0xEF {
			return -1, nil
		}
		length := int(binary.BigEndian.Uint16(data[off+2 : off+4]))
		seg := off + 4
		end := off + 2 + length
		if length < 2 || end > len(data) {
			return -1, errMalformedJPEG
		}
		if marker == 0xE0 && end-seg >= 12 && bytes.Equal(data[seg:seg+5], jfifIdentifier) {
			return seg, nil
		}
		off = end
	}
	return -1, nil
}

// readJFIFDensity returns the APP0 density in DPI, or 0 when absent or
// expressed as an aspect ratio only.
func readJFIFDensity(data []byte) int {
	seg, err := findJFIF(data)
	if err != nil || seg < 0 {
		return 0
	}
	x := int(binary.BigEndian.Uint16(data[seg+8 : seg+10]))
	switch data[seg+7] {
	case 1:
		return x
	case 2:
		return int(math.Round(float64(x) * 2.54))
	default:
		return 0
	}
}

// setJFIFDensity rewrites the APP0 density in dots per inch, adding a JFIF
// segment after SOI when the encoder wrote none.
func setJFIFDensity(data []byte, dpi int) ([]byte, error) {
	seg, err := findJFIF(data)
	if err != nil {
		return nil, err
	}
	d := uint16(min(dpi, maxJFIFDPI))
	if seg >= 0 {
		out := bytes.Clone(data)
		out[seg+7] = 1
		binary.BigEndian.PutUint16(out[seg+8:seg+10], d)
		binary.BigEndian.PutUint16(out[seg+10:seg+12], d)
		return out, nil
	}

	app0 := []byte{0xFF, 0xE0, 0x00, 0x10}
	app0 = append(app0, jfifIdentifier...)
	app0 = append(app0, 0x01, 0x01, 0x01)
	app0 = binary.BigEndian.AppendUint16(app0, d)
	app0 = binary.BigEndian.AppendUint16(app0, d)
	app0 = append(app0, 0x00, 0x00)
	return splice(data, 2, 2, app0), nil
}

type tiffEntry struct {
	tag uint16
	typ uint16
	// at is the offset of the entry's 4-byte value field.
	at int
}

// tiffEntries lists the first IFD of a TIFF stream.
func tiffEntries(data []byte) (binary.ByteOrder, []tiffEntry, error) {
	if len(data) < 8 {
		return nil, nil, errMalformedTIFF
	}
	var order binary.ByteOrder
	switch string(data[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, nil, errMalformedTIFF
	}
	ifd := int(order.Uint32(data[4:8]))
	if ifd < 8 || ifd+2 > len(data) {
		return nil, nil, errMalformedTIFF
	}
	n := int(order.Uint16(data[ifd : ifd+2]))
	if ifd+2+n*12 > len(data) {
		return nil, nil, errMalformedTIFF
	}
	entries := make([]tiffEntry, 0, n)
	for i := range n {
		e := ifd + 2 + i*12
		entries = append(entries, tiffEntry{
			tag: order.Uint16(data[e : e+2]),
			typ: order.Uint16(data[e+2 : e+4]),
			at:  e + 8,
		})
	}
	return order, entries, nil
}

func readTIFFDensity(data []byte) int {
	order, entries, err := tiffEntries(data)
	if err != nil {
		return 0
	}
	unit := uint16(tiffUnitInch)
	var x float64
	for _, e := range entries {
		switch {
		case e.tag == tiffTagXResolution && e.typ == tiffTypeRational:
			off := int(order.Uint32(data[e.at : e.at+4]))
			if off+8 > len(data) {
				return 0
			}
			num, den := order.Uint32(data[off:off+4]), order.Uint32(data[off+4:off+8])
			if den == 0 {
				return 0
			}
			x = float64(num) / float64(den)
		case e.tag == tiffTagResolutionRef && e.typ == tiffTypeShort:
			unit = order.Uint16(data[e.at : e.at+2])
		}
	}
	switch unit {
	case tiffUnitInch:
		return int(math.Round(x))
	case tiffUnitCentimeter:
		return int(math.Round(x * 2.54))
	default:
		return 0
	}
}

// setTIFFDensity overwrites the existing X/Y resolution rationals and sets
// the unit to inches. Both Go and libvips TIFF writers emit these tags.
func setTIFFDensity(data []byte, dpi int) ([]byte, error) {
	order, entries, err := tiffEntries(data)
	if err != nil {
		return nil, err
	}
	out := bytes.Clone(data)
	found := 0
	for _, e := range entries {
		switch {
		case (e.tag == tiffTagXResolution || e.tag == tiffTagYResolution) && e.typ == tiffTypeRational:
			off := int(order.Uint32(out[e.at : e.at+4]))
			if off+8 > len(out) {
				return nil, errMalformedTIFF
			}
			order.PutUint32(out[off:off+4], uint32(dpi))
			order.PutUint32(out[off+4:off+8], 1)
			found++
		case e.tag == tiffTagResolutionRef && e.typ == tiffTypeShort:
			order.PutUint16(out[e.at:e.at+2], tiffUnitInch)
		}
	}
	if found < 2 {
		return nil, errNoTIFFDensity
	}
	return out, nil
}

func splice(data []byte, from, to int, insert []byte) []byte {
	out := make([]byte, 0, len(data)-(to-from)+len(insert))
	out = append(out, data[:from]...)
	out = append(out, insert...)
	return append(out, data[to:]...)
}
