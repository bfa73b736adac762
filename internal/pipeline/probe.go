package pipeline

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/dunamismax/pixelfit/internal/domain"
)

var (
	pngSignature  = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
	riffSignature = []byte("RIFF")
	webpSignature = []byte("WEBP")
)

// sniffFormat identifies the container from its magic bytes.
func sniffFormat(data []byte) domain.Format {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return domain.FormatJPEG
	case bytes.HasPrefix(data, pngSignature):
		return domain.FormatPNG
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return domain.FormatGIF
	case len(data) >= 12 && bytes.HasPrefix(data, riffSignature) && bytes.Equal(data[8:12], webpSignature):
		return domain.FormatWebP
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return domain.FormatTIFF
	case len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")) &&
		(bytes.Equal(data[8:12], []byte("avif")) || bytes.Equal(data[8:12], []byte("avis"))):
		return domain.FormatAVIF
	case bytes.HasPrefix(data, []byte("BM")):
		return domain.FormatBMP
	default:
		return ""
	}
}

// probeStd reads header-level metadata with the registered Go decoders.
func probeStd(data []byte) (Metadata, error) {
	format := sniffFormat(data)
	if format == "" {
		return Metadata{}, ErrUnsupportedFormat
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	md := Metadata{
		Format:     format,
		Width:      cfg.Width,
		Height:     cfg.Height,
		ColorSpace: colorSpaceOf(cfg.ColorModel),
		HasAlpha:   modelHasAlpha(cfg.ColorModel),
		Density:    sourceDensity(format, data),
	}

	switch format {
	case domain.FormatPNG:
		md.HasAlpha = readPNGInfo(data).alpha
	case domain.FormatJPEG:
		md.HasAlpha = false
	}
	return md, nil
}

func colorSpaceOf(model color.Model) ColorSpace {
	switch model {
	case color.CMYKModel:
		return ColorSpaceCMYK
	case color.GrayModel, color.Gray16Model:
		return ColorSpaceGray
	default:
		return ColorSpaceSRGB
	}
}

func modelHasAlpha(model color.Model) bool {
	switch model {
	case color.NRGBAModel, color.NRGBA64Model, color.RGBAModel, color.RGBA64Model,
		color.AlphaModel, color.Alpha16Model, color.NYCbCrAModel:
		return true
	}
	if palette, ok := model.(color.Palette); ok {
		for _, c := range palette {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return true
			}
		}
	}
	return false
}

type pngInfo struct {
	alpha   bool
	density int
}

// readPNGInfo walks the chunks up to IDAT. The decoder reports truecolor PNGs
// with an RGBA model, so alpha is derived from the IHDR color type and tRNS.
func readPNGInfo(data []byte) pngInfo {
	var info pngInfo
	off := len(pngSignature)
	for off+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[off : off+4]))
		kind := string(data[off+4 : off+8])
		body := off + 8
		if length < 0 || body+length > len(data) {
			break
		}
		chunk := data[body : body+length]

		switch kind {
		case "IHDR":
			if len(chunk) >= 10 {
				colorType := chunk[9]
				info.alpha = colorType == 4 || colorType == 6
			}
		case "tRNS":
			info.alpha = true
		case "pHYs":
			if len(chunk) >= 9 && chunk[8] == 1 {
				ppm := binary.BigEndian.Uint32(chunk[0:4])
				info.density = int(math.Round(float64(ppm) * metersPerInch))
			}
		case "IDAT", "IEND":
			return info
		}
		off = body + length + 4
	}
	return info
}
