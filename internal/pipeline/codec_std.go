package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"math"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelfit/internal/domain"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	normaliseLow  = 0.01
	normaliseHigh = 0.99
)

// stdCodec is the default codec: imaging for pixel work, jpegli and
// libavif through WASM for JPEG and AVIF. TIFF is written with Deflate
// because x/image/tiff has no LZW encoder.
type stdCodec struct{}

func (stdCodec) Name() string { return "imaging" }

func (stdCodec) CanEncode(format domain.Format) bool {
	return format.Encodable()
}

func (stdCodec) Probe(data []byte) (Metadata, error) {
	return probeStd(data)
}

func (stdCodec) Decode(data []byte) (Handle, error) {
	format := sniffFormat(data)
	if format == "" {
		return nil, ErrUnsupportedFormat
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return &stdHandle{
		img:     imaging.Clone(img),
		density: sourceDensity(format, data),
	}, nil
}

type stdHandle struct {
	img     *image.NRGBA
	density int
}

func (h *stdHandle) Width() int  { return h.img.Bounds().Dx() }
func (h *stdHandle) Height() int { return h.img.Bounds().Dy() }

func (h *stdHandle) HasAlpha() bool { return !h.img.Opaque() }

// ToSRGB is a no-op: the Go decoders already convert CMYK and YCbCr
// sources to RGB values when the image is materialized as NRGBA.
func (h *stdHandle) ToSRGB() error { return nil }

func (h *stdHandle) SetDensity(dpi int) error {
	h.density = dpi
	return nil
}

func (h *stdHandle) Rotate(degrees int, background color.NRGBA) error {
	// imaging rotates counter-clockwise.
	switch degrees {
	case 90:
		h.img = imaging.Rotate270(h.img)
	case 180:
		h.img = imaging.Rotate180(h.img)
	case 270:
		h.img = imaging.Rotate90(h.img)
	default:
		h.img = imaging.Rotate(h.img, -float64(degrees), background)
	}
	return nil
}

func (h *stdHandle) Flip() error {
	h.img = imaging.FlipV(h.img)
	return nil
}

func (h *stdHandle) Flop() error {
	h.img = imaging.FlipH(h.img)
	return nil
}

func (h *stdHandle) Crop(rect domain.CropRect) error {
	h.img = imaging.Crop(h.img, image.Rect(rect.Left, rect.Top, rect.Left+rect.Width, rect.Top+rect.Height))
	return nil
}

func (h *stdHandle) Resize(plan ResizePlan) error {
	img := imaging.Resize(h.img, plan.Width, plan.Height, imaging.Lanczos)
	switch {
	case plan.CropWidth > 0 && plan.CropHeight > 0:
		img = imaging.CropCenter(img, plan.CropWidth, plan.CropHeight)
	case plan.PadWidth > 0 && plan.PadHeight > 0:
		canvas := imaging.New(plan.PadWidth, plan.PadHeight, white)
		img = imaging.PasteCenter(canvas, img)
	}
	h.img = img
	return nil
}

func (h *stdHandle) Modulate(brightness, saturation float64, hue int) error {
	h.img = imaging.AdjustFunc(h.img, func(c color.NRGBA) color.NRGBA {
		hh, s, l := colorful.Color{
			R: float64(c.R) / 255,
			G: float64(c.G) / 255,
			B: float64(c.B) / 255,
		}.Hsl()
		hh = math.Mod(hh+float64(hue)+360, 360)
		s = clampUnit(s * saturation)
		l = clampUnit(l * brightness)
		r, g, b := colorful.Hsl(hh, s, l).Clamped().RGB255()
		return color.NRGBA{R: r, G: g, B: b, A: c.A}
	})
	return nil
}

func (h *stdHandle) Linear(a, b float64) error {
	h.img = imaging.AdjustFunc(h.img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: clampChannel(a*float64(c.R) + b),
			G: clampChannel(a*float64(c.G) + b),
			B: clampChannel(a*float64(c.B) + b),
			A: c.A,
		}
	})
	return nil
}

func (h *stdHandle) Blur(sigma float64) error {
	h.img = imaging.Blur(h.img, sigma)
	return nil
}

func (h *stdHandle) Sharpen(sigma float64) error {
	h.img = imaging.Sharpen(h.img, sigma)
	return nil
}

func (h *stdHandle) Grayscale() error {
	h.img = imaging.Grayscale(h.img)
	return nil
}

func (h *stdHandle) Negate() error {
	h.img = imaging.Invert(h.img)
	return nil
}

func (h *stdHandle) Normalise() error {
	var hist [256]int
	pix := h.img.Pix
	for i := 0; i+3 < len(pix); i += 4 {
		if pix[i+3] == 0 {
			continue
		}
		hist[luma(pix[i], pix[i+1], pix[i+2])]++
	}
	a, b, ok := stretchFromHistogram(hist)
	if !ok {
		return nil
	}
	return h.Linear(a, b)
}

func (h *stdHandle) Recomb(m [3][3]float64) error {
	h.img = imaging.AdjustFunc(h.img, func(c color.NRGBA) color.NRGBA {
		r, g, b := float64(c.R), float64(c.G), float64(c.B)
		return color.NRGBA{
			R: clampChannel(m[0][0]*r + m[0][1]*g + m[0][2]*b),
			G: clampChannel(m[1][0]*r + m[1][1]*g + m[1][2]*b),
			B: clampChannel(m[2][0]*r + m[2][1]*g + m[2][2]*b),
			A: c.A,
		}
	})
	return nil
}

func (h *stdHandle) Flatten(background color.NRGBA) error {
	canvas := imaging.New(h.Width(), h.Height(), background)
	h.img = imaging.Overlay(canvas, h.img, image.Point{}, 1.0)
	return nil
}

func (h *stdHandle) Encode(opts EncodeOptions) ([]byte, error) {
	var buf bytes.Buffer
	switch opts.Format {
	case domain.FormatJPEG:
		if err := writeJPEG(&buf, h.img, opts); err != nil {
			return nil, err
		}
	case domain.FormatPNG:
		var img image.Image = h.img
		if opts.Palette {
			img = quantize(h.img, opts.Colors, opts.Dither)
		}
		encoder := png.Encoder{CompressionLevel: pngCompression(opts.CompressionLevel)}
		if err := encoder.Encode(&buf, img); err != nil {
			return nil, err
		}
	case domain.FormatGIF:
		paletted := quantize(h.img, 256, opts.Dither)
		if err := gif.Encode(&buf, paletted, &gif.Options{NumColors: len(paletted.Palette)}); err != nil {
			return nil, err
		}
	case domain.FormatTIFF:
		if err := tiff.Encode(&buf, h.img, &tiff.Options{Compression: tiff.Deflate, Predictor: opts.TIFFPredictor != ""}); err != nil {
			return nil, err
		}
	case domain.FormatWebP:
		return encodeWebP(h.img, opts)
	case domain.FormatAVIF:
		if err := writeAVIF(&buf, h.img, opts); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrEncoderUnavailable, opts.Format)
	}
	return writeDensity(opts.Format, buf.Bytes(), encodeDensity(h.density, opts))
}

func (h *stdHandle) Close() {
	h.img = nil
}

func pngCompression(level int) png.CompressionLevel {
	switch {
	case level <= 0:
		return png.NoCompression
	case level <= 3:
		return png.BestSpeed
	case level <= 6:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}

// stretchFromHistogram returns the linear transform mapping the 1st and 99th
// luminance percentiles onto the full 0..255 range.
func stretchFromHistogram(hist [256]int) (a, b float64, ok bool) {
	total := 0
	for _, n := range hist {
		total += n
	}
	if total == 0 {
		return 0, 0, false
	}

	lowCount := int(math.Ceil(normaliseLow * float64(total)))
	highCount := int(math.Ceil(normaliseHigh * float64(total)))
	lo, hi := -1, -1
	seen := 0
	for v, n := range hist {
		seen += n
		if lo < 0 && seen >= lowCount {
			lo = v
		}
		if hi < 0 && seen >= highCount {
			hi = v
			break
		}
	}
	if lo < 0 || hi <= lo {
		return 0, 0, false
	}

	a = 255 / float64(hi-lo)
	b = -a * float64(lo)
	return a, b, true
}

func luma(r, g, b uint8) uint8 {
	return uint8(math.Round(0.2126*float64(r) + 0.7152*float64(g) + 0.0722*float64(b)))
}

func clampChannel(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(math.Round(v))
	}
}

func clampUnit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
