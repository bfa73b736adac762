//go:build govips && cgo

package pipeline

import (
	"bytes"
	"fmt"
	"image/color"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/pixelfit/internal/domain"
)

type vipsCodec struct{}

func (vipsCodec) Name() string { return "libvips" }

// CanEncode asks libvips which savers it was built with. AVIF is written by
// libavif directly so the chroma setting is honored.
func (vipsCodec) CanEncode(format domain.Format) bool {
	switch format {
	case domain.FormatAVIF:
		return true
	case domain.FormatJPEG:
		return vips.IsTypeSupported(vips.ImageTypeJPEG)
	case domain.FormatPNG:
		return vips.IsTypeSupported(vips.ImageTypePNG)
	case domain.FormatWebP:
		return vips.IsTypeSupported(vips.ImageTypeWEBP)
	case domain.FormatGIF:
		return vips.IsTypeSupported(vips.ImageTypeGIF)
	case domain.FormatTIFF:
		return vips.IsTypeSupported(vips.ImageTypeTIFF)
	default:
		return false
	}
}

func (vipsCodec) Probe(data []byte) (Metadata, error) {
	format := formatFromVips(vips.DetermineImageType(data))
	if format == "" {
		return Metadata{}, ErrUnsupportedFormat
	}

	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	defer img.Close()

	return Metadata{
		Format:     format,
		Width:      img.Width(),
		Height:     img.Height(),
		HasAlpha:   img.HasAlpha(),
		ColorSpace: colorSpaceFromVips(img.Interpretation()),
		Density:    sourceDensity(format, data),
	}, nil
}

func (vipsCodec) Decode(data []byte) (Handle, error) {
	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if err := img.AutoRotate(); err != nil {
		img.Close()
		return nil, fmt.Errorf("auto rotate: %w", err)
	}
	return &vipsHandle{
		img:     img,
		density: sourceDensity(formatFromVips(vips.DetermineImageType(data)), data),
	}, nil
}

func formatFromVips(t vips.ImageType) domain.Format {
	switch t {
	case vips.ImageTypeJPEG:
		return domain.FormatJPEG
	case vips.ImageTypePNG:
		return domain.FormatPNG
	case vips.ImageTypeWEBP:
		return domain.FormatWebP
	case vips.ImageTypeAVIF:
		return domain.FormatAVIF
	case vips.ImageTypeGIF:
		return domain.FormatGIF
	case vips.ImageTypeTIFF:
		return domain.FormatTIFF
	case vips.ImageTypeBMP:
		return domain.FormatBMP
	default:
		return ""
	}
}

func colorSpaceFromVips(i vips.Interpretation) ColorSpace {
	switch i {
	case vips.InterpretationSRGB, vips.InterpretationScRGB:
		return ColorSpaceSRGB
	case vips.InterpretationRGB, vips.InterpretationRGB16:
		return ColorSpaceRGB
	case vips.InterpretationBW, vips.InterpretationGrey16:
		return ColorSpaceGray
	case vips.InterpretationCMYK:
		return ColorSpaceCMYK
	case vips.InterpretationLAB, vips.InterpretationLABS:
		return ColorSpaceLab
	default:
		return ColorSpaceOther
	}
}

type vipsHandle struct {
	img     *vips.ImageRef
	density int
}

func (h *vipsHandle) Width() int     { return h.img.Width() }
func (h *vipsHandle) Height() int    { return h.img.Height() }
func (h *vipsHandle) HasAlpha() bool { return h.img.HasAlpha() }

func (h *vipsHandle) ToSRGB() error {
	return h.img.ToColorSpace(vips.InterpretationSRGB)
}

// SetDensity is applied to the exported bytes, since govips has no
// resolution setter on the image itself.
func (h *vipsHandle) SetDensity(dpi int) error {
	h.density = dpi
	return nil
}

func (h *vipsHandle) Rotate(degrees int, background color.NRGBA) error {
	switch degrees {
	case 90:
		return h.img.Rotate(vips.Angle90)
	case 180:
		return h.img.Rotate(vips.Angle180)
	case 270:
		return h.img.Rotate(vips.Angle270)
	}
	bg := &vips.ColorRGBA{R: background.R, G: background.G, B: background.B, A: background.A}
	return h.img.Similarity(1, float64(degrees), bg, 0, 0, 0, 0)
}

func (h *vipsHandle) Flip() error {
	return h.img.Flip(vips.DirectionVertical)
}

func (h *vipsHandle) Flop() error {
	return h.img.Flip(vips.DirectionHorizontal)
}

func (h *vipsHandle) Crop(rect domain.CropRect) error {
	return h.img.ExtractArea(rect.Left, rect.Top, rect.Width, rect.Height)
}

func (h *vipsHandle) Resize(plan ResizePlan) error {
	hScale := float64(plan.Width) / float64(h.img.Width())
	vScale := float64(plan.Height) / float64(h.img.Height())
	if err := h.img.ResizeWithVScale(hScale, vScale, vips.KernelLanczos3); err != nil {
		return err
	}

	switch {
	case plan.CropWidth > 0 && plan.CropHeight > 0:
		left := (h.img.Width() - plan.CropWidth) / 2
		top := (h.img.Height() - plan.CropHeight) / 2
		return h.img.ExtractArea(left, top, plan.CropWidth, plan.CropHeight)
	case plan.PadWidth > 0 && plan.PadHeight > 0:
		left := (plan.PadWidth - h.img.Width()) / 2
		top := (plan.PadHeight - h.img.Height()) / 2
		bg := &vips.Color{R: white.R, G: white.G, B: white.B}
		return h.img.EmbedBackground(left, top, plan.PadWidth, plan.PadHeight, bg)
	}
	return nil
}

func (h *vipsHandle) Modulate(brightness, saturation float64, hue int) error {
	return h.img.Modulate(brightness, saturation, float64(hue))
}

func (h *vipsHandle) Linear(a, b float64) error {
	if !h.img.HasAlpha() {
		return h.img.Linear1(a, b)
	}
	scale, offset := colorOnly(h.img.Bands(), a, b)
	return h.img.Linear(scale, offset)
}

func (h *vipsHandle) Blur(sigma float64) error {
	return h.img.GaussianBlur(sigma)
}

func (h *vipsHandle) Sharpen(sigma float64) error {
	return h.img.Sharpen(sigma, 1.0, 2.0)
}

// Grayscale goes through B_W and back so later three-band ops still apply.
func (h *vipsHandle) Grayscale() error {
	if err := h.img.ToColorSpace(vips.InterpretationBW); err != nil {
		return err
	}
	return h.img.ToColorSpace(vips.InterpretationSRGB)
}

func (h *vipsHandle) Negate() error {
	return h.Linear(-1, 255)
}

func (h *vipsHandle) Normalise() error {
	img, err := h.img.ToImage(vips.NewDefaultPNGExportParams())
	if err != nil {
		return fmt.Errorf("read pixels: %w", err)
	}

	var hist [256]int
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if c.A == 0 {
				continue
			}
			hist[luma(c.R, c.G, c.B)]++
		}
	}
	a, off, ok := stretchFromHistogram(hist)
	if !ok {
		return nil
	}
	return h.Linear(a, off)
}

func (h *vipsHandle) Recomb(m [3][3]float64) error {
	matrix := [][]float64{
		{m[0][0], m[0][1], m[0][2]},
		{m[1][0], m[1][1], m[1][2]},
		{m[2][0], m[2][1], m[2][2]},
	}
	if h.img.HasAlpha() {
		for i := range matrix {
			matrix[i] = append(matrix[i], 0)
		}
		matrix = append(matrix, []float64{0, 0, 0, 1})
	}
	return h.img.Recomb(matrix)
}

func (h *vipsHandle) Flatten(background color.NRGBA) error {
	return h.img.Flatten(&vips.Color{R: background.R, G: background.G, B: background.B})
}

func (h *vipsHandle) Encode(opts EncodeOptions) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch opts.Format {
	case domain.FormatJPEG:
		p := vips.NewJpegExportParams()
		p.Quality = opts.Quality
		p.SubsampleMode = vips.VipsForeignSubsampleOn
		if opts.Chroma == Chroma444 {
			p.SubsampleMode = vips.VipsForeignSubsampleOff
		}
		p.TrellisQuant = opts.TrellisQuant
		p.OvershootDeringing = opts.OvershootDeringing
		p.OptimizeScans = opts.OptimizeScans
		if opts.MozJPEGQuantTable {
			p.QuantTable = 3
		}
		data, _, err = h.img.ExportJpeg(p)
	case domain.FormatPNG:
		p := vips.NewPngExportParams()
		p.Compression = opts.CompressionLevel
		p.Quality = opts.Quality
		p.Palette = opts.Palette
		if opts.Palette {
			p.Dither = opts.Dither
			p.Bitdepth = paletteBitdepth(opts.Colors)
		}
		data, _, err = h.img.ExportPng(p)
	case domain.FormatWebP:
		p := vips.NewWebpExportParams()
		p.Quality = opts.Quality
		p.Lossless = opts.Lossless
		p.NearLossless = opts.NearLossless
		p.ReductionEffort = opts.Effort
		data, _, err = h.img.ExportWebp(p)
	case domain.FormatAVIF:
		img, rerr := h.img.ToImage(vips.NewDefaultPNGExportParams())
		if rerr != nil {
			return nil, fmt.Errorf("read pixels: %w", rerr)
		}
		var buf bytes.Buffer
		err = writeAVIF(&buf, img, opts)
		data = buf.Bytes()
	case domain.FormatGIF:
		p := vips.NewGifExportParams()
		p.Dither = opts.Dither
		p.Effort = opts.Effort
		data, _, err = h.img.ExportGIF(p)
	case domain.FormatTIFF:
		p := vips.NewTiffExportParams()
		p.Compression = vips.TiffCompressionLzw
		p.Predictor = vips.TiffPredictorHorizontal
		data, _, err = h.img.ExportTiff(p)
	default:
		return nil, fmt.Errorf("%w: %q", ErrEncoderUnavailable, opts.Format)
	}
	if err != nil {
		return nil, err
	}
	return writeDensity(opts.Format, data, encodeDensity(h.density, opts))
}

func (h *vipsHandle) Close() {
	if h.img != nil {
		h.img.Close()
		h.img = nil
	}
}

// colorOnly expands a single linear transform to per-band slices that leave
// the trailing alpha band untouched.
func colorOnly(bands int, a, b float64) ([]float64, []float64) {
	scale := make([]float64, bands)
	offset := make([]float64, bands)
	for i := range bands {
		scale[i], offset[i] = a, b
	}
	scale[bands-1], offset[bands-1] = 1, 0
	return scale, offset
}

// paletteBitdepth is the smallest PNG bit depth holding colors entries.
func paletteBitdepth(colors int) int {
	switch {
	case colors <= 2:
		return 1
	case colors <= 4:
		return 2
	case colors <= 16:
		return 4
	default:
		return 8
	}
}
