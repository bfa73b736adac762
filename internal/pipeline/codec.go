package pipeline

import (
	"errors"
	"image/color"

	"github.com/dunamismax/pixelfit/internal/domain"
)

var (
	ErrEmptySource        = errors.New("no image data provided")
	ErrSourceTooLarge     = errors.New("image exceeds maximum upload size")
	ErrDimensionsTooLarge = errors.New("image dimensions exceed maximum")
	ErrUnsupportedFormat  = errors.New("unsupported image format")
	ErrUndecodable        = errors.New("image data could not be decoded")

	// ErrEncoderUnavailable marks an output format the running build has no
	// encoder for. It is a server capability gap, not bad input.
	ErrEncoderUnavailable = errors.New("output format is not available in this build")
)

// IsValidation reports whether err is caused by the caller's input rather
// than by processing.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptySource) ||
		errors.Is(err, ErrSourceTooLarge) ||
		errors.Is(err, ErrDimensionsTooLarge) ||
		errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrUndecodable)
}

type ColorSpace string

const (
	ColorSpaceSRGB  ColorSpace = "srgb"
	ColorSpaceRGB   ColorSpace = "rgb"
	ColorSpaceGray  ColorSpace = "b-w"
	ColorSpaceCMYK  ColorSpace = "cmyk"
	ColorSpaceLab   ColorSpace = "lab"
	ColorSpaceOther ColorSpace = "other"
)

// NeedsConversion reports whether later color operations would misbehave
// without first moving to sRGB. Grayscale is left alone: every op below
// handles single-luminance sources.
func (c ColorSpace) NeedsConversion() bool {
	switch c {
	case ColorSpaceSRGB, ColorSpaceRGB, ColorSpaceGray, "":
		return false
	default:
		return true
	}
}

// Metadata holds facts probed once from the source bytes.
type Metadata struct {
	Format     domain.Format `json:"format"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	HasAlpha   bool          `json:"has_alpha"`
	ColorSpace ColorSpace    `json:"color_space"`
	Density    int           `json:"density,omitempty"`
}

var (
	white       = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	sepiaMatrix = [3][3]float64{
		{0.3588, 0.7044, 0.1368},
		{0.2990, 0.5870, 0.1140},
		{0.2392, 0.4696, 0.0912},
	}
)

// Codec wraps an underlying raster library.
type Codec interface {
	Name() string
	Probe(data []byte) (Metadata, error)
	Decode(data []byte) (Handle, error)
	CanEncode(format domain.Format) bool
}

// Handle is a decoded, mutable image owned by a single pipeline run.
// Operations replace the handle's pixels in place. A handle starts with the
// source density, which Encode writes back unless SetDensity replaced it.
type Handle interface {
	Width() int
	Height() int
	HasAlpha() bool

	ToSRGB() error
	SetDensity(dpi int) error
	Rotate(degrees int, background color.NRGBA) error
	Flip() error
	Flop() error
	Crop(rect domain.CropRect) error
	Resize(plan ResizePlan) error
	Modulate(brightness, saturation float64, hue int) error
	Linear(a, b float64) error
	Blur(sigma float64) error
	Sharpen(sigma float64) error
	Grayscale() error
	Negate() error
	Normalise() error
	Recomb(matrix [3][3]float64) error
	Flatten(background color.NRGBA) error

	Encode(opts EncodeOptions) ([]byte, error)
	Close()
}

type ChromaSubsampling string

const (
	Chroma444 ChromaSubsampling = "4:4:4"
	Chroma420 ChromaSubsampling = "4:2:0"
)

// EncodeOptions is the per-format encoder policy resolved from an
// EncodeConfig. Fields irrelevant to Format are ignored.
type EncodeOptions struct {
	Format  domain.Format
	Quality int

	// PNG
	Palette          bool
	Colors           int
	Dither           float64
	CompressionLevel int

	// WebP / AVIF
	Lossless     bool
	NearLossless bool
	Effort       int

	// JPEG / AVIF
	Chroma ChromaSubsampling

	// JPEG encoder features that shift near-white pixels toward yellow.
	TrellisQuant       bool
	OvershootDeringing bool
	OptimizeScans      bool
	MozJPEGQuantTable  bool

	// TIFF
	TIFFCompression string
	TIFFPredictor   string

	// ResolutionDPI is written when the image carries no density of its own.
	ResolutionDPI int
}
