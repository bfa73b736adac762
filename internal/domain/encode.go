package domain

import "strings"

// Format is an output (or detected source) image format.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
	FormatAVIF Format = "avif"
	FormatGIF  Format = "gif"
	FormatTIFF Format = "tiff"
	FormatBMP  Format = "bmp"
)

func ParseFormat(in string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(in)) {
	case "jpg", "jpeg":
		return FormatJPEG, true
	case "png":
		return FormatPNG, true
	case "webp":
		return FormatWebP, true
	case "avif":
		return FormatAVIF, true
	case "gif":
		return FormatGIF, true
	case "tif", "tiff":
		return FormatTIFF, true
	case "bmp":
		return FormatBMP, true
	default:
		return "", false
	}
}

func (f Format) MIMEType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	case FormatAVIF:
		return "image/avif"
	case FormatGIF:
		return "image/gif"
	case FormatTIFF:
		return "image/tiff"
	case FormatBMP:
		return "image/bmp"
	default:
		return "image/png"
	}
}

// Extension is the short name reported to clients and used for file names.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case "":
		return "png"
	default:
		return string(f)
	}
}

// SupportsAlpha reports whether the encoded form can carry an alpha channel.
func (f Format) SupportsAlpha() bool {
	return f != FormatJPEG
}

// Encodable reports whether the engine can write this format.
func (f Format) Encodable() bool {
	switch f {
	case FormatJPEG, FormatPNG, FormatWebP, FormatAVIF, FormatGIF, FormatTIFF:
		return true
	default:
		return false
	}
}

// Fit is the resize policy applied when a target box is given.
type Fit string

const (
	FitCover   Fit = "cover"
	FitContain Fit = "contain"
	FitFill    Fit = "fill"
	FitInside  Fit = "inside"
	FitOutside Fit = "outside"
)

func ParseFit(in string) (Fit, bool) {
	switch fit := Fit(strings.ToLower(strings.TrimSpace(in))); fit {
	case FitCover, FitContain, FitFill, FitInside, FitOutside:
		return fit, true
	default:
		return "", false
	}
}

type CropRect struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// EncodeConfig is the normalized, typed parameter set for one transform.
// Zero values mean "absent" unless noted; pointer fields distinguish an
// explicit neutral value from omission.
type EncodeConfig struct {
	Quality          int    `json:"quality"`
	Format           Format `json:"format,omitempty"`
	CompressionLevel int    `json:"compression_level"`

	Width              int  `json:"width,omitempty"`
	Height             int  `json:"height,omitempty"`
	Fit                Fit  `json:"fit"`
	WithoutEnlargement bool `json:"without_enlargement"`

	Crop   *CropRect `json:"crop,omitempty"`
	Rotate int       `json:"rotate,omitempty"`
	Flip   bool      `json:"flip,omitempty"`
	Flop   bool      `json:"flop,omitempty"`

	Brightness *float64 `json:"brightness,omitempty"`
	Saturation *float64 `json:"saturation,omitempty"`
	Hue        *int     `json:"hue,omitempty"`
	Contrast   *float64 `json:"contrast,omitempty"`
	Blur       float64  `json:"blur,omitempty"`
	Sharpen    float64  `json:"sharpen,omitempty"`
	Grayscale  bool     `json:"grayscale,omitempty"`
	Negate     bool     `json:"negate,omitempty"`
	Normalise  bool     `json:"normalise,omitempty"`
	Sepia      bool     `json:"sepia,omitempty"`

	Density         int   `json:"density,omitempty"`
	TargetSizeBytes int64 `json:"target_size_bytes,omitempty"`
}

func (c EncodeConfig) HasResize() bool {
	return c.Width > 0 || c.Height > 0
}

func (c EncodeConfig) HasModulate() bool {
	return c.Brightness != nil || c.Saturation != nil || c.Hue != nil
}

func (c EncodeConfig) WantsTargetSize() bool {
	return c.TargetSizeBytes > 0
}
