package pipeline

import (
	"math"

	"github.com/dunamismax/pixelfit/internal/domain"
)

const (
	defaultDPI       = 300
	minPaletteColors = 2
	fallbackQuality  = 5
	fallbackColors   = 32
	webpEffort       = 4
	avifEffort       = 4
	gifEffort        = 7
)

// encodeOptionsFor resolves the encoder policy for cfg.Format (already the
// resolved output format) at cfg.Quality.
func encodeOptionsFor(cfg domain.EncodeConfig, md Metadata) EncodeOptions {
	q := cfg.Quality
	opts := EncodeOptions{
		Format:           cfg.Format,
		Quality:          q,
		CompressionLevel: cfg.CompressionLevel,
	}

	switch cfg.Format {
	case domain.FormatPNG:
		if q < 100 {
			opts.Palette = true
			opts.Colors = paletteColors(q)
			opts.Dither = 1.0
		}
	case domain.FormatWebP:
		opts.Lossless = q >= 100
		opts.NearLossless = q >= 95 && q < 100
		opts.Effort = webpEffort
	case domain.FormatAVIF:
		opts.Lossless = q >= 100
		opts.Chroma = Chroma420
		if q >= 80 {
			opts.Chroma = Chroma444
		}
		opts.Effort = avifEffort
	case domain.FormatGIF:
		opts.Effort = gifEffort
		opts.Dither = 1.0
	case domain.FormatTIFF:
		opts.TIFFCompression = "lzw"
		opts.TIFFPredictor = "horizontal"
		opts.ResolutionDPI = tiffResolution(cfg, md)
	default:
		opts.Format = domain.FormatJPEG
		// 4:2:0 and the mozjpeg-style features below tint near-white areas
		// yellow after re-encode; keep them off at every quality.
		opts.Chroma = Chroma444
		opts.TrellisQuant = false
		opts.OvershootDeringing = false
		opts.OptimizeScans = false
		opts.MozJPEGQuantTable = false
	}
	return opts
}

// fallbackOptions is the fixed very-low-quality encode used when no search
// probe fits the byte budget.
func fallbackOptions(cfg domain.EncodeConfig, md Metadata) EncodeOptions {
	cfg.Quality = fallbackQuality
	opts := encodeOptionsFor(cfg, md)
	switch opts.Format {
	case domain.FormatPNG:
		opts.Palette = true
		opts.Colors = fallbackColors
	case domain.FormatAVIF:
		opts.Chroma = Chroma420
	}
	return opts
}

func paletteColors(quality int) int {
	colors := int(math.Round(256 * float64(quality) / 100))
	return min(256, max(minPaletteColors, colors))
}

// tiffResolution is the density a TIFF is written with: the override, then
// the source's, then 300.
func tiffResolution(cfg domain.EncodeConfig, md Metadata) int {
	switch {
	case cfg.Density > 0:
		return cfg.Density
	case md.Density > 0:
		return md.Density
	default:
		return defaultDPI
	}
}

// resolveOutputFormat picks the format actually written.
func resolveOutputFormat(policy FormatPolicy, requested, source domain.Format) domain.Format {
	format := source
	if policy == FormatFromConfig && requested != "" {
		format = requested
	}
	if !format.Encodable() {
		return domain.FormatPNG
	}
	return format
}
