package pipeline

import (
	"image"
	"io"

	"github.com/gen2brain/avif"
	"github.com/gen2brain/jpegli"
)

const (
	// nearLosslessQuality stands in for libwebp's near-lossless
	// preprocessing, which the Go bindings do not expose.
	nearLosslessQuality = 100

	jpegProgressiveLevel = 2
	avifMaxSpeed         = 10
)

// writeJPEG encodes through jpegli, which honors the chroma setting where
// image/jpeg always subsamples 4:2:0.
func writeJPEG(w io.Writer, img image.Image, opts EncodeOptions) error {
	progressive := 0
	if opts.OptimizeScans {
		progressive = jpegProgressiveLevel
	}
	return jpegli.Encode(w, img, &jpegli.EncodingOptions{
		Quality:           opts.Quality,
		ChromaSubsampling: subsampleRatio(opts.Chroma),
		ProgressiveLevel:  progressive,
		OptimizeCoding:    true,
		// Adaptive quantization zeroes extra coefficients like trellis does.
		AdaptiveQuantization: opts.TrellisQuant,
		StandardQuantTables:  !opts.MozJPEGQuantTable,
	})
}

// writeAVIF encodes through libavif. Quality 100 is lossless, which needs
// full chroma.
func writeAVIF(w io.Writer, img image.Image, opts EncodeOptions) error {
	quality, chroma := opts.Quality, opts.Chroma
	if opts.Lossless {
		quality, chroma = 100, Chroma444
	}
	return avif.Encode(w, img, avif.Options{
		Quality:           quality,
		QualityAlpha:      quality,
		Speed:             avifSpeed(opts.Effort),
		ChromaSubsampling: subsampleRatio(chroma),
	})
}

func subsampleRatio(c ChromaSubsampling) image.YCbCrSubsampleRatio {
	if c == Chroma420 {
		return image.YCbCrSubsampleRatio420
	}
	return image.YCbCrSubsampleRatio444
}

// avifSpeed maps libvips-style effort (0 fast .. 9 slow) onto libavif speed
// (0 slow .. 10 fast).
func avifSpeed(effort int) int {
	return min(avifMaxSpeed, max(0, avifMaxSpeed-effort))
}

func webpQuality(opts EncodeOptions) int {
	if opts.NearLossless {
		return nearLosslessQuality
	}
	return opts.Quality
}
