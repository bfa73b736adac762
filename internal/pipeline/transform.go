package pipeline

import (
	"context"
	"fmt"

	"github.com/dunamismax/pixelfit/internal/domain"
)

// minBlurSigma is the smallest blur worth running; below it the result is
// indistinguishable from the input.
const minBlurSigma = 0.3

// applyTransforms runs every requested operation on img in a fixed order.
// The order matters: colorspace first so color ops see sRGB, rotation before
// crop/resize so coordinates refer to the rotated frame, and alpha flattening
// last so transparent regions never pass through color ops or a lossy encoder.
func applyTransforms(ctx context.Context, img Handle, cfg domain.EncodeConfig, md Metadata, out domain.Format) error {
	steps := []struct {
		name string
		run  func() error
	}{
		{"colorspace", func() error {
			if !md.ColorSpace.NeedsConversion() {
				return nil
			}
			return img.ToSRGB()
		}},
		{"density", func() error {
			if cfg.Density <= 0 {
				return nil
			}
			return img.SetDensity(cfg.Density)
		}},
		{"rotate", func() error {
			if cfg.Rotate%360 == 0 {
				return nil
			}
			return img.Rotate(cfg.Rotate, white)
		}},
		{"flip", func() error {
			if !cfg.Flip {
				return nil
			}
			return img.Flip()
		}},
		{"flop", func() error {
			if !cfg.Flop {
				return nil
			}
			return img.Flop()
		}},
		{"crop", func() error {
			rect, ok := clampCrop(cfg.Crop, img.Width(), img.Height())
			if !ok {
				return nil
			}
			return img.Crop(rect)
		}},
		{"resize", func() error {
			plan, ok := planResize(img.Width(), img.Height(), cfg)
			if !ok {
				return nil
			}
			return img.Resize(plan)
		}},
		{"modulate", func() error {
			if !cfg.HasModulate() {
				return nil
			}
			brightness, saturation, hue := 1.0, 1.0, 0
			if cfg.Brightness != nil {
				brightness = *cfg.Brightness
			}
			if cfg.Saturation != nil {
				saturation = *cfg.Saturation
			}
			if cfg.Hue != nil {
				hue = *cfg.Hue
			}
			return img.Modulate(brightness, saturation, hue)
		}},
		{"contrast", func() error {
			if cfg.Contrast == nil {
				return nil
			}
			a := max(*cfg.Contrast, domain.MinContrast)
			return img.Linear(a, 128-128*a)
		}},
		{"blur", func() error {
			if cfg.Blur <= minBlurSigma {
				return nil
			}
			return img.Blur(cfg.Blur)
		}},
		{"sharpen", func() error {
			if cfg.Sharpen <= 0 {
				return nil
			}
			return img.Sharpen(cfg.Sharpen)
		}},
		{"grayscale", func() error {
			if !cfg.Grayscale {
				return nil
			}
			return img.Grayscale()
		}},
		{"negate", func() error {
			if !cfg.Negate {
				return nil
			}
			return img.Negate()
		}},
		{"normalise", func() error {
			if !cfg.Normalise {
				return nil
			}
			return img.Normalise()
		}},
		{"sepia", func() error {
			if !cfg.Sepia {
				return nil
			}
			return img.Recomb(sepiaMatrix)
		}},
		{"flatten", func() error {
			if out.SupportsAlpha() || !img.HasAlpha() {
				return nil
			}
			return img.Flatten(white)
		}},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step.run(); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return nil
}

// clampCrop trims the requested rectangle to the frame. A rectangle that
// starts outside the frame or ends up empty is dropped.
func clampCrop(crop *domain.CropRect, frameW, frameH int) (domain.CropRect, bool) {
	if crop == nil || crop.Width <= 0 || crop.Height <= 0 {
		return domain.CropRect{}, false
	}
	if crop.Left < 0 || crop.Top < 0 || crop.Left >= frameW || crop.Top >= frameH {
		return domain.CropRect{}, false
	}

	rect := *crop
	rect.Width = min(rect.Width, frameW-rect.Left)
	rect.Height = min(rect.Height, frameH-rect.Top)
	if rect.Width <= 0 || rect.Height <= 0 {
		return domain.CropRect{}, false
	}
	if rect.Left == 0 && rect.Top == 0 && rect.Width == frameW && rect.Height == frameH {
		return domain.CropRect{}, false
	}
	return rect, true
}
