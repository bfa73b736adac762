package pipeline

import (
	"math"

	"github.com/dunamismax/pixelfit/internal/domain"
)

// ResizePlan is the resolved geometry of a resize step. Codecs scale to
// Width x Height first, then either extract a centered CropWidth x CropHeight
// box (cover) or embed into a centered PadWidth x PadHeight canvas filled
// with the pipeline background (contain).
type ResizePlan struct {
	Width      int
	Height     int
	CropWidth  int
	CropHeight int
	PadWidth   int
	PadHeight  int
}

func (p ResizePlan) FinalSize() (int, int) {
	switch {
	case p.CropWidth > 0 && p.CropHeight > 0:
		return p.CropWidth, p.CropHeight
	case p.PadWidth > 0 && p.PadHeight > 0:
		return p.PadWidth, p.PadHeight
	default:
		return p.Width, p.Height
	}
}

// planResize resolves the requested box against the current frame. ok is
// false when no work is needed.
func planResize(srcW, srcH int, cfg domain.EncodeConfig) (ResizePlan, bool) {
	if srcW <= 0 || srcH <= 0 || !cfg.HasResize() {
		return ResizePlan{}, false
	}

	sx := float64(cfg.Width) / float64(srcW)
	sy := float64(cfg.Height) / float64(srcH)

	var plan ResizePlan
	switch {
	case cfg.Width > 0 && cfg.Height == 0:
		s := limitScale(sx, cfg.WithoutEnlargement)
		plan.Width, plan.Height = scaled(srcW, s), scaled(srcH, s)
	case cfg.Height > 0 && cfg.Width == 0:
		s := limitScale(sy, cfg.WithoutEnlargement)
		plan.Width, plan.Height = scaled(srcW, s), scaled(srcH, s)
	default:
		switch cfg.Fit {
		case domain.FitFill:
			plan.Width = scaled(srcW, limitScale(sx, cfg.WithoutEnlargement))
			plan.Height = scaled(srcH, limitScale(sy, cfg.WithoutEnlargement))
		case domain.FitCover:
			s := limitScale(math.Max(sx, sy), cfg.WithoutEnlargement)
			plan.Width, plan.Height = scaled(srcW, s), scaled(srcH, s)
			plan.CropWidth = min(cfg.Width, plan.Width)
			plan.CropHeight = min(cfg.Height, plan.Height)
			if plan.CropWidth == plan.Width && plan.CropHeight == plan.Height {
				plan.CropWidth, plan.CropHeight = 0, 0
			}
		case domain.FitContain:
			s := limitScale(math.Min(sx, sy), cfg.WithoutEnlargement)
			plan.Width, plan.Height = scaled(srcW, s), scaled(srcH, s)
			if plan.Width != cfg.Width || plan.Height != cfg.Height {
				plan.PadWidth = max(cfg.Width, plan.Width)
				plan.PadHeight = max(cfg.Height, plan.Height)
			}
		case domain.FitOutside:
			s := limitScale(math.Max(sx, sy), cfg.WithoutEnlargement)
			plan.Width, plan.Height = scaled(srcW, s), scaled(srcH, s)
		default:
			s := limitScale(math.Min(sx, sy), cfg.WithoutEnlargement)
			plan.Width, plan.Height = scaled(srcW, s), scaled(srcH, s)
		}
	}

	if plan.Width == srcW && plan.Height == srcH && plan.CropWidth == 0 && plan.PadWidth == 0 {
		return ResizePlan{}, false
	}
	return plan, true
}

func limitScale(s float64, withoutEnlargement bool) float64 {
	if withoutEnlargement && s > 1 {
		return 1
	}
	return s
}

func scaled(dim int, s float64) int {
	return max(1, int(math.Round(float64(dim)*s)))
}
