package pipeline

import (
	"image"
	"image/color"
	"slices"

	xdraw "golang.org/x/image/draw"
)

const (
	quantizeMaxSamples = 100_000
	transparentCutoff  = 0x80
)

// medianCut builds palettes by repeatedly splitting the most populous,
// widest color box along its longest axis. It implements draw.Quantizer.
type medianCut struct {
	colors int
}

var _ xdraw.Quantizer = medianCut{}

type colorBox struct {
	pixels [][3]uint8
	lo, hi [3]uint8
}

func newColorBox(pixels [][3]uint8) *colorBox {
	box := &colorBox{pixels: pixels, lo: [3]uint8{255, 255, 255}}
	for _, p := range pixels {
		for c := range 3 {
			box.lo[c] = min(box.lo[c], p[c])
			box.hi[c] = max(box.hi[c], p[c])
		}
	}
	return box
}

func (b *colorBox) longestAxis() int {
	axis, span := 0, -1
	for c := range 3 {
		if s := int(b.hi[c]) - int(b.lo[c]); s > span {
			axis, span = c, s
		}
	}
	return axis
}

func (b *colorBox) score() int {
	volume := 1
	for c := range 3 {
		volume *= int(b.hi[c]) - int(b.lo[c]) + 1
	}
	return volume * len(b.pixels)
}

func (b *colorBox) average() color.NRGBA {
	if len(b.pixels) == 0 {
		return color.NRGBA{A: 255}
	}
	var sum [3]int
	for _, p := range b.pixels {
		for c := range 3 {
			sum[c] += int(p[c])
		}
	}
	n := len(b.pixels)
	return color.NRGBA{R: uint8(sum[0] / n), G: uint8(sum[1] / n), B: uint8(sum[2] / n), A: 255}
}

// Quantize appends up to q.colors entries to p. When m has transparent
// pixels one entry is reserved for full transparency.
func (q medianCut) Quantize(p color.Palette, m image.Image) color.Palette {
	limit := q.colors - len(p)
	if limit <= 0 {
		return p
	}

	src := toNRGBA(m)
	pixels, transparent := samplePixels(src)
	if transparent {
		p = append(p, color.NRGBA{})
		limit--
	}
	if len(pixels) == 0 || limit <= 0 {
		if len(p) == 0 {
			p = append(p, color.NRGBA{A: 255})
		}
		return p
	}

	boxes := []*colorBox{newColorBox(pixels)}
	for len(boxes) < limit {
		best, bestScore := -1, -1
		for i, box := range boxes {
			if len(box.pixels) < 2 || box.lo == box.hi {
				continue
			}
			if s := box.score(); s > bestScore {
				best, bestScore = i, s
			}
		}
		if best < 0 {
			break
		}

		box := boxes[best]
		axis := box.longestAxis()
		slices.SortFunc(box.pixels, func(a, b [3]uint8) int {
			return int(a[axis]) - int(b[axis])
		})
		mid := len(box.pixels) / 2
		boxes[best] = newColorBox(box.pixels[:mid])
		boxes = append(boxes, newColorBox(box.pixels[mid:]))
	}

	for _, box := range boxes {
		p = append(p, box.average())
	}
	return p
}

func samplePixels(img *image.NRGBA) ([][3]uint8, bool) {
	b := img.Bounds()
	total := b.Dx() * b.Dy()
	step := max(1, total/quantizeMaxSamples)

	pixels := make([][3]uint8, 0, total/step+1)
	transparent := false
	for i := 0; i < total; i += step {
		x, y := i%b.Dx(), i/b.Dx()
		off := y*img.Stride + x*4
		if img.Pix[off+3] < transparentCutoff {
			transparent = true
			continue
		}
		pixels = append(pixels, [3]uint8{img.Pix[off], img.Pix[off+1], img.Pix[off+2]})
	}
	return pixels, transparent
}

// quantize maps img onto a palette of at most colors entries, with
// Floyd-Steinberg error diffusion when dither is positive.
func quantize(img image.Image, colors int, dither float64) *image.Paletted {
	palette := medianCut{colors: colors}.Quantize(make(color.Palette, 0, colors), img)
	dst := image.NewPaletted(img.Bounds(), palette)

	var drawer xdraw.Drawer = xdraw.Src
	if dither > 0 {
		drawer = xdraw.FloydSteinberg
	}
	drawer.Draw(dst, dst.Bounds(), img, img.Bounds().Min)
	return dst
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Bounds(), img, b.Min, xdraw.Src)
	return dst
}
