package pipeline

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// texturedImage is a gradient with a 16px wave on top, so lossy encoders
// produce sizes that move with quality.
func texturedImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			wave := 16 * math.Sin(2*math.Pi*float64(x)/16) * math.Sin(2*math.Pi*float64(y)/16)
			img.SetNRGBA(x, y, color.NRGBA{
				R: clampChannel(float64(x*200/w) + 30 + wave),
				G: clampChannel(float64(y*200/h) + 30 + wave),
				B: clampChannel(140 - wave),
				A: 255,
			})
		}
	}
	return img
}

// transparentCornersImage is an opaque red disc on a fully transparent field.
func transparentCornersImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	cx, cy := float64(w)/2, float64(h)/2
	r := math.Min(cx, cy) * 0.8
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if math.Hypot(float64(x)-cx, float64(y)-cy) <= r {
				img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 30, B: 30, A: 255})
			}
		}
	}
	return img
}

func encodeJPEG(t testing.TB, img image.Image, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}))
	return buf.Bytes()
}

func encodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeImage(t testing.TB, data []byte) image.Image {
	t.Helper()
	img, _, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func newTestEngine(limits Limits) *Engine {
	return NewEngine(stdCodec{}, limits)
}

func ptr[T any](v T) *T {
	return &v
}
