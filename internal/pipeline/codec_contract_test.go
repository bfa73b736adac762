package pipeline

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/dunamismax/pixelfit/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// codecContract is the engine behavior every codec build must share.
func codecContract(t *testing.T, newEngine func(Limits) *Engine) {
	process := func(t *testing.T, source []byte, params map[string]string) EncodeResult {
		t.Helper()
		engine := newEngine(DefaultLimits())
		got, err := engine.Process(context.Background(), TransformRequest{
			Source:       source,
			Config:       domain.NormalizeParams(params),
			FormatPolicy: FormatFromConfig,
		})
		require.NoError(t, err)
		return got
	}
	densityOf := func(t *testing.T, data []byte) int {
		t.Helper()
		md, err := newEngine(DefaultLimits()).Probe(data)
		require.NoError(t, err)
		return md.Density
	}
	png72 := func(t *testing.T) []byte {
		return insertPNGChunk(encodePNG(t, texturedImage(64, 48)), "pHYs", physChunk(2835))
	}

	t.Run("jpeg keeps full chroma", func(t *testing.T) {
		got := process(t, encodeJPEG(t, texturedImage(64, 64), 95), nil)
		require.Equal(t, domain.FormatJPEG, got.Format)
		assert.Equal(t, image.YCbCrSubsampleRatio444, jpegSubsampling(t, got.Bytes))
	})

	t.Run("alpha flattens to white for jpeg", func(t *testing.T) {
		got := process(t, encodePNG(t, transparentCornersImage(200, 200)), map[string]string{"format": "jpg"})
		require.Equal(t, domain.FormatJPEG, got.Format)

		decoded := decodeImage(t, got.Bytes)
		for _, pt := range []image.Point{{0, 0}, {199, 0}, {0, 199}, {199, 199}} {
			assertNearWhite(t, decoded.At(pt.X, pt.Y), 250, "corner %v", pt)
		}
	})

	t.Run("crop is clamped to frame", func(t *testing.T) {
		got := process(t, encodePNG(t, texturedImage(200, 100)), map[string]string{
			"cropLeft": "50", "cropTop": "0", "cropWidth": "500", "cropHeight": "100",
		})
		assert.Equal(t, 150, got.Width)
		assert.Equal(t, 100, got.Height)
	})

	t.Run("unreachable target falls back", func(t *testing.T) {
		got := process(t, encodePNG(t, texturedImage(320, 240)), map[string]string{"targetSizeBytes": "64"})
		assert.False(t, got.TargetMet)
		assert.Equal(t, fallbackQuality, got.QualityUsed)
		assert.Equal(t, 320, decodeImage(t, got.Bytes).Bounds().Dx())
	})

	t.Run("arbitrary rotation fills white", func(t *testing.T) {
		got := process(t, encodePNG(t, texturedImage(100, 100)), map[string]string{"rotate": "45", "quality": "100"})
		assert.Greater(t, got.Width, 100)

		decoded := decodeImage(t, got.Bytes)
		b := decoded.Bounds()
		for _, pt := range []image.Point{{b.Min.X, b.Min.Y}, {b.Max.X - 1, b.Min.Y}, {b.Min.X, b.Max.Y - 1}, {b.Max.X - 1, b.Max.Y - 1}} {
			assertNearWhite(t, decoded.At(pt.X, pt.Y), 245, "corner %v", pt)
		}
	})

	t.Run("density override is written", func(t *testing.T) {
		for _, format := range []string{"png", "jpg", "tiff"} {
			got := process(t, png72(t), map[string]string{"format": format, "density": "600"})
			assert.Equal(t, 600, densityOf(t, got.Bytes), format)
		}
	})

	t.Run("source density is kept", func(t *testing.T) {
		for _, format := range []string{"png", "jpg", "tiff"} {
			got := process(t, png72(t), map[string]string{"format": format})
			assert.Equal(t, 72, densityOf(t, got.Bytes), format)
		}
	})

	t.Run("tiff without source density gets 300", func(t *testing.T) {
		got := process(t, encodePNG(t, texturedImage(32, 32)), map[string]string{"format": "tiff"})
		assert.Equal(t, defaultDPI, densityOf(t, got.Bytes))
	})

	t.Run("avif round trips", func(t *testing.T) {
		got := process(t, encodePNG(t, texturedImage(64, 48)), map[string]string{"format": "avif", "quality": "60"})
		require.Equal(t, domain.FormatAVIF, got.Format)
		assert.Equal(t, "image/avif", got.MIMEType)

		md, err := newEngine(DefaultLimits()).Probe(got.Bytes)
		require.NoError(t, err)
		assert.Equal(t, domain.FormatAVIF, md.Format)
		assert.Equal(t, 64, md.Width)
		assert.Equal(t, 48, md.Height)
	})
}

func TestStdCodecContract(t *testing.T) {
	codecContract(t, newTestEngine)
}

func assertNearWhite(t *testing.T, c color.Color, floor uint8, msgAndArgs ...any) {
	t.Helper()
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	assert.GreaterOrEqual(t, n.R, floor, msgAndArgs...)
	assert.GreaterOrEqual(t, n.G, floor, msgAndArgs...)
	assert.GreaterOrEqual(t, n.B, floor, msgAndArgs...)
	assert.Equal(t, uint8(255), n.A, msgAndArgs...)
}
