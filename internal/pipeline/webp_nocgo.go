//go:build !cgo

package pipeline

import (
	"bytes"
	"image"

	"github.com/gen2brain/webp"
)

// encodeWebP runs libwebp compiled to WASM when cgo is off.
func encodeWebP(img image.Image, opts EncodeOptions) ([]byte, error) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, webp.Options{
		Quality:  webpQuality(opts),
		Lossless: opts.Lossless,
		Method:   opts.Effort,
		Exact:    opts.Lossless,
	}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
