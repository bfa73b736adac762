//go:build cgo

package pipeline

import (
	"bytes"
	"image"

	"github.com/chai2010/webp"
)

func encodeWebP(img image.Image, opts EncodeOptions) ([]byte, error) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{
		Lossless: opts.Lossless,
		Quality:  float32(webpQuality(opts)),
		Exact:    opts.Lossless,
	}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
