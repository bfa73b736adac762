//go:build !govips || !cgo

package pipeline

// Startup is a no-op without libvips; the pure-Go codec needs no global
// state.
func Startup(RuntimeConfig) error { return nil }

func Shutdown() {}

// NewCodec returns the codec selected at build time.
func NewCodec() (Codec, error) {
	return stdCodec{}, nil
}
