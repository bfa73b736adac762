//go:build govips && cgo

package pipeline

import (
	"errors"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var errVipsStopped = errors.New("libvips has been shut down")

// libvips can be started once per process and never restarted.
var vipsState struct {
	mu      sync.Mutex
	running bool
	stopped bool
}

func Startup(cfg RuntimeConfig) error {
	vipsState.mu.Lock()
	defer vipsState.mu.Unlock()

	switch {
	case vipsState.stopped:
		return errVipsStopped
	case vipsState.running:
		return nil
	}

	vips.LoggingSettings(nil, vips.LogLevelWarning)
	vips.Startup(&vips.Config{
		ConcurrencyLevel: cfg.Concurrency,
		MaxCacheFiles:    0,
		MaxCacheMem:      cfg.CacheMemory,
		MaxCacheSize:     cfg.CacheOps,
	})
	vipsState.running = true
	return nil
}

func Shutdown() {
	vipsState.mu.Lock()
	defer vipsState.mu.Unlock()
	if !vipsState.running {
		return
	}
	vips.Shutdown()
	vipsState.running = false
	vipsState.stopped = true
}

// NewCodec returns the codec selected at build time.
func NewCodec() (Codec, error) {
	if err := Startup(DefaultRuntimeConfig()); err != nil {
		return nil, err
	}
	return vipsCodec{}, nil
}
