package pipeline

import "runtime"

// RuntimeConfig sizes the native codec's worker threads and operation
// cache. The pure-Go codec ignores it.
type RuntimeConfig struct {
	Concurrency int
	CacheMemory int
	CacheOps    int
}

// DefaultRuntimeConfig keeps the operation cache small: every request
// decodes a different source, so cached results are rarely hit.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		Concurrency: runtime.NumCPU(),
		CacheMemory: 64 << 20,
		CacheOps:    100,
	}
}
