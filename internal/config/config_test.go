package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Equal(t, int64(100<<20), cfg.Limits.MaxUploadBytes)
	assert.Equal(t, int64(32<<20), cfg.API.MultipartMemory)
	assert.Equal(t, 20_000, cfg.Limits.MaxDimension)
	assert.Equal(t, 30*time.Second, cfg.Limits.ProcessTimeout)
	assert.GreaterOrEqual(t, cfg.Worker.StepConcurrency, 1)
	assert.GreaterOrEqual(t, cfg.Worker.Concurrency, 2)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, "none", cfg.Trace.Exporter)
	assert.Equal(t, 5, cfg.Queue.MaxRetry)
	assert.Equal(t, 3*time.Minute, cfg.Queue.TaskTimeout)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PIXELFIT_MAX_UPLOAD", "512K")
	t.Setenv("PIXELFIT_MAX_DIMENSION", "4096")
	t.Setenv("PIXELFIT_PROCESS_TIMEOUT", "5s")
	t.Setenv("WORKER_STEP_CONCURRENCY", "3")
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")

	cfg := Load()

	assert.Equal(t, int64(512*1024), cfg.Limits.MaxUploadBytes)
	assert.Equal(t, 4096, cfg.Limits.MaxDimension)
	assert.Equal(t, 5*time.Second, cfg.Limits.ProcessTimeout)
	assert.Equal(t, 3, cfg.Worker.StepConcurrency)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.InDelta(t, 0.25, cfg.Trace.SampleRatio, 1e-9)
}

func TestEnvHelpersFallBackOnGarbage(t *testing.T) {
	t.Setenv("PIXELFIT_TEST_INT", "many")
	t.Setenv("PIXELFIT_TEST_BOOL", "perhaps")
	t.Setenv("PIXELFIT_TEST_DURATION", "-1s")
	t.Setenv("PIXELFIT_TEST_BYTES", "lots")

	assert.Equal(t, 7, envInt("PIXELFIT_TEST_INT", 7))
	assert.True(t, envBool("PIXELFIT_TEST_BOOL", true))
	assert.Equal(t, time.Minute, envDuration("PIXELFIT_TEST_DURATION", time.Minute))
	assert.Equal(t, int64(42), envBytes("PIXELFIT_TEST_BYTES", 42))
}

func TestEnvBytes(t *testing.T) {
	cases := map[string]int64{
		"1048576": 1 << 20,
		"100M":    100 << 20,
		"2MB":     2 << 20,
		"64KB":    64 << 10,
	}
	for raw, want := range cases {
		t.Run(raw, func(t *testing.T) {
			t.Setenv("PIXELFIT_TEST_BYTES", raw)
			assert.Equal(t, want, envBytes("PIXELFIT_TEST_BYTES", 1))
		})
	}
}
