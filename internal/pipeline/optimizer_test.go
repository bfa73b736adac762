package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

// linearRender produces bytes-per-quality sized outputs and counts calls.
type linearRender struct {
	perQuality int
	base       int
	calls      []int
	fallbacks  int
}

func (l *linearRender) render(_ context.Context, quality int, fallback bool) (encoded, error) {
	if fallback {
		l.fallbacks++
	} else {
		l.calls = append(l.calls, quality)
	}
	size := l.base + quality*l.perQuality
	return encoded{data: make([]byte, size), quality: quality, width: 10, height: 10}, nil
}

func TestOptimizeForSizeConverges(t *testing.T) {
	r := &linearRender{perQuality: 1_000}
	target := int64(51_200)

	got, err := optimizeForSize(context.Background(), noop.NewTracerProvider().Tracer("test"), target, r.render)
	require.NoError(t, err)

	assert.True(t, got.targetMet)
	assert.LessOrEqual(t, got.probes, searchMaxProbes)
	assert.LessOrEqual(t, int64(len(got.data)), target)
	assert.Equal(t, 51, got.quality)
	assert.Zero(t, r.fallbacks)
}

func TestOptimizeForSizeStopsEarlyWithinTolerance(t *testing.T) {
	r := &linearRender{perQuality: 1_000}

	got, err := optimizeForSize(context.Background(), noop.NewTracerProvider().Tracer("test"), 52_500, r.render)
	require.NoError(t, err)

	assert.Equal(t, 1, got.probes)
	assert.Equal(t, []int{52}, r.calls)
	assert.True(t, got.targetMet)
}

func TestOptimizeForSizeClimbsToMaxQuality(t *testing.T) {
	r := &linearRender{perQuality: 1}

	got, err := optimizeForSize(context.Background(), noop.NewTracerProvider().Tracer("test"), 1_000, r.render)
	require.NoError(t, err)

	assert.LessOrEqual(t, got.probes, searchMaxProbes)
	assert.Equal(t, []int{52, 76, 88, 94, 97, 99}, r.calls)
	assert.Equal(t, searchMaxQuality, got.quality)
}

func TestOptimizeForSizeFallsBackWhenNothingFits(t *testing.T) {
	r := &linearRender{perQuality: 1_000, base: 100_000}

	got, err := optimizeForSize(context.Background(), noop.NewTracerProvider().Tracer("test"), 10_000, r.render)
	require.NoError(t, err)

	assert.False(t, got.targetMet)
	assert.Equal(t, 1, r.fallbacks)
	assert.Equal(t, fallbackQuality, got.quality)
	assert.Equal(t, len(r.calls)+1, got.probes)
	assert.LessOrEqual(t, len(r.calls), searchMaxProbes)
}

func TestOptimizeForSizePropagatesRenderErrors(t *testing.T) {
	boom := errors.New("encoder exploded")
	render := func(context.Context, int, bool) (encoded, error) {
		return encoded{}, boom
	}

	_, err := optimizeForSize(context.Background(), noop.NewTracerProvider().Tracer("test"), 1_000, render)
	assert.ErrorIs(t, err, boom)
}

func TestOptimizeForSizeHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	render := func(context.Context, int, bool) (encoded, error) {
		calls++
		cancel()
		return encoded{data: make([]byte, 10_000)}, nil
	}

	_, err := optimizeForSize(ctx, noop.NewTracerProvider().Tracer("test"), 1_000, render)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
