package pipeline

import (
	"context"
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	searchMinQuality = 5
	searchMaxQuality = 99
	searchMaxProbes  = 8
	searchTolerance  = 0.03
)

// encoded is one materialized encode of the full pipeline.
type encoded struct {
	data    []byte
	quality int
	width   int
	height  int
}

// renderFunc runs decode, transforms and encode from the pristine source at
// the given quality. fallback selects the fixed low-quality policy.
type renderFunc func(ctx context.Context, quality int, fallback bool) (encoded, error)

type searchResult struct {
	encoded
	probes    int
	targetMet bool
}

// optimizeForSize binary-searches encoder quality for the highest value whose
// output fits in target bytes. It stops after searchMaxProbes encodes, or
// early once a fitting probe lands within searchTolerance of the target. When
// nothing fits it returns the fallback encode instead of an error; only
// render failures are returned.
func optimizeForSize(ctx context.Context, tracer trace.Tracer, target int64, render renderFunc) (searchResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.optimize_size")
	defer span.End()
	span.SetAttributes(attribute.Int64("target_bytes", target))

	minQ, maxQ := searchMinQuality, searchMaxQuality
	var (
		best   *encoded
		probes int
	)

	for probes < searchMaxProbes && minQ <= maxQ {
		if err := ctx.Err(); err != nil {
			return searchResult{}, err
		}

		q := int(math.Round(float64(minQ+maxQ) / 2))
		out, err := render(ctx, q, false)
		if err != nil {
			span.RecordError(err)
			return searchResult{}, fmt.Errorf("probe quality=%d: %w", q, err)
		}
		probes++

		size := int64(len(out.data))
		fits := size <= target
		span.AddEvent("probe", trace.WithAttributes(
			attribute.Int("quality", q),
			attribute.Int64("size", size),
			attribute.Bool("fits", fits),
		))

		if !fits {
			maxQ = q - 1
			continue
		}

		best = &out
		minQ = q + 1
		if math.Abs(float64(size-target)) < searchTolerance*float64(target) {
			break
		}
	}

	span.SetAttributes(attribute.Int("probes", probes))
	if best != nil {
		span.SetAttributes(attribute.Int("quality", best.quality), attribute.Bool("target_met", true))
		return searchResult{encoded: *best, probes: probes, targetMet: true}, nil
	}

	out, err := render(ctx, fallbackQuality, true)
	if err != nil {
		span.RecordError(err)
		return searchResult{}, fmt.Errorf("fallback encode: %w", err)
	}
	probes++
	span.SetAttributes(attribute.Int("quality", out.quality), attribute.Bool("target_met", false))
	return searchResult{encoded: out, probes: probes, targetMet: false}, nil
}
