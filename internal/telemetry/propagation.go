package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
)

// Inject captures the span context of ctx as a string map that can ride
// along in a task payload. It returns nil when there is nothing to carry.
func Inject(ctx context.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	Propagator.Inject(ctx, carrier)
	if len(carrier) == 0 {
		return nil
	}
	return carrier
}

// Extract restores a span context captured by Inject as the parent of ctx.
func Extract(ctx context.Context, carrier map[string]string) context.Context {
	if len(carrier) == 0 {
		return ctx
	}
	return Propagator.Extract(ctx, propagation.MapCarrier(carrier))
}
