// Package tracing configures OpenTelemetry context propagation between the furnistore binaries.
package tracing

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// InstallPropagator sets the global W3C trace-context and baggage propagator, so otelhttp
// forwards the caller's trace from storefront to the payments service and back into logs.
func InstallPropagator() propagation.TextMapPropagator {
	p := propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	otel.SetTextMapPropagator(p)
	return p
}
