// Package otel provides a stub for OpenTelemetry tracing setup.
// Spans and metrics run against the no-op global providers until an
// exporter is wired in.
package otel

import (
	"context"
	"log/slog"
)

// ShutdownFunc is called to flush and shut down the trace provider.
type ShutdownFunc func(ctx context.Context) error

// InitTracer returns a no-op shutdown function. Wiring an OTLP
// exporter and TracerProvider here lights up every span in the
// codebase without touching call sites.
func InitTracer(serviceName string) ShutdownFunc {
	slog.Info("otel stub: InitTracer called", "service", serviceName)
	return func(_ context.Context) error {
		slog.Info("otel stub: shutdown called")
		return nil
	}
}
