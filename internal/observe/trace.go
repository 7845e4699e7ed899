package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName scopes every span the pipeline emits.
const tracerName = "github.com/MrWong99/opusloop"

// Tracer looks up the opusloop tracer on whatever provider is installed
// globally, so spans follow a provider swapped in after startup.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan opens a span named after a controller operation such as
// "pipeline.start". End the returned span when the operation returns.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID is the hex trace ID carried by ctx, or "" outside a traced
// operation. Pipeline log lines and spans can be joined on it.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger tags a logger with the trace_id and span_id found in ctx. The first
// non-nil base is used, falling back to [slog.Default].
func Logger(ctx context.Context, base ...*slog.Logger) *slog.Logger {
	l := pickLogger(base)
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return l
	}
	return l.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}

func pickLogger(base []*slog.Logger) *slog.Logger {
	for _, l := range base {
		if l != nil {
			return l
		}
	}
	return slog.Default()
}
