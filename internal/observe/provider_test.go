package observe

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

// InitProvider replaces the global providers, so these tests restore them
// and do not run in parallel.
func restoreGlobals(t *testing.T) {
	t.Helper()
	mp, tp := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(mp)
		otel.SetTracerProvider(tp)
	})
}

func TestInitProvider_ExportsToRegisterer(t *testing.T) {
	restoreGlobals(t)
	reg := prometheus.NewRegistry()

	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceVersion: "test",
		Registerer:     reg,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordDropped(context.Background(), StageDecode, "codec")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var found bool
	for _, mf := range families {
		if strings.HasPrefix(strings.ReplaceAll(mf.GetName(), ".", "_"), "opusloop_frames_dropped") {
			found = true
		}
	}
	if !found {
		names := make([]string, 0, len(families))
		for _, mf := range families {
			names = append(names, mf.GetName())
		}
		t.Fatalf("opusloop_frames_dropped not gathered; got %v", names)
	}
}

func TestInitProvider_SpansRecorded(t *testing.T) {
	restoreGlobals(t)

	shutdown, err := InitProvider(context.Background(), ProviderConfig{Registerer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	}()

	_, span := StartSpan(context.Background(), "ping")
	defer span.End()
	if !span.SpanContext().IsSampled() {
		t.Error("root span not sampled with the default ratio")
	}
}

func TestProviderConfig_Sampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{0, "AlwaysOnSampler"},
		{1, "AlwaysOnSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		got := ProviderConfig{TraceSampleRatio: tt.ratio}.sampler().Description()
		if !strings.Contains(got, tt.want) {
			t.Errorf("ratio %v: sampler %q, want it to contain %q", tt.ratio, got, tt.want)
		}
	}
}
