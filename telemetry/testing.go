package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry holds in-memory OpenTelemetry providers for tests
type TestTelemetry struct {
	tp *trace.TracerProvider
	mp *sdkmetric.MeterProvider
	mr *sdkmetric.ManualReader
	sr *tracetest.SpanRecorder
}

// NewTestTelemetry creates a new TestTelemetry instance and installs it globally
func NewTestTelemetry(t *testing.T) *TestTelemetry {
	t.Helper()

	sr := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)

	mr := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(mr))
	otel.SetMeterProvider(mp)

	return &TestTelemetry{
		tp: tp,
		mp: mp,
		mr: mr,
		sr: sr,
	}
}

// Telemetry returns an enabled Telemetry recording into the test providers
func (tt *TestTelemetry) Telemetry(t *testing.T) *TelemetryImpl {
	t.Helper()

	tel, err := newTelemetry(tt.tp, tt.mp, "test", "test")
	if err != nil {
		t.Fatalf("create test telemetry: %v", err)
	}
	tel.enabled = true
	return tel
}

// Shutdown gracefully shuts down the test telemetry providers
func (tt *TestTelemetry) Shutdown(ctx context.Context) error {
	if err := tt.tp.Shutdown(ctx); err != nil {
		return err
	}
	if err := tt.mp.Shutdown(ctx); err != nil {
		return err
	}
	return nil
}

// GetReader returns the metric reader for testing
func (tt *TestTelemetry) GetReader() *sdkmetric.ManualReader {
	return tt.mr
}

// EndedSpans returns the spans ended so far
func (tt *TestTelemetry) EndedSpans() []trace.ReadOnlySpan {
	return tt.sr.Ended()
}
