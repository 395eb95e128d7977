package telemetry

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type TelemetrySuite struct {
	suite.Suite
	ctx context.Context
}

func (s *TelemetrySuite) SetupTest() {
	s.ctx = context.Background()
}

func TestTelemetrySuite(t *testing.T) {
	suite.Run(t, new(TelemetrySuite))
}

func (s *TelemetrySuite) TestNew() {
	debugCfg := Config{
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		Debug:          true,
		Enabled:        true,
		TraceWriter:    io.Discard,
		MetricWriter:   io.Discard,
	}

	tel, err := New(s.ctx, debugCfg)
	s.NoError(err)
	s.NotNil(tel)
	s.True(tel.IsEnabled())
	s.NotNil(tel.tp)
	s.NotNil(tel.mp)
	s.NotNil(tel.tracer)
	s.NotNil(tel.meter)
	s.NotNil(tel.requestDuration)
	s.NotNil(tel.errorCounter)
	s.NoError(tel.Shutdown(s.ctx))

	// OTLP exporters connect lazily, creation may or may not fail without a collector
	nonDebugCfg := Config{
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		OTLPEndpoint:   "localhost:4317",
		Enabled:        true,
	}

	tel, err = New(s.ctx, nonDebugCfg)
	if err != nil {
		s.T().Log("OTLP telemetry creation failed:", err)
	} else {
		s.True(tel.IsEnabled())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			s.T().Log("OTLP shutdown failed:", err)
		}
	}

	tel, err = New(s.ctx, Config{ServiceName: "test-service"})
	s.NoError(err)
	s.NotNil(tel)
	s.False(tel.IsEnabled())
}

func (s *TelemetrySuite) TestNewNoop() {
	tel, err := NewNoop()
	s.NoError(err)
	s.NotNil(tel)
	s.False(tel.IsEnabled())
	s.NotNil(tel.tp)
	s.NotNil(tel.mp)
	s.NotNil(tel.tracer)
	s.NotNil(tel.requestDuration)
	s.NotNil(tel.errorCounter)
}

func (s *TelemetrySuite) TestStartSpan() {
	testTel := NewTestTelemetry(s.T())
	defer testTel.Shutdown(s.ctx)

	tel := testTel.Telemetry(s.T())

	ctx, span := tel.StartSpan(s.ctx, "test-span")
	s.NotNil(span)
	s.NotEqual(s.ctx, ctx)
	span.End()

	ended := testTel.EndedSpans()
	s.Require().Len(ended, 1)
	s.Equal("test-span", ended[0].Name())

	noopTel, err := NewNoop()
	s.NoError(err)

	ctx, span = noopTel.StartSpan(s.ctx, "test-span")
	s.NotNil(span)
	s.Equal(s.ctx, ctx)
	span.End()
}

func (s *TelemetrySuite) TestRecordRequest() {
	mr := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(mr))
	meter := mp.Meter("test-meter")

	requestDuration, err := meter.Float64Histogram(
		"request_duration",
		metric.WithDescription("test"),
		metric.WithUnit("ms"),
	)
	s.NoError(err)

	errorCounter, err := meter.Int64Counter(
		"error_count",
		metric.WithDescription("test"),
	)
	s.NoError(err)

	tel := &TelemetryImpl{
		mp:              mp,
		meter:           meter,
		requestDuration: requestDuration,
		errorCounter:    errorCounter,
		enabled:         true,
	}

	tel.RecordRequest(s.ctx, 100*time.Millisecond, "add", "200", nil)
	tel.RecordRequest(s.ctx, 200*time.Millisecond, "divide", "400", errors.New("division by zero"))

	var metrics metricdata.ResourceMetrics
	s.NoError(mr.Collect(s.ctx, &metrics))
	s.Require().Len(metrics.ScopeMetrics, 1)

	names := map[string]bool{}
	for _, m := range metrics.ScopeMetrics[0].Metrics {
		names[m.Name] = true
	}
	s.True(names["request_duration"])
	s.True(names["error_count"])

	noopTel, err := NewNoop()
	s.NoError(err)
	noopTel.RecordRequest(s.ctx, 100*time.Millisecond, "add", "200", nil)
}

func (s *TelemetrySuite) TestShutdown() {
	testTel := NewTestTelemetry(s.T())
	s.NoError(testTel.Shutdown(s.ctx))

	tel := &TelemetryImpl{}
	s.NoError(tel.Shutdown(s.ctx))
}

func (s *TelemetrySuite) TestIsEnabled() {
	enabledTel := &TelemetryImpl{enabled: true}
	s.True(enabledTel.IsEnabled())

	disabledTel := &TelemetryImpl{enabled: false}
	s.False(disabledTel.IsEnabled())
}

func (s *TelemetrySuite) TestTestTelemetry() {
	testTel := NewTestTelemetry(s.T())
	s.NotNil(testTel.tp)
	s.NotNil(testTel.mp)
	s.NotNil(testTel.mr)
	s.NotNil(testTel.GetReader())
	s.Empty(testTel.EndedSpans())

	s.NoError(testTel.Shutdown(s.ctx))
}
