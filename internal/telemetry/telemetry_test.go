package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/council/config"
)

// snapshotGlobals restores the global OTel providers after the test so state
// doesn't leak between tests.
func snapshotGlobals(t *testing.T) {
	t.Helper()
	origTP := otel.GetTracerProvider()
	origMP := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetMeterProvider(origMP)
	})
}

func TestInit_DisabledIsNoop(t *testing.T) {
	snapshotGlobals(t)

	p, err := Init(config.TelemetryConfig{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Nil(t, p.tp)
	assert.Nil(t, p.mp)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_EnabledInstallsSDKProviders(t *testing.T) {
	snapshotGlobals(t)

	p, err := Init(config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "council-test",
		SampleRate:   0.5,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p.tp)
	require.NotNil(t, p.mp)

	_, tpIsSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	_, mpIsSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, tpIsSDK)
	assert.True(t, mpIsSDK)

	// No collector is running; shutdown may surface a connection error but
	// must finish within the deadline without panicking.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NotPanics(t, func() { _ = p.Shutdown(ctx) })
}

func TestProviders_NilShutdown(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestServiceName_DefaultsToCouncil(t *testing.T) {
	assert.Equal(t, "council", serviceName(config.TelemetryConfig{}))
	assert.Equal(t, "council-eu", serviceName(config.TelemetryConfig{ServiceName: "council-eu"}))
}

func TestSampleRate_Clamped(t *testing.T) {
	assert.Equal(t, 1.0, sampleRate(config.TelemetryConfig{}))
	assert.Equal(t, 1.0, sampleRate(config.TelemetryConfig{SampleRate: 2.5}))
	assert.Equal(t, 1.0, sampleRate(config.TelemetryConfig{SampleRate: -1}))
	assert.Equal(t, 0.25, sampleRate(config.TelemetryConfig{SampleRate: 0.25}))
}
