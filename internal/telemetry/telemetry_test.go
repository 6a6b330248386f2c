package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/resumeflow/config"
)

// saveAndRestoreGlobalProviders 测试结束后恢复全局 provider
func saveAndRestoreGlobalProviders(t *testing.T) {
	t.Helper()
	origTP := otel.GetTracerProvider()
	origMP := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetMeterProvider(origMP)
	})
}

// discardMetrics 丢弃所有指标的导出器
type discardMetrics struct{}

func (discardMetrics) Temporality(k sdkmetric.InstrumentKind) metricdata.Temporality {
	return sdkmetric.DefaultTemporalitySelector(k)
}

func (discardMetrics) Aggregation(k sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(k)
}

func (discardMetrics) Export(context.Context, *metricdata.ResourceMetrics) error { return nil }
func (discardMetrics) ForceFlush(context.Context) error                          { return nil }
func (discardMetrics) Shutdown(context.Context) error                            { return nil }

func TestInit_Disabled(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	p, err := Init(config.TelemetryConfig{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Nil(t, p.tp, "TracerProvider should be nil when disabled")
	assert.Nil(t, p.mp, "MeterProvider should be nil when disabled")
	assert.False(t, p.Enabled())
	assert.NotNil(t, p.Tracer("resumeflow/test"))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_NilLogger(t *testing.T) {
	saveAndRestoreGlobalProviders(t)
	_, err := Init(config.TelemetryConfig{}, nil)
	assert.NoError(t, err)
}

func TestInit_ExportsRunnerSpans(t *testing.T) {
	saveAndRestoreGlobalProviders(t)
	spans := tracetest.NewInMemoryExporter()

	p, err := Init(config.TelemetryConfig{
		Enabled:     true,
		ServiceName: "resumeflow-test",
		SampleRate:  1.0,
	}, zaptest.NewLogger(t), WithSpanExporter(spans), WithMetricExporter(discardMetrics{}), WithVersion("v0.0.1-test"))
	require.NoError(t, err)
	require.True(t, p.Enabled())

	_, isSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, isSDK, "global TracerProvider should be the SDK provider")

	_, span := p.Tracer("resumeflow/longrunning").Start(context.Background(), "activity pack_order_items")
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))

	got := spans.GetSpans()
	require.Len(t, got, 1)
	assert.Equal(t, "activity pack_order_items", got[0].Name)
	assert.Contains(t, got[0].Resource.Attributes(), semconv.ServiceNameKey.String("resumeflow-test"))
}

func TestProviders_Shutdown_Nil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.NotNil(t, p.Tracer("x"))
}

func TestBuildVersion(t *testing.T) {
	// 测试二进制的构建信息通常是 "(devel)"
	assert.Equal(t, "dev", buildVersion())
}
