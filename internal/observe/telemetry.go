package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Telemetry owns the process-wide OTel providers, the Prometheus registry
// they export to and the livetalk instruments recorded against them.
type Telemetry struct {
	// Metrics are the session instruments, bound to this Telemetry's
	// meter provider.
	Metrics *Metrics

	// Registry is what /metrics serves.
	Registry *prometheus.Registry

	meters *sdkmetric.MeterProvider
	traces *sdktrace.TracerProvider
}

type telemetryConfig struct {
	service  string
	version  string
	exporter sdktrace.SpanExporter
	ratio    float64
	runtime  bool
}

// TelemetryOption configures [Setup].
type TelemetryOption func(*telemetryConfig)

// WithService sets the service name and version on the telemetry resource.
func WithService(name, version string) TelemetryOption {
	return func(c *telemetryConfig) {
		c.service = name
		c.version = version
	}
}

// WithSpanExporter batches turn and HTTP spans to exp. Without it spans are
// recorded for log correlation but never exported.
func WithSpanExporter(exp sdktrace.SpanExporter) TelemetryOption {
	return func(c *telemetryConfig) { c.exporter = exp }
}

// WithTurnSampling keeps the given fraction of root spans (0..1). Child
// spans follow their parent.
func WithTurnSampling(ratio float64) TelemetryOption {
	return func(c *telemetryConfig) { c.ratio = ratio }
}

// WithoutRuntimeMetrics leaves the Go runtime and process collectors off the
// registry.
func WithoutRuntimeMetrics() TelemetryOption {
	return func(c *telemetryConfig) { c.runtime = false }
}

// Setup builds the meter and tracer providers, installs them as the OTel
// globals and creates the livetalk instruments. Call [Telemetry.Shutdown]
// before exit to flush exporters.
func Setup(ctx context.Context, opts ...TelemetryOption) (*Telemetry, error) {
	cfg := telemetryConfig{service: "livetalk", ratio: 1, runtime: true}
	for _, o := range opts {
		o(&cfg)
	}

	reg := prometheus.NewRegistry()
	if cfg.runtime {
		if err := errors.Join(
			reg.Register(collectors.NewGoCollector()),
			reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})),
		); err != nil {
			return nil, fmt.Errorf("observe: register runtime collectors: %w", err)
		}
	}

	// resource.New leaves the schema URL to its detectors, so the pinned
	// semconv attributes cannot conflict with the SDK's own version.
	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.service),
			semconv.ServiceVersion(cfg.version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	exp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	t := &Telemetry{
		Registry: reg,
		meters:   sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exp)),
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.ratio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.ratio))
	}
	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res), sdktrace.WithSampler(sampler)}
	if cfg.exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.exporter))
	}
	t.traces = sdktrace.NewTracerProvider(tpOpts...)

	if t.Metrics, err = NewMetrics(t.meters); err != nil {
		_ = t.Shutdown(ctx)
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}

	otel.SetMeterProvider(t.meters)
	otel.SetTracerProvider(t.traces)
	return t, nil
}

// Shutdown flushes and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.meters.Shutdown(ctx), t.traces.Shutdown(ctx))
}
