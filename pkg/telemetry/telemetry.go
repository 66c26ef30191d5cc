// Package telemetry wires OpenTelemetry tracing behind small package-level
// helpers so adapters can annotate calls without carrying a tracer around.
package telemetry

import (
	"context"
	"regexp"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/cexll/assistant-go"

// Config controls exporter and resource identity.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Endpoint is the OTLP/HTTP collector host:port. Empty disables export;
	// spans are still created so tests can assert on them.
	Endpoint string
	Insecure bool
}

// Manager owns the tracer provider lifecycle.
type Manager struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

var defaultManager atomic.Pointer[Manager]

// NewManager builds a tracer provider, optionally exporting over OTLP/HTTP.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "assistant-go"
	}
	res, err := sdkresource.New(ctx,
		sdkresource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.Endpoint != "" {
		expOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			expOpts = append(expOpts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, expOpts...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	return &Manager{
		provider: provider,
		tracer:   provider.Tracer(tracerName),
	}, nil
}

// Shutdown flushes pending spans.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// SetDefault exposes the manager to the package-level helpers.
func SetDefault(m *Manager) { defaultManager.Store(m) }

// StartSpan begins a span on the default manager, or a no-op span when
// telemetry was never configured.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if m := defaultManager.Load(); m != nil {
		return m.tracer.Start(ctx, name, opts...)
	}
	return noop.NewTracerProvider().Tracer(tracerName).Start(ctx, name, opts...)
}

// EndSpan records err (if any) and closes the span.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

var secretPattern = regexp.MustCompile(`(?i)(sk-[a-z0-9_-]{8,}|bearer\s+\S+|api[_-]?key\s*[=:]\s*\S+)`)

// SanitizeAttributes masks secret-shaped string values before they are
// attached to a span.
func SanitizeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, len(attrs))
	for i, kv := range attrs {
		if kv.Value.Type() == attribute.STRING {
			if masked := secretPattern.ReplaceAllString(kv.Value.AsString(), "***"); masked != kv.Value.AsString() {
				out[i] = attribute.String(string(kv.Key), masked)
				continue
			}
		}
		out[i] = kv
	}
	return out
}
