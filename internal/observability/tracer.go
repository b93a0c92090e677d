package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// TracerConfig holds tracing configuration.
type TracerConfig struct {
	Endpoint       string
	Protocol       string
	ServiceName    string
	ServiceVersion string

	// GroupName, NodeName and Transport tag every span with the member that
	// emitted it, so traces from one group can be told apart per node.
	GroupName string
	NodeName  string
	Transport string
}

// InitTracer installs a batching TracerProvider that exports to the OTLP
// collector at cfg.Endpoint.
func InitTracer(ctx context.Context, cfg TracerConfig) (*sdktrace.TracerProvider, error) {
	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("otlp %s exporter: %w", cfg.Protocol, err)
	}
	res, err := memberResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("tracer resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

func newExporter(ctx context.Context, cfg TracerConfig) (sdktrace.SpanExporter, error) {
	if cfg.Protocol == "grpc" {
		return otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
	}
	return otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
}

// memberResource describes the emitting service and, when known, the group
// member it runs as.
func memberResource(cfg TracerConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.NodeName != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(cfg.NodeName), AttrNode.String(cfg.NodeName))
	}
	if cfg.GroupName != "" {
		attrs = append(attrs, AttrGroup.String(cfg.GroupName))
	}
	if cfg.Transport != "" {
		attrs = append(attrs, AttrTransport.String(cfg.Transport))
	}
	return resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, attrs...),
	)
}
