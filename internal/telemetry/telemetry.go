// Package telemetry installs the OpenTelemetry tracer provider. Packages
// create spans through otel.Tracer; without Setup those spans are no-ops.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/marcus/dispatchd/internal/config"
	"github.com/marcus/dispatchd/internal/logging"
)

// DefaultServiceName is reported when the config leaves it empty.
const DefaultServiceName = "dispatchd"

// Shutdown flushes and stops the provider.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Setup exports spans over OTLP/gRPC when cfg.Endpoint is set. Exporter
// failures are logged and tracing stays disabled.
func Setup(ctx context.Context, cfg config.TelemetryConfig) Shutdown {
	if cfg.Endpoint == "" {
		return noop
	}
	logger := logging.Component("telemetry")

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		logger.WarnCtx("otel exporter error", logging.Fields{"endpoint": cfg.Endpoint, "err": err})
		return noop
	}

	name := cfg.ServiceName
	if name == "" {
		name = DefaultServiceName
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(name)))
	if err != nil {
		logger.WarnCtx("otel resource error", logging.Fields{"err": err})
	}

	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	logger.InfoCtx("tracing enabled", logging.Fields{"endpoint": cfg.Endpoint, "service": name})
	return provider.Shutdown
}
