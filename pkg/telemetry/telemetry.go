// Package telemetry traces session recomputes, copies and HTTP tokenize
// calls with OpenTelemetry.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/sweetpotato0/chai-tokenizer/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// InstrumentationName is the tracer name used across the module.
const InstrumentationName = "github.com/sweetpotato0/chai-tokenizer"

// Span attribute keys shared by every traced operation.
const (
	SessionIDKey = attribute.Key("chai.session.id")
	RequestIDKey = attribute.Key("chai.request.id")
	ModelKey     = attribute.Key("chai.model")
	ModeKey      = attribute.Key("chai.mode")
	TriggerKey   = attribute.Key("chai.trigger")
	TokensKey    = attribute.Key("chai.tokens")
	DegradedKey  = attribute.Key("chai.degraded")
	BytesKey     = attribute.Key("chai.export.bytes")
)

// Shutdown flushes pending spans and releases the exporter.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Config selects where spans go.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Disable        bool
	// Endpoint is an OTLP/gRPC collector address. Empty falls back to
	// OTEL_EXPORTER_OTLP_ENDPOINT, then to pretty-printed spans on Writer.
	Endpoint string
	// SampleRatio is the fraction of root spans kept; 0 or >= 1 keeps all.
	SampleRatio float64
	Writer      io.Writer
	Logger      *slog.Logger
}

// Init installs a global tracer provider for cfg. Session and server spans
// go through the global provider, so without Init they are no-ops.
func Init(ctx context.Context, cfg Config) (Shutdown, error) {
	if cfg.Disable {
		return noop, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "chai-tokenizer"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.WithComponent("telemetry")
	}

	exp, err := exporterFor(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := resourceFor(ctx, cfg)
	if err != nil {
		_ = exp.Shutdown(ctx)
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	logger := cfg.Logger
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("flushing spans failed", "error", err)
			return err
		}
		return nil
	}, nil
}

func samplerFor(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func resourceFor(ctx context.Context, cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersionKey.String(cfg.ServiceVersion))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(cfg.Environment))
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithFromEnv(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}
	return res, nil
}

func exporterFor(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}

	if endpoint == "" {
		w := cfg.Writer
		if w == nil {
			w = os.Stderr
		}
		cfg.Logger.Debug("tracing to writer", "service", cfg.ServiceName)
		return stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exp, err := otlptracegrpc.New(dialCtx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: OTLP exporter for %s: %w", endpoint, err)
	}
	cfg.Logger.Info("tracing to collector", "endpoint", endpoint, "service", cfg.ServiceName)
	return exp, nil
}

// Tracer returns the module tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
