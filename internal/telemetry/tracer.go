// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package telemetry provides OpenTelemetry tracing for the playback engine.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// EngineTracerName is the instrumentation name of engine command spans.
const EngineTracerName = "github.com/ManuGH/xplay/engine"

// Config selects where engine command spans go. It is the telemetry
// section of the xplay config file.
type Config struct {
	Enabled        bool   `yaml:"enabled"`
	ServiceName    string `yaml:"serviceName"`
	ServiceVersion string `yaml:"serviceVersion"`
	Environment    string `yaml:"environment"`
	// ExporterType is "grpc" or "http" OTLP.
	ExporterType string `yaml:"exporter"`
	Endpoint     string `yaml:"endpoint"`
	// SamplingRate is the share of root command spans kept, 0 to 1.
	SamplingRate float64 `yaml:"samplingRate"`
}

// Provider manages the OpenTelemetry tracer provider.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// Option adjusts NewProvider.
type Option func(*options)

type options struct {
	exporter sdktrace.SpanExporter
}

// WithExporter replaces the configured OTLP exporter. Spans are exported
// synchronously as each engine command ends.
func WithExporter(e sdktrace.SpanExporter) Option {
	return func(o *options) { o.exporter = e }
}

// NewProvider installs the global tracer provider the engine draws its
// command tracer from. A disabled config installs a noop provider.
func NewProvider(ctx context.Context, cfg Config, opts ...Option) (*Provider, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return &Provider{tp: nil}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	export := sdktrace.WithSyncer(o.exporter)
	if o.exporter == nil {
		exporter, err := newExporter(ctx, cfg)
		if err != nil {
			return nil, err
		}
		export = sdktrace.WithBatcher(exporter)
	}

	tp := sdktrace.NewTracerProvider(
		export,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SamplingRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{tp: tp}, nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.ExporterType {
	case "grpc":
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC exporter: %w", err)
		}
		return exporter, nil
	case "http":
		exporter, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP exporter: %w", err)
		}
		return exporter, nil
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s (supported: grpc, http)", cfg.ExporterType)
	}
}

// sampler keeps engine command spans of a session together: a span whose
// parent was sampled is sampled too.
func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0.0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Shutdown flushes pending spans and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil // noop provider
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.tp.Shutdown(shutdownCtx)
}

// Tracer returns a tracer for the given name.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartCommand opens the span of one engine command.
func StartCommand(ctx context.Context, tracer trace.Tracer, command, sessionID, state string) trace.Span {
	_, span := tracer.Start(ctx, "engine."+command,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(CommandAttributes(command, sessionID, state)...))
	return span
}

// EndCommand records the playback state a command left behind and, for a
// failed command, its error kind and code, then ends span.
func EndCommand(span trace.Span, err error, kind string, code int, playback []attribute.KeyValue) {
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(ErrorAttributes(kind, code)...)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(playback...)
	span.End()
}
