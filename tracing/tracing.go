// Package tracing provides OpenTelemetry client and server middlewares. It
// is entirely optional: spans are only recorded when a [Config] is wired in.
package tracing

import (
	"context"
	"fmt"
	"io"

	"github.com/Keksclan/rawrpipe/metadata"
	"github.com/Keksclan/rawrpipe/pipeline"
	"github.com/Keksclan/rawrpipe/rpcerror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/Keksclan/rawrpipe/tracing"

// Config holds the OpenTelemetry configuration used by the middlewares.
type Config struct {
	// TracerProvider supplies the Tracer used to create spans. When nil the
	// global otel.GetTracerProvider() is used.
	TracerProvider trace.TracerProvider

	// Propagators injects and extracts trace context through call
	// metadata. When nil the global otel.GetTextMapPropagator() is used.
	Propagators propagation.TextMapPropagator
}

func (c *Config) tracer() trace.Tracer {
	tp := c.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(instrumentationName)
}

func (c *Config) propagators() propagation.TextMapPropagator {
	if c.Propagators != nil {
		return c.Propagators
	}
	return otel.GetTextMapPropagator()
}

// StdoutConfig returns a Config that writes every finished span to w as
// indented JSON, propagating W3C trace context. Meant for debugging; the
// returned shutdown func flushes and stops the provider.
func StdoutConfig(w io.Writer) (*Config, func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, fmt.Errorf("tracing: stdout exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	cfg := &Config{
		TracerProvider: tp,
		Propagators:    propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	}
	return cfg, tp.Shutdown, nil
}

// ClientMiddleware returns a client middleware that records one client span
// per call and injects its context into the request metadata. A nil cfg
// yields a pass-through middleware.
func ClientMiddleware(cfg *Config) pipeline.ClientMiddleware {
	if cfg == nil {
		return pipeline.PassClient
	}
	return func(ctx context.Context, call pipeline.ClientCall, opts pipeline.CallOptions) pipeline.Producer {
		return func(yield pipeline.Yield) (any, error) {
			ctx, span := cfg.tracer().Start(ctx, call.Method.Path,
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(methodAttributes(call.Method)...),
			)
			defer span.End()

			// Inject into a copy: the caller may reuse its metadata.
			md := opts.Metadata.Clone()
			cfg.propagators().Inject(ctx, carrier{md})
			opts.Metadata = md

			return traced(span, "RECEIVED", call.Next(ctx, call.Request, opts), yield)
		}
	}
}

// ServerMiddleware returns a server middleware that extracts the remote
// trace context from the request metadata and records one server span per
// call. A nil cfg yields a pass-through middleware.
func ServerMiddleware(cfg *Config) pipeline.ServerMiddleware {
	if cfg == nil {
		return pipeline.PassServer
	}
	return func(ctx context.Context, call pipeline.ServerCall, cc *pipeline.CallContext) pipeline.Producer {
		return func(yield pipeline.Yield) (any, error) {
			ctx = cfg.propagators().Extract(ctx, carrier{cc.Metadata})
			ctx, span := cfg.tracer().Start(ctx, call.Method.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(methodAttributes(call.Method)...),
			)
			defer span.End()

			return traced(span, "SENT", call.Next(ctx, call.Request, cc), yield)
		}
	}
}

// traced drives p, adding a message event per item and the final status.
func traced(span trace.Span, direction string, p pipeline.Producer, yield pipeline.Yield) (any, error) {
	count := 0
	final, err := p(func(item any) error {
		count++
		span.AddEvent("message", trace.WithAttributes(
			attribute.String("message.type", direction),
			attribute.Int("message.id", count),
		))
		return yield(item)
	})
	span.SetAttributes(attribute.Int("rpc.message.count", count))
	recordStatus(span, err)
	return final, err
}

func methodAttributes(desc *pipeline.MethodDescriptor) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("rpc.system", "grpc"),
		attribute.String("rpc.service", desc.Service()),
		attribute.String("rpc.method", desc.Method()),
		attribute.String("rpc.shape", desc.Shape().String()),
	}
}

func recordStatus(span trace.Span, err error) {
	code := rpcerror.CodeOf(err)
	span.SetAttributes(attribute.String("rpc.grpc.status_code", code.String()))
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// carrier adapts Metadata to propagation.TextMapCarrier. Invalid values
// produced by a propagator are dropped.
type carrier struct {
	md *metadata.Metadata
}

func (c carrier) Get(key string) string {
	v, _ := c.md.Get(key)
	return v
}

func (c carrier) Set(key, value string) {
	_ = c.md.Set(key, value)
}

func (c carrier) Keys() []string {
	return c.md.Keys()
}
