package server

import (
	"github.com/Keksclan/rawrpipe/pipeline"
	"go.uber.org/zap"
)

// config holds the internal configuration assembled via functional options.
type config struct {
	middleware pipeline.ServerMiddleware
	logger     *zap.Logger
}

// Option configures a Service.
type Option func(*config)

// WithMiddleware appends middlewares to the chain. Middlewares added first
// see a call first.
func WithMiddleware(mws ...pipeline.ServerMiddleware) Option {
	return func(c *config) {
		for _, mw := range mws {
			c.middleware = pipeline.ComposeServer(c.middleware, mw)
		}
	}
}

// WithLogger sets the logger used for failures that are not reported to the
// peer. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// MethodOption configures a single method descriptor.
type MethodOption func(*pipeline.MethodDescriptor)

// WithIdempotency declares whether the method can be repeated safely.
func WithIdempotency(i pipeline.Idempotency) MethodOption {
	return func(d *pipeline.MethodDescriptor) {
		d.Idempotency = i
	}
}

// WithResponse sets the response factory. Clients built from Methods() need
// it to decode responses.
func WithResponse(newResponse func() any) MethodOption {
	return func(d *pipeline.MethodDescriptor) {
		d.NewResponse = newResponse
	}
}
