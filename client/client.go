// Package client runs calls of all four shapes through a client middleware
// chain on top of a grpc.ClientConnInterface.
package client

import (
	"context"
	"errors"
	"iter"

	"github.com/Keksclan/rawrpipe/pipeline"
	"github.com/Keksclan/rawrpipe/rpcerror"
	"google.golang.org/grpc"
)

// config holds the internal configuration assembled via functional options.
type config struct {
	middlewares []pipeline.ClientMiddleware
	callOptions []pipeline.CallOption
}

// Option configures a Client.
type Option func(*config)

// WithMiddleware adds middlewares as if passed to successive Use calls.
func WithMiddleware(mws ...pipeline.ClientMiddleware) Option {
	return func(c *config) {
		c.middlewares = append(c.middlewares, mws...)
	}
}

// WithCallOptions sets call options applied before the per-call ones.
func WithCallOptions(opts ...pipeline.CallOption) Option {
	return func(c *config) {
		c.callOptions = append(c.callOptions, opts...)
	}
}

// Client is immutable; Use returns a new Client.
type Client struct {
	cc       grpc.ClientConnInterface
	mw       pipeline.ClientMiddleware
	defaults []pipeline.CallOption
}

// New creates a Client over cc.
func New(cc grpc.ClientConnInterface, opts ...Option) *Client {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	c := &Client{cc: cc, defaults: cfg.callOptions}
	for _, mw := range cfg.middlewares {
		c = c.Use(mw)
	}
	return c
}

// Use returns a client in which mw wraps every middleware already installed.
// The last middleware added sees a call first.
func (c *Client) Use(mw pipeline.ClientMiddleware) *Client {
	next := *c
	next.mw = pipeline.ComposeClient(c.mw, mw)
	return &next
}

// Unary performs a single-request, single-response call.
func (c *Client) Unary(ctx context.Context, desc *pipeline.MethodDescriptor, req any, opts ...pipeline.CallOption) (any, error) {
	if err := expectShape(desc, pipeline.Unary); err != nil {
		return nil, err
	}
	return c.settle(ctx, desc, pipeline.Request{Message: req}, opts)
}

// ClientStreaming sends every message of reqs and returns the single
// response.
func (c *Client) ClientStreaming(ctx context.Context, desc *pipeline.MethodDescriptor, reqs pipeline.Source, opts ...pipeline.CallOption) (any, error) {
	if err := expectShape(desc, pipeline.ClientStreaming); err != nil {
		return nil, err
	}
	return c.settle(ctx, desc, pipeline.Request{Stream: reqs}, opts)
}

// ServerStreaming sends req and returns the response sequence. Breaking out
// of the loop cancels the call.
func (c *Client) ServerStreaming(ctx context.Context, desc *pipeline.MethodDescriptor, req any, opts ...pipeline.CallOption) iter.Seq2[any, error] {
	if err := expectShape(desc, pipeline.ServerStreaming); err != nil {
		return failed(err)
	}
	return c.iterate(ctx, desc, pipeline.Request{Message: req}, opts)
}

// BidiStreaming sends reqs while returning the response sequence. Breaking
// out of the loop cancels the call.
func (c *Client) BidiStreaming(ctx context.Context, desc *pipeline.MethodDescriptor, reqs pipeline.Source, opts ...pipeline.CallOption) iter.Seq2[any, error] {
	if err := expectShape(desc, pipeline.BidiStreaming); err != nil {
		return failed(err)
	}
	return c.iterate(ctx, desc, pipeline.Request{Stream: reqs}, opts)
}

func (c *Client) entry(desc *pipeline.MethodDescriptor) pipeline.ClientNext {
	return pipeline.BindClient(desc, c.mw, c.transport(desc))
}

func (c *Client) callOptions(opts []pipeline.CallOption) pipeline.CallOptions {
	all := make([]pipeline.CallOption, 0, len(c.defaults)+len(opts))
	all = append(all, c.defaults...)
	all = append(all, opts...)
	return pipeline.NewCallOptions(all...)
}

func (c *Client) settle(ctx context.Context, desc *pipeline.MethodDescriptor, req pipeline.Request, opts []pipeline.CallOption) (any, error) {
	return c.entry(desc)(ctx, req, c.callOptions(opts))(func(any) error {
		return rpcerror.Validationf("%s: intermediate item on a single-response call", desc.Path)
	})
}

// errStopped is handed back to producers when the consumer stops iterating.
var errStopped = errors.New("client: consumer stopped iterating")

func (c *Client) iterate(ctx context.Context, desc *pipeline.MethodDescriptor, req pipeline.Request, opts []pipeline.CallOption) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		stopped := false
		_, err := c.entry(desc)(ctx, req, c.callOptions(opts))(func(item any) error {
			if stopped {
				return errStopped
			}
			if !yield(item, nil) {
				stopped = true
				return errStopped
			}
			return nil
		})
		if err != nil && !stopped {
			yield(nil, err)
		}
	}
}

func failed(err error) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		yield(nil, err)
	}
}

func expectShape(desc *pipeline.MethodDescriptor, want pipeline.Shape) error {
	if desc == nil {
		return rpcerror.Validationf("nil method descriptor")
	}
	if got := desc.Shape(); got != want {
		return rpcerror.Validationf("%s: %s method called as %s", desc.Path, got, want)
	}
	return nil
}
