package client

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/Keksclan/rawrpipe/metadata"
	"github.com/Keksclan/rawrpipe/pipeline"
	"github.com/Keksclan/rawrpipe/rpcerror"
	"google.golang.org/grpc"
	grpcmd "google.golang.org/grpc/metadata"
)

// transport returns the innermost step of a client chain: the actual call
// on the connection.
func (c *Client) transport(desc *pipeline.MethodDescriptor) pipeline.ClientNext {
	if !desc.RequestStream && !desc.ResponseStream {
		return func(ctx context.Context, req pipeline.Request, opts pipeline.CallOptions) pipeline.Producer {
			return c.invoke(ctx, desc, req.Message, opts)
		}
	}
	return func(ctx context.Context, req pipeline.Request, opts pipeline.CallOptions) pipeline.Producer {
		return c.stream(ctx, desc, req, opts)
	}
}

func (c *Client) invoke(ctx context.Context, desc *pipeline.MethodDescriptor, msg any, opts pipeline.CallOptions) pipeline.Producer {
	return func(pipeline.Yield) (any, error) {
		resp := newResponse(desc)
		var header, trailer grpcmd.MD
		err := c.cc.Invoke(outgoing(ctx, opts.Metadata), desc.Path, msg, resp,
			grpc.Header(&header), grpc.Trailer(&trailer))
		if header != nil || err == nil {
			fire(opts.OnHeader, header)
		}
		fire(opts.OnTrailer, trailer)
		if err != nil {
			return nil, rpcerror.FromTransport(ctx, desc.Path, err)
		}
		return resp, nil
	}
}

// pumpError carries a failure of the request pump as a cancellation cause.
// source is set when the request sequence itself failed.
type pumpError struct {
	err    error
	source bool
}

func (e *pumpError) Error() string { return "request pump: " + e.err.Error() }
func (e *pumpError) Unwrap() error { return e.err }

func (c *Client) stream(parent context.Context, desc *pipeline.MethodDescriptor, req pipeline.Request, opts pipeline.CallOptions) pipeline.Producer {
	return func(yield pipeline.Yield) (any, error) {
		ctx, cancel := context.WithCancelCause(parent)
		defer cancel(nil)

		sd := &grpc.StreamDesc{
			StreamName:    desc.Method(),
			ClientStreams: desc.RequestStream,
			ServerStreams: desc.ResponseStream,
		}
		cs, err := c.cc.NewStream(outgoing(ctx, opts.Metadata), sd, desc.Path)
		if err != nil {
			fire(opts.OnTrailer, nil)
			return nil, rpcerror.FromTransport(parent, desc.Path, err)
		}

		if desc.RequestStream {
			go pump(ctx, cancel, cs, req.Stream)
		} else if err := sendOne(cs, req.Message); err != nil {
			cancel(&pumpError{err: err})
		}

		classify := func(err error) error {
			var pe *pumpError
			if errors.As(context.Cause(ctx), &pe) && parent.Err() == nil {
				if pe.source {
					return pe.err
				}
				return rpcerror.FromTransport(parent, desc.Path, pe.err)
			}
			return rpcerror.FromTransport(parent, desc.Path, err)
		}

		var headerOnce sync.Once
		onHeader := func() {
			headerOnce.Do(func() {
				if md, err := cs.Header(); err == nil {
					fire(opts.OnHeader, md)
				}
			})
		}
		settle := func() {
			onHeader()
			fire(opts.OnTrailer, cs.Trailer())
		}

		if !desc.ResponseStream {
			resp := newResponse(desc)
			err := cs.RecvMsg(resp)
			settle()
			if err != nil {
				return nil, classify(err)
			}
			return resp, nil
		}

		for {
			msg := newResponse(desc)
			err := cs.RecvMsg(msg)
			onHeader()
			if errors.Is(err, io.EOF) {
				settle()
				return nil, nil
			}
			if err != nil {
				settle()
				return nil, classify(err)
			}
			if err := yield(msg); err != nil {
				cancel(err)
				settle()
				return nil, err
			}
		}
	}
}

// sendOne writes the only request message of a non-request-streaming call.
func sendOne(cs grpc.ClientStream, msg any) error {
	if err := cs.SendMsg(msg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return cs.CloseSend()
}

// pump forwards src to the stream in order. SendMsg blocks under flow
// control, which is how backpressure reaches src. A failing source cancels
// the call with the source error as cause. pump returns only when src does,
// so a source waiting on input must stop by itself; see [pipeline.Source].
func pump(ctx context.Context, cancel context.CancelCauseFunc, cs grpc.ClientStream, src pipeline.Source) {
	for msg, err := range src {
		if err != nil {
			cancel(&pumpError{err: err, source: true})
			return
		}
		if ctx.Err() != nil {
			return
		}
		if err := cs.SendMsg(msg); err != nil {
			// io.EOF means the stream ended; RecvMsg reports the status.
			if !errors.Is(err, io.EOF) {
				cancel(&pumpError{err: err})
			}
			return
		}
	}
	if ctx.Err() == nil {
		_ = cs.CloseSend()
	}
}

func outgoing(ctx context.Context, md *metadata.Metadata) context.Context {
	if md.Len() == 0 {
		return ctx
	}
	existing, _ := grpcmd.FromOutgoingContext(ctx)
	return grpcmd.NewOutgoingContext(ctx, grpcmd.Join(existing, md.MD()))
}

func fire(hook func(*metadata.Metadata), md grpcmd.MD) {
	if hook == nil {
		return
	}
	converted, err := metadata.FromMD(md)
	if err != nil {
		converted = metadata.Empty()
	}
	hook(converted)
}

func newResponse(desc *pipeline.MethodDescriptor) any {
	if desc.NewResponse == nil {
		return new(any)
	}
	return desc.NewResponse()
}
