package pipeline

import (
	"context"

	"github.com/Keksclan/rawrpipe/rpcerror"
)

// ClientNext continues a client call with a possibly replaced request,
// context or options.
type ClientNext func(ctx context.Context, req Request, opts CallOptions) Producer

// ClientCall is what a client middleware sees of a call.
type ClientCall struct {
	Method  *MethodDescriptor
	Request Request
	Next    ClientNext
}

// ClientMiddleware intercepts client calls of every shape. It may call Next
// zero or more times and must return a Producer of the same shape.
type ClientMiddleware func(ctx context.Context, call ClientCall, opts CallOptions) Producer

// ServerNext continues a server call.
type ServerNext func(ctx context.Context, req Request, cc *CallContext) Producer

// ServerCall is what a server middleware sees of a call. The innermost Next
// is the method implementation.
type ServerCall struct {
	Method  *MethodDescriptor
	Request Request
	Next    ServerNext
}

// ServerMiddleware intercepts server calls of every shape.
type ServerMiddleware func(ctx context.Context, call ServerCall, cc *CallContext) Producer

// PassClient forwards the call unchanged.
func PassClient(ctx context.Context, call ClientCall, opts CallOptions) Producer {
	return call.Next(ctx, call.Request, opts)
}

// PassServer forwards the call unchanged.
func PassServer(ctx context.Context, call ServerCall, cc *CallContext) Producer {
	return call.Next(ctx, call.Request, cc)
}

// ComposeClient returns a middleware in which outer wraps inner: outer sees
// the call first and its Next enters inner. Either argument may be nil.
func ComposeClient(inner, outer ClientMiddleware) ClientMiddleware {
	switch {
	case inner == nil && outer == nil:
		return PassClient
	case inner == nil:
		return outer
	case outer == nil:
		return inner
	}
	return func(ctx context.Context, call ClientCall, opts CallOptions) Producer {
		next := func(ctx context.Context, req Request, opts CallOptions) Producer {
			return inner(ctx, ClientCall{Method: call.Method, Request: req, Next: call.Next}, opts)
		}
		return outer(ctx, ClientCall{
			Method:  call.Method,
			Request: call.Request,
			Next:    GuardClient(call.Method, next),
		}, opts)
	}
}

// ComposeServer returns a middleware in which first wraps second: first sees
// the call first and its Next enters second. Either argument may be nil.
func ComposeServer(first, second ServerMiddleware) ServerMiddleware {
	switch {
	case first == nil && second == nil:
		return PassServer
	case first == nil:
		return second
	case second == nil:
		return first
	}
	return func(ctx context.Context, call ServerCall, cc *CallContext) Producer {
		next := func(ctx context.Context, req Request, cc *CallContext) Producer {
			return second(ctx, ServerCall{Method: call.Method, Request: req, Next: call.Next}, cc)
		}
		return first(ctx, ServerCall{
			Method:  call.Method,
			Request: call.Request,
			Next:    GuardServer(call.Method, next),
		}, cc)
	}
}

// BindClient binds mw to a terminal step for one method. The returned entry
// point and the terminal are both shape-guarded.
func BindClient(desc *MethodDescriptor, mw ClientMiddleware, terminal ClientNext) ClientNext {
	if mw == nil {
		mw = PassClient
	}
	guarded := GuardClient(desc, terminal)
	return GuardClient(desc, func(ctx context.Context, req Request, opts CallOptions) Producer {
		return mw(ctx, ClientCall{Method: desc, Request: req, Next: guarded}, opts)
	})
}

// BindServer binds mw to a method implementation.
func BindServer(desc *MethodDescriptor, mw ServerMiddleware, handler ServerNext) ServerNext {
	if mw == nil {
		mw = PassServer
	}
	guarded := GuardServer(desc, handler)
	return GuardServer(desc, func(ctx context.Context, req Request, cc *CallContext) Producer {
		return mw(ctx, ServerCall{Method: desc, Request: req, Next: guarded}, cc)
	})
}

// GuardClient enforces the call shape of desc across a Next crossing.
func GuardClient(desc *MethodDescriptor, next ClientNext) ClientNext {
	return func(ctx context.Context, req Request, opts CallOptions) Producer {
		if err := CheckRequest(desc, req); err != nil {
			return Fail(err)
		}
		return Guard(desc, next(ctx, req, opts))
	}
}

// GuardServer enforces the call shape of desc across a Next crossing.
func GuardServer(desc *MethodDescriptor, next ServerNext) ServerNext {
	return func(ctx context.Context, req Request, cc *CallContext) Producer {
		if err := CheckRequest(desc, req); err != nil {
			return Fail(err)
		}
		return Guard(desc, next(ctx, req, cc))
	}
}

// CheckRequest validates that req carries a single message or a stream, as
// the shape of desc requires.
func CheckRequest(desc *MethodDescriptor, req Request) error {
	if desc.RequestStream {
		if req.Stream == nil || req.Message != nil {
			return rpcerror.Validationf("%s: expected a request stream", desc.Path)
		}
		return nil
	}
	if req.Message == nil || req.Stream != nil {
		return rpcerror.Validationf("%s: expected a single request message", desc.Path)
	}
	return nil
}

// Guard wraps p so that output not matching the response shape of desc
// fails with a ValidationError. A violation is fatal even when p ignores the
// error its yield returned, as is an item yielded after the consumer already
// refused one.
func Guard(desc *MethodDescriptor, p Producer) Producer {
	return func(yield Yield) (any, error) {
		if p == nil {
			return nil, rpcerror.Validationf("%s: middleware returned no producer", desc.Path)
		}
		var violated, refused error
		final, err := p(func(item any) error {
			switch {
			case violated != nil:
				return violated
			case !desc.ResponseStream:
				violated = rpcerror.Validationf("%s: intermediate item on a single-response call", desc.Path)
				return violated
			case refused != nil:
				violated = rpcerror.Validationf("%s: item yielded after the consumer stopped", desc.Path)
				return violated
			}
			if err := yield(item); err != nil {
				refused = err
				return err
			}
			return nil
		})
		if violated != nil {
			return nil, violated
		}
		if err != nil {
			return nil, err
		}
		if refused != nil {
			return nil, refused
		}
		if desc.ResponseStream && final != nil {
			return nil, rpcerror.Validationf("%s: final value on a streaming response", desc.Path)
		}
		if !desc.ResponseStream && final == nil {
			return nil, rpcerror.Validationf("%s: missing final value on a single-response call", desc.Path)
		}
		return final, nil
	}
}
