package breaker

import (
	"context"
	"slices"
	"sync"

	"github.com/Keksclan/rawrpipe/pipeline"
	"github.com/Keksclan/rawrpipe/rpcerror"
)

// DefaultFailureCodes are the codes that count against a breaker.
var DefaultFailureCodes = []rpcerror.Code{
	rpcerror.Unknown,
	rpcerror.DeadlineExceeded,
	rpcerror.Internal,
	rpcerror.Unavailable,
}

// Option configures [Middleware] and [PerMethod].
type Option func(*options)

type options struct {
	failureCodes []rpcerror.Code
}

// WithFailureCodes replaces [DefaultFailureCodes].
func WithFailureCodes(codes ...rpcerror.Code) Option {
	return func(o *options) { o.failureCodes = codes }
}

func newOptions(opts []Option) options {
	o := options{failureCodes: DefaultFailureCodes}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Middleware returns a client middleware guarding every call with b. While b
// rejects calls they fail with UNAVAILABLE without reaching next. Failed calls
// with other codes count as successes. Aborts and local errors leave b
// unchanged.
func Middleware(b *Breaker, opts ...Option) pipeline.ClientMiddleware {
	o := newOptions(opts)
	return func(ctx context.Context, call pipeline.ClientCall, copts pipeline.CallOptions) pipeline.Producer {
		return guard(ctx, b, call, copts, o)
	}
}

// PerMethod is like [Middleware] but keeps one breaker per method, created
// from cfg on first use.
func PerMethod(cfg Config, opts ...Option) pipeline.ClientMiddleware {
	o := newOptions(opts)
	var breakers sync.Map
	return func(ctx context.Context, call pipeline.ClientCall, copts pipeline.CallOptions) pipeline.Producer {
		v, ok := breakers.Load(call.Method.Path)
		if !ok {
			v, _ = breakers.LoadOrStore(call.Method.Path, New(cfg))
		}
		return guard(ctx, v.(*Breaker), call, copts, o)
	}
}

func guard(ctx context.Context, b *Breaker, call pipeline.ClientCall, copts pipeline.CallOptions, o options) pipeline.Producer {
	return func(yield pipeline.Yield) (any, error) {
		if !b.Allow() {
			return nil, rpcerror.NewClientError(call.Method.Path, rpcerror.Unavailable, "circuit breaker open")
		}
		final, err := call.Next(ctx, call.Request, copts)(yield)
		if err == nil {
			b.OnSuccess()
			return final, nil
		}
		ce, ok := rpcerror.AsClientError(err)
		switch {
		case !ok || rpcerror.IsAbort(err):
			b.OnIgnored()
		case slices.Contains(o.failureCodes, ce.Code):
			b.OnFailure()
		default:
			// The backend answered, so it is healthy.
			b.OnSuccess()
		}
		return final, err
	}
}
