// Package deadline provides a client middleware that fails calls which do not
// settle before their deadline.
//
// The deadline is enforced locally with its own timer and a derived
// cancellable context. It is not sent to the server as a grpc-timeout.
package deadline

import (
	"context"
	"errors"
	"time"

	"github.com/Keksclan/rawrpipe/pipeline"
	"github.com/Keksclan/rawrpipe/policy"
	"github.com/Keksclan/rawrpipe/rpcerror"
	"github.com/benbjohnson/clock"
)

// ErrExceeded is the cancellation cause set when the deadline timer fires.
var ErrExceeded = errors.New("deadline: exceeded")

type key struct{}

// setting is the per-call deadline; exactly one field is used.
type setting struct {
	at    time.Time
	after time.Duration
}

// At sets an absolute deadline for one call.
func At(t time.Time) pipeline.CallOption {
	return pipeline.WithValue(key{}, setting{at: t})
}

// After sets a deadline relative to the moment the call enters the
// middleware.
func After(d time.Duration) pipeline.CallOption {
	return pipeline.WithValue(key{}, setting{after: d})
}

type config struct {
	clock  clock.Clock
	policy *policy.Resolver
}

// Option configures the middleware.
type Option func(*config)

// WithClock replaces the wall clock, typically with clock.NewMock in tests.
func WithClock(c clock.Clock) Option {
	return func(cfg *config) { cfg.clock = c }
}

// WithPolicy supplies a default timeout for calls without a per-call
// deadline, taken from the Timeout of the policy matching the method.
func WithPolicy(r *policy.Resolver) Option {
	return func(cfg *config) { cfg.policy = r }
}

// Middleware returns the deadline middleware. Calls without a deadline pass
// through untouched.
func Middleware(opts ...Option) pipeline.ClientMiddleware {
	cfg := config{clock: clock.New()}
	for _, o := range opts {
		o(&cfg)
	}

	return func(ctx context.Context, call pipeline.ClientCall, opts pipeline.CallOptions) pipeline.Producer {
		return func(yield pipeline.Yield) (any, error) {
			deadline, ok := cfg.resolve(call.Method, opts)
			if !ok {
				return call.Next(ctx, call.Request, opts)(yield)
			}
			derived, cancel := context.WithCancelCause(ctx)
			defer cancel(nil)
			if remaining := deadline.Sub(cfg.clock.Now()); remaining > 0 {
				timer := cfg.clock.AfterFunc(remaining, func() {
					cancel(ErrExceeded)
				})
				defer timer.Stop()
			} else {
				cancel(ErrExceeded)
			}

			final, err := call.Next(derived, call.Request, opts)(yield)
			if err != nil && ctx.Err() == nil && errors.Is(context.Cause(derived), ErrExceeded) {
				return nil, rpcerror.NewClientError(call.Method.Path, rpcerror.DeadlineExceeded, "Deadline exceeded")
			}
			return final, err
		}
	}
}

func (cfg *config) resolve(desc *pipeline.MethodDescriptor, opts pipeline.CallOptions) (time.Time, bool) {
	if v, ok := opts.Lookup(key{}); ok {
		s := v.(setting)
		if !s.at.IsZero() {
			return s.at, true
		}
		return cfg.clock.Now().Add(s.after), true
	}
	if cfg.policy != nil {
		if _, pol, ok := cfg.policy.Resolve(desc.Path); ok && pol != nil && pol.Timeout > 0 {
			return cfg.clock.Now().Add(pol.Timeout), true
		}
	}
	return time.Time{}, false
}
