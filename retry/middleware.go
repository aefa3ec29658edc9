package retry

import (
	"context"
	"errors"
	"time"

	"github.com/Keksclan/rawrpipe/pipeline"
	"github.com/Keksclan/rawrpipe/rpcerror"
)

type key struct{}

// overrides holds per-call settings; nil fields fall back to the Config.
type overrides struct {
	enabled   *bool
	baseDelay *time.Duration
	maxDelay  *time.Duration
	attempts  *int
	codes     []rpcerror.Code
	codesSet  bool
	observer  func(err error, attempt int, delay time.Duration)
}

func override(fn func(*overrides)) pipeline.CallOption {
	return func(o *pipeline.CallOptions) {
		cur, _ := o.Value(key{}).(overrides)
		fn(&cur)
		*o = o.With(key{}, cur)
	}
}

// Enabled turns retries on or off for one call.
func Enabled(on bool) pipeline.CallOption {
	return override(func(o *overrides) { o.enabled = &on })
}

// BaseDelay overrides the initial back-off for one call.
func BaseDelay(d time.Duration) pipeline.CallOption {
	return override(func(o *overrides) { o.baseDelay = &d })
}

// MaxDelay overrides the back-off cap for one call.
func MaxDelay(d time.Duration) pipeline.CallOption {
	return override(func(o *overrides) { o.maxDelay = &d })
}

// MaxAttempts overrides the number of retries for one call. Use [Unlimited]
// to retry forever.
func MaxAttempts(n int) pipeline.CallOption {
	return override(func(o *overrides) { o.attempts = &n })
}

// RetryableCodes overrides the retried status codes for one call.
func RetryableCodes(codes ...rpcerror.Code) pipeline.CallOption {
	return override(func(o *overrides) {
		o.codes = codes
		o.codesSet = true
	})
}

// OnRetryableError sets the back-off observer for one call.
func OnRetryableError(fn func(err error, attempt int, delay time.Duration)) pipeline.CallOption {
	return override(func(o *overrides) { o.observer = fn })
}

func (c Config) merge(desc *pipeline.MethodDescriptor, opts pipeline.CallOptions) (Config, bool) {
	o, _ := opts.Value(key{}).(overrides)
	enabled := desc.Idempotency == pipeline.Idempotent || desc.Idempotency == pipeline.NoSideEffects
	if c.Enabled != nil {
		enabled = *c.Enabled
	}
	if o.enabled != nil {
		enabled = *o.enabled
	}
	if _, pol, ok := c.Policy.Resolve(desc.Path); ok && pol != nil && pol.Retry != nil {
		c.MaxAttempts = pol.Retry.MaxAttempts
	}
	if o.baseDelay != nil {
		c.BaseDelay = *o.baseDelay
	}
	if o.maxDelay != nil {
		c.MaxDelay = *o.maxDelay
	}
	if o.attempts != nil {
		c.MaxAttempts = *o.attempts
	}
	if o.codesSet {
		c.RetryableCodes = o.codes
	}
	if o.observer != nil {
		c.OnRetryableError = o.observer
	}
	return c, enabled
}

// Middleware returns a client middleware retrying failed calls according to
// cfg and the per-call overrides. Calls with a streaming request pass
// through, as do response streams that already delivered an item.
func Middleware(cfg Config) pipeline.ClientMiddleware {
	base := cfg.withDefaults()

	return func(ctx context.Context, call pipeline.ClientCall, opts pipeline.CallOptions) pipeline.Producer {
		if call.Method.RequestStream {
			return call.Next(ctx, call.Request, opts)
		}
		cfg, enabled := base.merge(call.Method, opts)
		if !enabled {
			return call.Next(ctx, call.Request, opts)
		}
		path := call.Method.Path

		return func(yield pipeline.Yield) (any, error) {
			for attempt := 0; ; attempt++ {
				delivered := false
				var yieldErr error
				final, err := call.Next(ctx, call.Request, opts)(func(item any) error {
					delivered = true
					if err := yield(item); err != nil {
						yieldErr = err
						return err
					}
					return nil
				})
				if cfg.Metrics != nil {
					cfg.Metrics.attempted(path, err)
				}
				if err == nil {
					return final, nil
				}
				if delivered || (yieldErr != nil && errors.Is(err, yieldErr)) || !cfg.shouldRetry(ctx, err, attempt) {
					if cfg.Metrics != nil && attempt > 0 {
						cfg.Metrics.gaveUp(path, err)
					}
					return nil, err
				}
				if err := cfg.sleep(ctx, err, attempt, path); err != nil {
					return nil, err
				}
			}
		}
	}
}
