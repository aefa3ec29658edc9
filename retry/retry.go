package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/Keksclan/rawrpipe/policy"
	"github.com/Keksclan/rawrpipe/rpcerror"
	"github.com/benbjohnson/clock"
	"google.golang.org/grpc/status"
)

// Unlimited retries forever as long as errors stay retryable.
const Unlimited = math.MaxInt

// Config controls the retry behaviour of [Middleware] and [Do].
type Config struct {
	// Enabled forces retries on or off. Nil derives the decision from the
	// method's idempotency: IDEMPOTENT and NO_SIDE_EFFECTS are retried.
	Enabled *bool

	// BaseDelay is the back-off before the first retry. Later retries
	// double it. Zero uses the default of 1s.
	BaseDelay time.Duration

	// MaxDelay caps the exponential back-off before jitter is applied. Zero
	// uses the default of 30s.
	MaxDelay time.Duration

	// MaxAttempts is the number of retries after the first failure, so a
	// call runs at most MaxAttempts+1 times. Zero uses the default of one
	// retry; a negative value disables retries.
	MaxAttempts int

	// RetryableCodes lists the status codes that are retried. Nil uses the
	// defaults of [DefaultConfig]; an empty non-nil slice retries nothing.
	RetryableCodes []rpcerror.Code

	// OnRetryableError is called before each back-off sleep with the error,
	// the index of the failed attempt and the delay about to be slept.
	OnRetryableError func(err error, attempt int, delay time.Duration)

	// Rand returns a value in [0, 1) used for jitter. Defaults to
	// math/rand/v2.Float64.
	Rand func() float64

	// Clock drives back-off sleeps. Defaults to the wall clock.
	Clock clock.Clock

	// Metrics, when set, records attempts, retries and back-off delays.
	Metrics *Metrics

	// Policy, when set, supplies per-group retry budgets: the Retry rule of
	// the policy matching a method replaces MaxAttempts. Per-call options
	// still win.
	Policy *policy.Resolver
}

// DefaultConfig returns the default configuration: one retry after 1s for
// UNKNOWN, INTERNAL, UNAVAILABLE and CANCELLED, back-off capped at 30s.
func DefaultConfig() Config {
	return Config{
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 1,
		RetryableCodes: []rpcerror.Code{
			rpcerror.Unknown,
			rpcerror.Internal,
			rpcerror.Unavailable,
			rpcerror.Canceled,
		},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BaseDelay == 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.RetryableCodes == nil {
		c.RetryableCodes = def.RetryableCodes
	}
	if c.Rand == nil {
		c.Rand = rand.Float64
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return c
}

// Do calls fn until it succeeds, fails with a non-retryable error or runs out
// of attempts. Errors are recognized as ClientErrors or grpc status errors;
// anything else is returned as is. An abort, from fn or from ctx while
// sleeping, is returned without further attempts.
func Do[T any](ctx context.Context, cfg Config, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	cfg = cfg.withDefaults()

	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !cfg.shouldRetry(ctx, err, attempt) {
			return zero, err
		}
		if err := cfg.sleep(ctx, err, attempt, ""); err != nil {
			return zero, err
		}
	}
}

// shouldRetry reports whether the failure of the attempt with index attempt
// may be retried.
func (c *Config) shouldRetry(ctx context.Context, err error, attempt int) bool {
	if ctx.Err() != nil || rpcerror.IsAbort(err) {
		return false
	}
	code, ok := codeOf(err)
	if !ok || !slices.Contains(c.RetryableCodes, code) {
		return false
	}
	return c.MaxAttempts == Unlimited || attempt < c.MaxAttempts
}

// sleep computes the back-off for attempt, reports it and waits. It returns
// an abort error when ctx is done first.
func (c *Config) sleep(ctx context.Context, cause error, attempt int, method string) error {
	delay := backoff(*c, attempt)
	if c.OnRetryableError != nil {
		c.OnRetryableError(cause, attempt, delay)
	}
	if c.Metrics != nil {
		c.Metrics.retried(method, cause, delay)
	}
	timer := c.Clock.Timer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return rpcerror.Abort(ctx)
	case <-timer.C:
		return nil
	}
}

// codeOf recognizes failed-call errors.
func codeOf(err error) (rpcerror.Code, bool) {
	if ce, ok := rpcerror.AsClientError(err); ok {
		return ce.Code, true
	}
	if st, ok := status.FromError(err); ok {
		return rpcerror.FromGRPC(st.Code()), true
	}
	return rpcerror.Unknown, false
}
