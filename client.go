package rawrpipe

import (
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/Keksclan/rawrpipe/breaker"
	"github.com/Keksclan/rawrpipe/cache"
	"github.com/Keksclan/rawrpipe/client"
	"github.com/Keksclan/rawrpipe/deadline"
	"github.com/Keksclan/rawrpipe/logging"
	"github.com/Keksclan/rawrpipe/metrics"
	"github.com/Keksclan/rawrpipe/pipeline"
	"github.com/Keksclan/rawrpipe/retry"
	"github.com/Keksclan/rawrpipe/tracing"
)

// clientConfig holds the client middlewares, set by ClientOption values.
type clientConfig struct {
	middlewares []pipeline.ClientMiddleware
	callOptions []pipeline.CallOption

	tracing  pipeline.ClientMiddleware
	metrics  pipeline.ClientMiddleware
	logging  pipeline.ClientMiddleware
	cache    pipeline.ClientMiddleware
	deadline pipeline.ClientMiddleware
	retry    pipeline.ClientMiddleware
	breaker  pipeline.ClientMiddleware
}

// ClientOption configures [NewClient].
type ClientOption func(*clientConfig)

// NewClient wraps cc with the configured middlewares. Whatever the option
// order, a call passes tracing, metrics, logging, cache, deadline, retry and
// the breaker in that order, then the middlewares given to
// [WithClientMiddleware], then the transport. The deadline therefore bounds
// all retries together and the breaker sees every attempt.
func NewClient(cc grpc.ClientConnInterface, opts ...ClientOption) *client.Client {
	var cfg clientConfig
	for _, o := range opts {
		o(&cfg)
	}
	// client.Use makes the last middleware the outermost.
	mws := append([]pipeline.ClientMiddleware(nil), cfg.middlewares...)
	for _, mw := range []pipeline.ClientMiddleware{
		cfg.breaker, cfg.retry, cfg.deadline, cfg.cache, cfg.logging, cfg.metrics, cfg.tracing,
	} {
		if mw != nil {
			mws = append(mws, mw)
		}
	}
	return client.New(cc, client.WithMiddleware(mws...), client.WithCallOptions(cfg.callOptions...))
}

// WithClientMiddleware adds middlewares next to the transport. Like
// successive Use calls, the last one sees a call first.
func WithClientMiddleware(mws ...pipeline.ClientMiddleware) ClientOption {
	return func(c *clientConfig) {
		c.middlewares = append(c.middlewares, mws...)
	}
}

// WithClientCallOptions sets call options applied to every call.
func WithClientCallOptions(opts ...pipeline.CallOption) ClientOption {
	return func(c *clientConfig) {
		c.callOptions = append(c.callOptions, opts...)
	}
}

// WithClientDeadline enables per-call deadlines.
func WithClientDeadline(opts ...deadline.Option) ClientOption {
	return func(c *clientConfig) {
		c.deadline = deadline.Middleware(opts...)
	}
}

// WithClientRetry retries failed calls according to cfg.
func WithClientRetry(cfg retry.Config) ClientOption {
	return func(c *clientConfig) {
		c.retry = retry.Middleware(cfg)
	}
}

// WithClientTracing records a client span per call and propagates it.
func WithClientTracing(cfg *tracing.Config) ClientOption {
	return func(c *clientConfig) {
		c.tracing = tracing.ClientMiddleware(cfg)
	}
}

// WithClientMetrics records client call metrics on m.
func WithClientMetrics(m *metrics.Metrics) ClientOption {
	return func(c *clientConfig) {
		c.metrics = m.ClientMiddleware()
	}
}

// WithClientLogger logs one entry per finished call.
func WithClientLogger(l *zap.Logger, opts ...logging.Option) ClientOption {
	return func(c *clientConfig) {
		c.logging = logging.ClientMiddleware(l, opts...)
	}
}

// WithClientCache answers unary NO_SIDE_EFFECTS calls from store.
func WithClientCache(store cache.Cache, ttl time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.cache = cache.Middleware(store, ttl)
	}
}

// WithClientBreaker guards every method with its own circuit breaker.
func WithClientBreaker(cfg breaker.Config, opts ...breaker.Option) ClientOption {
	return func(c *clientConfig) {
		c.breaker = breaker.PerMethod(cfg, opts...)
	}
}
