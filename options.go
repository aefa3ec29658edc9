package rawrpipe

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/Keksclan/rawrpipe/auth"
	"github.com/Keksclan/rawrpipe/logging"
	"github.com/Keksclan/rawrpipe/metrics"
	"github.com/Keksclan/rawrpipe/pipeline"
	"github.com/Keksclan/rawrpipe/policy"
	"github.com/Keksclan/rawrpipe/ratelimit"
	"github.com/Keksclan/rawrpipe/security"
	"github.com/Keksclan/rawrpipe/tracing"
)

// Option configures a Server.
type Option func(*config)

// WithMiddleware adds mw to the chain at order. Use [OrderUser] to run after
// every built-in middleware.
func WithMiddleware(order int, mw pipeline.ServerMiddleware) Option {
	return func(c *config) {
		c.middlewares.Add(order, mw)
	}
}

// WithGRPCServerOptions passes options to grpc.NewServer.
func WithGRPCServerOptions(opts ...grpc.ServerOption) Option {
	return func(c *config) {
		c.grpcOptions = append(c.grpcOptions, opts...)
	}
}

// WithLogger sets the logger used for recovered panics, unclassified
// failures and health changes.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithRecovery turns panics in handlers into INTERNAL failures instead of
// crashing the process.
func WithRecovery() Option {
	return func(c *config) {
		c.recovery = true
	}
}

// WithRequestID makes sure every call carries an x-request-id.
func WithRequestID() Option {
	return func(c *config) {
		c.requestID = true
	}
}

// WithCallLogging logs one entry per finished call on the server logger.
func WithCallLogging(opts ...logging.Option) Option {
	return func(c *config) {
		c.callLog = true
		c.callLogOpt = opts
	}
}

// WithIPBlocker rejects calls from addresses b does not allow.
func WithIPBlocker(b *security.IPBlocker) Option {
	return func(c *config) {
		c.ipBlocker = b
	}
}

// WithPolicies sets the method groups consulted by authentication and rate
// limiting. The resolved group name is stored in the call context.
func WithPolicies(r *policy.Resolver) Option {
	return func(c *config) {
		c.policies = r
	}
}

// WithRateLimitGlobal limits all calls to rps with the given burst. Groups
// with their own rate limit rule are limited by that rule instead.
func WithRateLimitGlobal(rps float64, burst int) Option {
	return func(c *config) {
		c.limiter = ratelimit.NewLimiter(rps, burst)
		c.rateLimit = true
	}
}

// WithRateLimitPolicies applies the rate limit rules of r.
func WithRateLimitPolicies(r *policy.Resolver) Option {
	return func(c *config) {
		c.policies = r
		c.rateLimit = true
	}
}

// WithAuth authenticates calls with fn. When policies are configured, only
// groups requiring authentication are checked.
func WithAuth(fn auth.AuthFunc) Option {
	return func(c *config) {
		c.authFunc = fn
	}
}

// WithOpenTelemetry records a server span per call.
func WithOpenTelemetry(cfg *tracing.Config) Option {
	return func(c *config) {
		c.tracing = cfg
	}
}

// WithMetrics registers the server call metrics on reg. A registry that also
// implements prometheus.Gatherer is served by [Server.MetricsHandler].
func WithMetrics(reg prometheus.Registerer, opts ...metrics.Option) Option {
	return func(c *config) {
		c.registerer = reg
		c.metricOpts = opts
	}
}
