package rawrpipe

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/Keksclan/rawrpipe/auth"
	"github.com/Keksclan/rawrpipe/interceptors"
	"github.com/Keksclan/rawrpipe/internal/core"
	"github.com/Keksclan/rawrpipe/logging"
	"github.com/Keksclan/rawrpipe/metrics"
	"github.com/Keksclan/rawrpipe/pipeline"
	"github.com/Keksclan/rawrpipe/policy"
	"github.com/Keksclan/rawrpipe/ratelimit"
	"github.com/Keksclan/rawrpipe/security"
	"github.com/Keksclan/rawrpipe/tracing"
)

// config holds the internal configuration assembled via functional options.
// Built-in middlewares are recorded as settings and added to the chain once
// every option ran, so they share the final logger and resolver.
type config struct {
	middlewares core.MiddlewareBuilder
	logger      *zap.Logger
	grpcOptions []grpc.ServerOption

	recovery   bool
	requestID  bool
	ipBlocker  *security.IPBlocker
	policies   *policy.Resolver
	limiter    *ratelimit.Limiter
	rateLimit  bool
	authFunc   auth.AuthFunc
	tracing    *tracing.Config
	registerer prometheus.Registerer
	metricOpts []metrics.Option
	callLog    bool
	callLogOpt []logging.Option
}

// build adds the built-in middlewares and chains everything. m is nil unless
// metrics were requested.
func (c *config) build() (chain pipeline.ServerMiddleware, m *metrics.Metrics) {
	b := &c.middlewares
	if c.recovery {
		b.Add(OrderRecovery, interceptors.Recovery(c.logger))
	}
	if c.requestID {
		b.Add(OrderRequestID, interceptors.RequestID())
	}
	if c.tracing != nil {
		b.Add(OrderTracing, tracing.ServerMiddleware(c.tracing))
	}
	if c.registerer != nil {
		m = metrics.New(c.registerer, c.metricOpts...)
		b.Add(OrderMetrics, m.ServerMiddleware())
	}
	if c.callLog {
		b.Add(OrderLogging, logging.ServerMiddleware(c.logger, c.callLogOpt...))
	}
	if c.ipBlocker != nil {
		b.Add(OrderIPBlock, interceptors.IPBlock(c.ipBlocker))
	}
	if c.policies != nil {
		b.Add(OrderPolicy, interceptors.PolicyGroup(c.policies))
	}
	if c.rateLimit {
		b.Add(OrderRateLimit, interceptors.RateLimit(c.limiter, c.policies))
	}
	if c.authFunc != nil {
		b.Add(OrderAuth, interceptors.Auth(c.authFunc, c.policies))
	}
	return b.Build(), m
}
