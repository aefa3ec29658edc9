package rawrpipe

import (
	"fmt"
	"net"
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/Keksclan/rawrpipe/health"
	"github.com/Keksclan/rawrpipe/internal/core"
	"github.com/Keksclan/rawrpipe/metrics"
	"github.com/Keksclan/rawrpipe/ping"
	"github.com/Keksclan/rawrpipe/pipeline"
	"github.com/Keksclan/rawrpipe/server"
)

// Server is a gRPC server whose services all share one middleware chain
// assembled from the [Option] values passed to [NewServer].
//
// Services declared through [Server.Service] are registered on the
// underlying grpc.Server when [Server.Serve] or [Server.Register] runs.
// Generated services registered directly on [Server.GRPC] bypass the chain.
type Server struct {
	grpcServer *grpc.Server
	chain      pipeline.ServerMiddleware
	logger     *zap.Logger
	services   core.ServiceRegistry
	health     *health.Registry
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
}

// NewServer creates a Server. Middleware order is fixed by the Order
// constants, not by the order options are passed.
//
//	srv := rawrpipe.NewServer(
//		rawrpipe.WithRecovery(),
//		rawrpipe.WithRateLimitGlobal(500, 100),
//		rawrpipe.WithAuth(myAuthFunc),
//	)
func NewServer(opts ...Option) *Server {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	chain, m := cfg.build()

	s := &Server{
		grpcServer: grpc.NewServer(cfg.grpcOptions...),
		chain:      chain,
		logger:     cfg.logger,
		health:     health.NewRegistry(cfg.logger),
		metrics:    m,
	}
	if g, ok := cfg.registerer.(prometheus.Gatherer); ok {
		s.gatherer = g
	}
	return s
}

// Service declares a service running through the server chain. It panics
// when name was already declared or the server already started, like
// grpc.Server.RegisterService does.
func (s *Server) Service(name string, opts ...server.Option) *server.Service {
	base := []server.Option{server.WithMiddleware(s.chain), server.WithLogger(s.logger)}
	svc := server.NewService(name, append(base, opts...)...)
	if err := s.services.Add(svc); err != nil {
		panic(fmt.Sprintf("rawrpipe: %v", err))
	}
	return svc
}

// GRPC returns the underlying *grpc.Server.
func (s *Server) GRPC() *grpc.Server {
	return s.grpcServer
}

// Health returns the registry behind the health service.
func (s *Server) Health() *health.Registry {
	return s.health
}

// Metrics returns the server call metrics, or nil without [WithMetrics].
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// RegisterPing declares the built-in rawr.Ping service. A nil clk uses the
// wall clock.
func (s *Server) RegisterPing(clk clock.Clock) {
	s.add(ping.Service(clk, server.WithMiddleware(s.chain), server.WithLogger(s.logger)))
}

// RegisterHealth declares the grpc.health.v1.Health service backed by
// [Server.Health]. On Register every declared service is marked SERVING.
func (s *Server) RegisterHealth() {
	s.add(health.Service(s.health, server.WithMiddleware(s.chain), server.WithLogger(s.logger)))
}

func (s *Server) add(svc *server.Service) {
	if err := s.services.Add(svc); err != nil {
		panic(fmt.Sprintf("rawrpipe: %v", err))
	}
}

// Register registers the declared services on the underlying grpc.Server.
// Serve calls it; only the first call has an effect.
func (s *Server) Register() {
	s.services.RegisterAll(s.grpcServer)
	for _, name := range s.services.Names() {
		if _, known := s.health.Get(name); !known {
			s.health.Set(name, health.Serving)
		}
	}
}

// Serve registers the declared services and serves on lis.
func (s *Server) Serve(lis net.Listener) error {
	s.Register()
	s.logger.Info("serving", zap.Stringer("addr", lis.Addr()), zap.Strings("services", s.services.Names()))
	return s.grpcServer.Serve(lis)
}

// GracefulStop reports NOT_SERVING to health watchers and waits for running
// calls to finish.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

// Stop closes all connections immediately.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpcServer.Stop()
}

// MetricsHandler returns an http.Handler serving Prometheus metrics. It
// serves the registry passed to [WithMetrics] when that registry can be
// gathered, and the default registry otherwise.
func (s *Server) MetricsHandler() http.Handler {
	if s.gatherer != nil {
		return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}
