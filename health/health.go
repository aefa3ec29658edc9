// Package health implements the grpc.health.v1.Health service on top of a
// status registry. Handlers run through the same middleware chain as any
// other service.
package health

import (
	"context"
	"maps"
	"sync"

	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Keksclan/rawrpipe/pipeline"
	"github.com/Keksclan/rawrpipe/rpcerror"
	"github.com/Keksclan/rawrpipe/server"
)

// ServiceName is the registered name of the health service.
const ServiceName = "grpc.health.v1.Health"

// Status is a serving status.
type Status = healthpb.HealthCheckResponse_ServingStatus

const (
	Unknown        = healthpb.HealthCheckResponse_UNKNOWN
	Serving        = healthpb.HealthCheckResponse_SERVING
	NotServing     = healthpb.HealthCheckResponse_NOT_SERVING
	ServiceUnknown = healthpb.HealthCheckResponse_SERVICE_UNKNOWN
)

// Registry holds the serving status of every service. The empty name stands
// for the server as a whole and starts as SERVING.
type Registry struct {
	mu       sync.Mutex
	statuses map[string]Status
	subs     map[string]map[*Subscription]struct{}
	shutdown bool
	log      *zap.Logger
}

// NewRegistry creates a registry. A nil logger discards status changes.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		statuses: map[string]Status{"": Serving},
		subs:     make(map[string]map[*Subscription]struct{}),
		log:      logger,
	}
}

// Set updates the status of service and notifies its subscribers. It is a
// no-op after Shutdown.
func (r *Registry) Set(service string, st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shutdown {
		return
	}
	r.set(service, st)
}

func (r *Registry) set(service string, st Status) {
	if cur, ok := r.statuses[service]; ok && cur == st {
		return
	}
	r.statuses[service] = st
	r.log.Debug("health status updated", zap.String("service", service), zap.Stringer("status", st))
	for sub := range r.subs[service] {
		sub.push(st)
	}
}

// Get returns the status of service and whether it is known.
func (r *Registry) Get(service string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.statuses[service]
	return st, ok
}

// All returns a snapshot of every known status.
func (r *Registry) All() map[string]Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.statuses)
}

// Shutdown marks every service NOT_SERVING and ignores further Set calls
// until Resume.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdown = true
	for service := range r.statuses {
		r.set(service, NotServing)
	}
	r.log.Info("health registry shut down")
}

// Resume accepts Set calls again and marks the server SERVING.
func (r *Registry) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdown = false
	r.set("", Serving)
	r.log.Info("health registry resumed")
}

// Subscribe returns a subscription delivering the current status of service
// followed by every change. Services never set report SERVICE_UNKNOWN.
func (r *Registry) Subscribe(service string) *Subscription {
	sub := &Subscription{
		ch:      make(chan Status, 1),
		service: service,
		reg:     r,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs[service] == nil {
		r.subs[service] = make(map[*Subscription]struct{})
	}
	r.subs[service][sub] = struct{}{}
	st, ok := r.statuses[service]
	if !ok {
		st = ServiceUnknown
	}
	sub.push(st)
	return sub
}

// Subscription receives status changes of one service.
type Subscription struct {
	ch      chan Status
	service string
	reg     *Registry
	once    sync.Once
}

// C delivers statuses. Slow readers only see the latest one.
func (s *Subscription) C() <-chan Status { return s.ch }

// Close detaches the subscription. C is not closed.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.reg.mu.Lock()
		defer s.reg.mu.Unlock()
		delete(s.reg.subs[s.service], s)
		if len(s.reg.subs[s.service]) == 0 {
			delete(s.reg.subs, s.service)
		}
	})
}

// push replaces a pending status with st. Called with the registry locked.
func (s *Subscription) push(st Status) {
	select {
	case <-s.ch:
	default:
	}
	s.ch <- st
}

// Service returns the grpc.health.v1.Health service backed by r. opts
// configure the service, typically with the server middleware chain.
func Service(r *Registry, opts ...server.Option) *server.Service {
	return server.NewService(ServiceName, opts...).
		Unary("Check", newRequest, r.check,
			server.WithIdempotency(pipeline.NoSideEffects),
			server.WithResponse(func() any { return new(healthpb.HealthCheckResponse) })).
		Unary("List", func() any { return new(healthpb.HealthListRequest) }, r.list,
			server.WithIdempotency(pipeline.NoSideEffects),
			server.WithResponse(func() any { return new(healthpb.HealthListResponse) })).
		ServerStreaming("Watch", newRequest, r.watch,
			server.WithIdempotency(pipeline.NoSideEffects),
			server.WithResponse(func() any { return new(healthpb.HealthCheckResponse) }))
}

func newRequest() any { return new(healthpb.HealthCheckRequest) }

func (r *Registry) check(_ context.Context, req any, _ *pipeline.CallContext) (any, error) {
	service := req.(*healthpb.HealthCheckRequest).GetService()
	st, ok := r.Get(service)
	if !ok {
		return nil, rpcerror.NewServerError(rpcerror.NotFound, "unknown service")
	}
	return &healthpb.HealthCheckResponse{Status: st}, nil
}

func (r *Registry) list(context.Context, any, *pipeline.CallContext) (any, error) {
	all := r.All()
	resp := &healthpb.HealthListResponse{Statuses: make(map[string]*healthpb.HealthCheckResponse, len(all))}
	for service, st := range all {
		resp.Statuses[service] = &healthpb.HealthCheckResponse{Status: st}
	}
	return resp, nil
}

func (r *Registry) watch(ctx context.Context, req any, _ *pipeline.CallContext, send pipeline.Yield) error {
	sub := r.Subscribe(req.(*healthpb.HealthCheckRequest).GetService())
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return rpcerror.Abort(ctx)
		case st := <-sub.C():
			if err := send(&healthpb.HealthCheckResponse{Status: st}); err != nil {
				return err
			}
		}
	}
}
