package core

import (
	"fmt"
	"sync"

	"google.golang.org/grpc"

	"github.com/Keksclan/rawrpipe/server"
)

// ServiceRegistry collects services until they are registered on a gRPC
// server. Registration is deferred because methods may be added to a service
// after it was created.
type ServiceRegistry struct {
	mu         sync.Mutex
	services   []*server.Service
	registered bool
}

// Add records svc. Names must be unique and the registry must not have been
// registered yet.
func (r *ServiceRegistry) Add(svc *server.Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registered {
		return fmt.Errorf("service %s added after the server started", svc.Name())
	}
	for _, s := range r.services {
		if s.Name() == svc.Name() {
			return fmt.Errorf("service %s already registered", svc.Name())
		}
	}
	r.services = append(r.services, svc)
	return nil
}

// Names returns the recorded service names in registration order.
func (r *ServiceRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.services))
	for i, s := range r.services {
		names[i] = s.Name()
	}
	return names
}

// RegisterAll registers every recorded service on reg. Only the first call
// has an effect.
func (r *ServiceRegistry) RegisterAll(reg grpc.ServiceRegistrar) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registered {
		return
	}
	r.registered = true
	for _, s := range r.services {
		s.Register(reg)
	}
}
