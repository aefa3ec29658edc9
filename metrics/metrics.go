// Package metrics provides Prometheus client and server middlewares
// recording started and handled calls, streamed messages and handling time
// per method, shape and status code.
package metrics

import (
	"context"

	"github.com/Keksclan/rawrpipe/pipeline"
	"github.com/Keksclan/rawrpipe/rpcerror"
	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultBuckets are the handling-time histogram buckets in seconds.
var DefaultBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

type config struct {
	namespace string
	buckets   []float64
	clock     clock.Clock
}

// Option configures the collectors.
type Option func(*config)

// WithNamespace replaces the "rawrpipe" metric namespace.
func WithNamespace(ns string) Option {
	return func(c *config) { c.namespace = ns }
}

// WithBuckets replaces DefaultBuckets.
func WithBuckets(b []float64) Option {
	return func(c *config) { c.buckets = b }
}

// WithClock replaces the wall clock used to time calls.
func WithClock(c clock.Clock) Option {
	return func(cfg *config) { cfg.clock = c }
}

// side holds the collectors of one end of a call.
type side struct {
	started  *prometheus.CounterVec
	handled  *prometheus.CounterVec
	sent     *prometheus.CounterVec
	received *prometheus.CounterVec
	seconds  *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec
}

// Metrics holds the collectors of both middlewares.
type Metrics struct {
	clock  clock.Clock
	client side
	server side
}

// New creates the collectors and registers them on reg. A nil reg registers
// on prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, opts ...Option) *Metrics {
	cfg := config{namespace: "rawrpipe", buckets: DefaultBuckets, clock: clock.New()}
	for _, o := range opts {
		o(&cfg)
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		clock:  cfg.clock,
		client: newSide(factory, cfg, "client"),
		server: newSide(factory, cfg, "server"),
	}
}

func newSide(f promauto.Factory, cfg config, subsystem string) side {
	labels := []string{"method", "shape"}
	withCode := []string{"method", "shape", "code"}
	return side{
		started: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Subsystem: subsystem,
			Name:      "started_total",
			Help:      "Total number of calls started.",
		}, labels),
		handled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Subsystem: subsystem,
			Name:      "handled_total",
			Help:      "Total number of calls completed, by status code.",
		}, withCode),
		sent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Subsystem: subsystem,
			Name:      "msg_sent_total",
			Help:      "Total number of stream messages sent.",
		}, labels),
		received: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Subsystem: subsystem,
			Name:      "msg_received_total",
			Help:      "Total number of stream messages received.",
		}, labels),
		seconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.namespace,
			Subsystem: subsystem,
			Name:      "handling_seconds",
			Help:      "Time from the start of a call until it settles.",
			Buckets:   cfg.buckets,
		}, labels),
		inFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.namespace,
			Subsystem: subsystem,
			Name:      "in_flight",
			Help:      "Number of calls currently running.",
		}, []string{"method"}),
	}
}

// ClientMiddleware returns the client middleware. Request stream items count
// as sent, response stream items as received.
func (m *Metrics) ClientMiddleware() pipeline.ClientMiddleware {
	return func(ctx context.Context, call pipeline.ClientCall, opts pipeline.CallOptions) pipeline.Producer {
		return func(yield pipeline.Yield) (any, error) {
			req, done := m.client.begin(m.clock, call.Method, call.Request, m.client.sent)
			final, err := call.Next(ctx, req, opts)(m.client.counting(call.Method, m.client.received, yield))
			done(err)
			return final, err
		}
	}
}

// ServerMiddleware returns the server middleware. Request stream items count
// as received, response stream items as sent.
func (m *Metrics) ServerMiddleware() pipeline.ServerMiddleware {
	return func(ctx context.Context, call pipeline.ServerCall, cc *pipeline.CallContext) pipeline.Producer {
		return func(yield pipeline.Yield) (any, error) {
			req, done := m.server.begin(m.clock, call.Method, call.Request, m.server.received)
			final, err := call.Next(ctx, req, cc)(m.server.counting(call.Method, m.server.sent, yield))
			done(err)
			return final, err
		}
	}
}

// begin records the start of a call and wraps a request stream so its
// items are counted on reqCounter.
func (s *side) begin(clk clock.Clock, desc *pipeline.MethodDescriptor, req pipeline.Request, reqCounter *prometheus.CounterVec) (pipeline.Request, func(error)) {
	shape := desc.Shape().String()
	s.started.WithLabelValues(desc.Path, shape).Inc()
	s.inFlight.WithLabelValues(desc.Path).Inc()
	start := clk.Now()

	if req.Stream != nil {
		src := req.Stream
		c := reqCounter.WithLabelValues(desc.Path, shape)
		req.Stream = func(yield func(any, error) bool) {
			for item, err := range src {
				if err == nil {
					c.Inc()
				}
				if !yield(item, err) {
					return
				}
			}
		}
	}

	return req, func(err error) {
		s.inFlight.WithLabelValues(desc.Path).Dec()
		s.handled.WithLabelValues(desc.Path, shape, rpcerror.CodeOf(err).String()).Inc()
		s.seconds.WithLabelValues(desc.Path, shape).Observe(clk.Since(start).Seconds())
	}
}

func (s *side) counting(desc *pipeline.MethodDescriptor, counter *prometheus.CounterVec, yield pipeline.Yield) pipeline.Yield {
	shape := desc.Shape().String()
	return func(item any) error {
		counter.WithLabelValues(desc.Path, shape).Inc()
		return yield(item)
	}
}
