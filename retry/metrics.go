package retry

import (
	"time"

	"github.com/Keksclan/rawrpipe/rpcerror"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the retry middleware.
type Metrics struct {
	attempts  *prometheus.CounterVec
	retries   *prometheus.CounterVec
	exhausted *prometheus.CounterVec
	backoff   *prometheus.HistogramVec
}

// NewMetrics creates the retry collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rawrpipe_retry_attempts_total",
			Help: "Total number of call attempts made by the retry middleware.",
		}, []string{"method", "code"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rawrpipe_retry_retries_total",
			Help: "Total number of retries scheduled after a retryable failure.",
		}, []string{"method", "code"}),
		exhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rawrpipe_retry_failures_total",
			Help: "Total number of retried calls that still failed.",
		}, []string{"method", "code"}),
		backoff: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rawrpipe_retry_backoff_seconds",
			Help:    "Back-off delays slept between attempts.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method"}),
	}
	reg.MustRegister(m.attempts, m.retries, m.exhausted, m.backoff)
	return m
}

func (m *Metrics) attempted(method string, err error) {
	m.attempts.WithLabelValues(method, rpcerror.CodeOf(err).String()).Inc()
}

func (m *Metrics) retried(method string, err error, delay time.Duration) {
	m.retries.WithLabelValues(method, rpcerror.CodeOf(err).String()).Inc()
	m.backoff.WithLabelValues(method).Observe(delay.Seconds())
}

func (m *Metrics) gaveUp(method string, err error) {
	m.exhausted.WithLabelValues(method, rpcerror.CodeOf(err).String()).Inc()
}
