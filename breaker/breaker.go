// Package breaker provides a thread-safe circuit breaker and a client
// middleware that short-circuits calls while a backend is failing.
//
// A breaker is Closed while calls flow normally and consecutive failures are
// counted. It trips to Open once FailureThreshold is reached and rejects
// calls until OpenTimeout has passed. It then turns HalfOpen and lets probe
// calls through: enough successes close it again, any failure reopens it.
package breaker

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// State is the current state of a breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the circuit breaker parameters. Zero fields take the values
// of [DefaultConfig].
type Config struct {
	// FailureThreshold is the number of consecutive failures in Closed state
	// before the breaker trips.
	FailureThreshold int

	// OpenTimeout is how long the breaker stays Open.
	OpenTimeout time.Duration

	// HalfOpenMaxSuccess is the number of probe successes needed to close.
	HalfOpenMaxSuccess int

	// OnStateChange, when set, is called after every transition. It runs
	// with the breaker locked and must not call back into it.
	OnStateChange func(from, to State)

	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// DefaultConfig trips after 5 failures and probes again after 30s.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:   5,
		OpenTimeout:        30 * time.Second,
		HalfOpenMaxSuccess: 1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = d.OpenTimeout
	}
	if c.HalfOpenMaxSuccess <= 0 {
		c.HalfOpenMaxSuccess = d.HalfOpenMaxSuccess
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return c
}

// Breaker is a circuit breaker. All methods are safe for concurrent use.
type Breaker struct {
	mu  sync.Mutex
	cfg Config

	state     State
	failures  int // consecutive, Closed only
	successes int // HalfOpen only
	probes    int // HalfOpen calls admitted and not yet reported
	openedAt  time.Time
}

// New creates a Breaker.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg.withDefaults()}
}

// State returns the current state. An Open breaker whose timeout elapsed
// reports HalfOpen.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkOpenTimeout()
	return b.state
}

// Allow reports whether a call may proceed. In HalfOpen at most
// HalfOpenMaxSuccess probes are in flight at once. Every admitted call must
// be followed by OnSuccess, OnFailure or OnIgnored.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkOpenTimeout()

	switch b.state {
	case Closed:
		return true
	case HalfOpen:
		if b.successes+b.probes >= b.cfg.HalfOpenMaxSuccess {
			return false
		}
		b.probes++
		return true
	default:
		return false
	}
}

// OnSuccess records a successful call.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.releaseProbe()
		b.successes++
		if b.successes >= b.cfg.HalfOpenMaxSuccess {
			b.transition(Closed)
		}
	}
}

// OnFailure records a failed call.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(Open)
		}
	case HalfOpen:
		b.transition(Open)
	}
}

// OnIgnored releases an admitted call that neither succeeded nor failed,
// such as one canceled by its caller.
func (b *Breaker) OnIgnored() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen {
		b.releaseProbe()
	}
}

func (b *Breaker) releaseProbe() {
	if b.probes > 0 {
		b.probes--
	}
}

// checkOpenTimeout must be called with b.mu held.
func (b *Breaker) checkOpenTimeout() {
	if b.state == Open && b.cfg.Clock.Since(b.openedAt) >= b.cfg.OpenTimeout {
		b.transition(HalfOpen)
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	b.probes = 0
	if to == Open {
		b.openedAt = b.cfg.Clock.Now()
	}
	if b.cfg.OnStateChange != nil && from != to {
		b.cfg.OnStateChange(from, to)
	}
}
