package pdfproxy

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is the state of the upstream circuit breaker
type BreakerState int

const (
	// StateClosed lets requests through
	StateClosed BreakerState = iota
	// StateOpen fails fast without contacting the document server
	StateOpen
	// StateHalfOpen lets a single probe through
	StateHalfOpen
)

// String returns the string representation of BreakerState
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// ErrCircuitOpen is returned while the document server is considered down.
var ErrCircuitOpen = errors.New("document server unavailable, retry later")

// BreakerConfig configures the upstream circuit breaker
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit; 0 disables it.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before probing.
	RecoveryTimeout time.Duration
}

// DefaultBreakerConfig returns the breaker settings used by the server
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
	}
}

// breaker counts consecutive upstream failures. Only transport errors and
// 5xx answers count; a missing document is not an outage.
type breaker struct {
	config BreakerConfig

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
	now      func() time.Time
	onChange func(from, to BreakerState)
}

func newBreaker(config BreakerConfig) *breaker {
	return &breaker{config: config, now: time.Now}
}

// allow reports whether a request may go upstream.
func (b *breaker) allow() bool {
	if b.config.FailureThreshold <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.config.RecoveryTimeout {
			return false
		}
		b.setState(StateHalfOpen)
		b.probing = true
		return true
	default:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

func (b *breaker) record(success bool) {
	if b.config.FailureThreshold <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if success {
		b.failures = 0
		if b.state != StateClosed {
			b.setState(StateClosed)
		}
		return
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.config.FailureThreshold {
		b.openedAt = b.now()
		if b.state != StateOpen {
			b.setState(StateOpen)
		}
	}
}

// release gives back a half-open probe that ended without a verdict, such
// as a request abandoned by its client. The next request probes again.
func (b *breaker) release() {
	if b.config.FailureThreshold <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probing = false
	}
}

// setState must be called with mu held.
func (b *breaker) setState(to BreakerState) {
	from := b.state
	b.state = to
	if b.onChange != nil {
		b.onChange(from, to)
	}
}

func (b *breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
