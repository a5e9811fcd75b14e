package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sparka-ai/deepresearch/internal/metrics"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrTooManyRequests    = errors.New("too many requests in half-open state")
)

// Config holds circuit breaker configuration
type Config struct {
	MaxRequests      uint32        // requests admitted while half-open
	Interval         time.Duration // closed-state counter reset period, 0 never resets
	Timeout          time.Duration // open duration before probing again
	FailureThreshold uint32        // consecutive failures that open the breaker
	SuccessThreshold uint32        // consecutive half-open successes that close it
}

// DefaultConfig suits external search APIs.
func DefaultConfig() Config {
	return Config{
		MaxRequests:      1,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
	}
}

// CircuitBreaker stops calling a failing dependency for a cool-down period.
type CircuitBreaker struct {
	name   string
	config Config
	logger *zap.Logger
	now    func() time.Time

	mu                   sync.Mutex
	state                State
	generation           uint64
	halfOpenInFlight     uint32
	consecutiveFailures  uint32
	consecutiveSuccesses uint32
	expiry               time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, config Config, logger *zap.Logger) *CircuitBreaker {
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 1
	}
	cb := &CircuitBreaker{name: name, config: config, logger: logger, now: time.Now}
	cb.resetLocked(cb.now())
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(StateClosed))
	return cb
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current state, advancing open→half-open when the timeout elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	state, _ := cb.currentLocked(cb.now())
	return state
}

// Execute runs fn unless the breaker rejects the call.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	generation, err := cb.Allow()
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			cb.Done(generation, false)
			panic(r)
		}
	}()
	err = fn()
	cb.Done(generation, err == nil)
	return err
}

// Allow admits one call and returns the generation to report back through Done.
func (cb *CircuitBreaker) Allow() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, generation := cb.currentLocked(cb.now())
	switch state {
	case StateOpen:
		return generation, ErrCircuitBreakerOpen
	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.config.MaxRequests {
			return generation, ErrTooManyRequests
		}
		cb.halfOpenInFlight++
	}
	return generation, nil
}

// Done records the outcome of a call admitted by Allow. Outcomes from an
// earlier generation are ignored.
func (cb *CircuitBreaker) Done(generation uint64, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	state, current := cb.currentLocked(now)
	if current != generation {
		return
	}

	if success {
		cb.consecutiveFailures = 0
		if state == StateHalfOpen {
			cb.consecutiveSuccesses++
			if cb.consecutiveSuccesses >= cb.config.SuccessThreshold {
				cb.setStateLocked(StateClosed, now)
			}
		}
		return
	}

	cb.consecutiveSuccesses = 0
	switch state {
	case StateClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.setStateLocked(StateOpen, now)
		}
	case StateHalfOpen:
		cb.setStateLocked(StateOpen, now)
	}
}

func (cb *CircuitBreaker) currentLocked(now time.Time) (State, uint64) {
	switch cb.state {
	case StateClosed:
		if !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.resetLocked(now)
		}
	case StateOpen:
		if cb.expiry.Before(now) {
			cb.setStateLocked(StateHalfOpen, now)
		}
	}
	return cb.state, cb.generation
}

func (cb *CircuitBreaker) setStateLocked(state State, now time.Time) {
	if cb.state == state {
		return
	}
	prev := cb.state
	cb.state = state
	cb.resetLocked(now)

	metrics.CircuitBreakerState.WithLabelValues(cb.name).Set(float64(state))
	cb.logger.Info("Circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", prev.String()),
		zap.String("to", state.String()),
	)
}

func (cb *CircuitBreaker) resetLocked(now time.Time) {
	cb.generation++
	cb.halfOpenInFlight = 0
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	switch cb.state {
	case StateClosed:
		cb.expiry = time.Time{}
		if cb.config.Interval > 0 {
			cb.expiry = now.Add(cb.config.Interval)
		}
	case StateOpen:
		cb.expiry = now.Add(cb.config.Timeout)
	default:
		cb.expiry = time.Time{}
	}
}
