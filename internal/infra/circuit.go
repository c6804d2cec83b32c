package infra

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Circuit breaker states
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half-open"
)

// ErrCircuitOpen reports a short-circuited call. Use errors.As to recover
// the RetryAfter hint.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// OpenError is returned when a call is short-circuited while the breaker is
// open or the half-open probe quota is exhausted.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open, retry after %s", e.Name, e.RetryAfter.Round(time.Millisecond))
}

func (e *OpenError) Unwrap() error { return ErrCircuitOpen }

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies this circuit breaker, typically a tool name.
	Name string

	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int

	// SuccessThreshold is the number of successes in half-open to close.
	SuccessThreshold int

	// OpenTimeout is how long the circuit stays open before trying half-open.
	OpenTimeout time.Duration

	// HalfOpenMaxCalls bounds concurrent probe calls while half-open.
	// Excess callers are short-circuited as if the breaker were open.
	HalfOpenMaxCalls int

	// OnStateChange is called when the circuit state changes.
	OnStateChange func(from, to string)
}

// CircuitBreaker is a per-tool failure-rate state machine. All mutation goes
// through the single mutex; callers pair Allow with Record.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu              sync.Mutex
	state           string
	failures        int
	successes       int
	inFlightProbes  int
	lastFailure     time.Time
	lastStateChange time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 20 * time.Second
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 2
	}

	return &CircuitBreaker{
		config:          config,
		state:           CircuitClosed,
		lastStateChange: time.Now(),
	}
}

// Allow reports whether a call may proceed. A nil error means the caller
// must later invoke Record with the call's outcome. While half-open, at
// most HalfOpenMaxCalls probes run concurrently.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil

	case CircuitOpen:
		elapsed := time.Since(cb.lastStateChange)
		if elapsed < cb.config.OpenTimeout {
			return &OpenError{Name: cb.config.Name, RetryAfter: cb.config.OpenTimeout - elapsed}
		}
		cb.transitionTo(CircuitHalfOpen)
		cb.inFlightProbes = 1
		return nil

	case CircuitHalfOpen:
		if cb.inFlightProbes >= cb.config.HalfOpenMaxCalls {
			return &OpenError{Name: cb.config.Name, RetryAfter: cb.config.OpenTimeout}
		}
		cb.inFlightProbes++
		return nil

	default:
		return nil
	}
}

// Record feeds the outcome of an allowed call back into the breaker.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen && cb.inFlightProbes > 0 {
		cb.inFlightProbes--
	}

	if err != nil {
		cb.recordFailure()
	} else {
		cb.recordSuccess()
	}
}

// Release frees an allowed slot without recording an outcome, for calls
// that bailed out before exercising the protected resource.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitHalfOpen && cb.inFlightProbes > 0 {
		cb.inFlightProbes--
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.failures++
	cb.successes = 0
	cb.lastFailure = time.Now()

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen)
		}

	case CircuitHalfOpen:
		cb.transitionTo(CircuitOpen)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	switch cb.state {
	case CircuitClosed:
		cb.failures = 0

	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionTo(CircuitClosed)
		}
	}
}

func (cb *CircuitBreaker) transitionTo(newState string) {
	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = time.Now()
	cb.failures = 0
	cb.successes = 0
	if newState != CircuitHalfOpen {
		cb.inFlightProbes = 0
	}

	if cb.config.OnStateChange != nil {
		// Call asynchronously to avoid blocking under the lock
		go cb.config.OnStateChange(oldState, newState)
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns current circuit breaker statistics.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStats{
		Name:            cb.config.Name,
		State:           cb.state,
		Failures:        cb.failures,
		Successes:       cb.successes,
		LastFailure:     cb.lastFailure,
		LastStateChange: cb.lastStateChange,
	}
}

// Reset manually resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = CircuitClosed
	cb.failures = 0
	cb.successes = 0
	cb.inFlightProbes = 0
	cb.lastStateChange = time.Now()
}

// CircuitBreakerStats contains statistics about a circuit breaker.
type CircuitBreakerStats struct {
	Name            string
	State           string
	Failures        int
	Successes       int
	LastFailure     time.Time
	LastStateChange time.Time
}

// CircuitBreakerRegistry manages per-tool circuit breakers sharing defaults.
type CircuitBreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	defaults CircuitBreakerConfig
}

// NewCircuitBreakerRegistry creates a registry with default config.
func NewCircuitBreakerRegistry(defaults CircuitBreakerConfig) *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults,
	}
}

// Get returns or creates a circuit breaker with the given name.
func (r *CircuitBreakerRegistry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()

	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	config := r.defaults
	config.Name = name
	cb = NewCircuitBreaker(config)
	r.breakers[name] = cb
	return cb
}

// Stats returns statistics for all circuit breakers.
func (r *CircuitBreakerRegistry) Stats() []CircuitBreakerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]CircuitBreakerStats, 0, len(r.breakers))
	for _, cb := range r.breakers {
		stats = append(stats, cb.Stats())
	}
	return stats
}

// OpenCircuits returns names of all open circuit breakers.
func (r *CircuitBreakerRegistry) OpenCircuits() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var open []string
	for name, cb := range r.breakers {
		if cb.State() == CircuitOpen {
			open = append(open, name)
		}
	}
	return open
}

// ResetAll resets all circuit breakers to closed state.
func (r *CircuitBreakerRegistry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}
}
