package transport

import (
	"sync"
	"time"
)

// =============================================================================
// CircuitState
// =============================================================================

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed allows requests to proceed normally.
	CircuitClosed CircuitState = iota

	// CircuitOpen blocks all requests during cooldown.
	CircuitOpen

	// CircuitHalfOpen allows probe requests to test recovery.
	CircuitHalfOpen
)

var circuitStateNames = map[CircuitState]string{
	CircuitClosed:   "closed",
	CircuitOpen:     "open",
	CircuitHalfOpen: "half_open",
}

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	if name, ok := circuitStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// =============================================================================
// CircuitBreakerConfig
// =============================================================================

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// ConsecutiveFailures is the trip threshold.
	ConsecutiveFailures int `yaml:"consecutive_failures"`

	// CooldownDuration is the time spent open before half-opening.
	CooldownDuration time.Duration `yaml:"cooldown"`

	// SuccessThreshold is the number of half-open successes needed to close.
	SuccessThreshold int `yaml:"success_threshold"`
}

// DefaultCircuitBreakerConfig returns the default configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		ConsecutiveFailures: 5,
		CooldownDuration:    30 * time.Second,
		SuccessThreshold:    1,
	}
}

// =============================================================================
// CircuitBreaker
// =============================================================================

// CircuitBreaker implements the circuit breaker pattern around the remote
// sink. After the configured number of consecutive failures it opens and
// fails fast for the cooldown window, then half-opens to probe.
type CircuitBreaker struct {
	mu              sync.RWMutex
	state           CircuitState
	failures        int
	successes       int
	lastStateChange time.Time
	config          CircuitBreakerConfig
}

// NewCircuitBreaker creates a closed circuit breaker. Zero-valued config
// fields fall back to the defaults.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	applyBreakerDefaults(&config)
	return &CircuitBreaker{
		state:           CircuitClosed,
		config:          config,
		lastStateChange: time.Now(),
	}
}

// applyBreakerDefaults fills unset config fields with defaults.
func applyBreakerDefaults(config *CircuitBreakerConfig) {
	defaults := DefaultCircuitBreakerConfig()
	if config.ConsecutiveFailures <= 0 {
		config.ConsecutiveFailures = defaults.ConsecutiveFailures
	}
	if config.CooldownDuration <= 0 {
		config.CooldownDuration = defaults.CooldownDuration
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = defaults.SuccessThreshold
	}
}

// Allow checks if a request should proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		return cb.checkCooldownExpired()
	default:
		return true
	}
}

// checkCooldownExpired transitions open → half-open once the cooldown ends.
func (cb *CircuitBreaker) checkCooldownExpired() bool {
	if time.Since(cb.lastStateChange) < cb.config.CooldownDuration {
		return false
	}
	cb.transitionTo(CircuitHalfOpen)
	return true
}

// RecordResult tracks the outcome of an attempted call.
func (cb *CircuitBreaker) RecordResult(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		cb.recordSuccess()
	} else {
		cb.recordFailure()
	}
}

// recordSuccess handles a successful call.
func (cb *CircuitBreaker) recordSuccess() {
	cb.failures = 0

	if cb.state == CircuitHalfOpen {
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionTo(CircuitClosed)
		}
	}
}

// recordFailure handles a failed call.
func (cb *CircuitBreaker) recordFailure() {
	cb.failures++
	cb.successes = 0

	// A half-open probe failure re-opens immediately.
	if cb.state == CircuitHalfOpen {
		cb.transitionTo(CircuitOpen)
		return
	}

	if cb.state == CircuitClosed && cb.failures >= cb.config.ConsecutiveFailures {
		cb.transitionTo(CircuitOpen)
	}
}

// transitionTo changes the circuit state.
func (cb *CircuitBreaker) transitionTo(state CircuitState) {
	cb.state = state
	cb.lastStateChange = time.Now()
	if state == CircuitClosed {
		cb.failures = 0
	}
	cb.successes = 0
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// ForceReset manually resets the circuit breaker to closed.
func (cb *CircuitBreaker) ForceReset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionTo(CircuitClosed)
}
