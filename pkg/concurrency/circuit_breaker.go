package concurrency

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/osakka/agentorch/pkg/logging"
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
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// BreakerConfig configures a circuit breaker. MaxFailures <= 0 disables
// breaking entirely.
type BreakerConfig struct {
	MaxFailures  int
	ResetTimeout time.Duration
	// HalfOpenMax is both the number of trial calls admitted after the
	// reset timeout and the successes needed to close again.
	HalfOpenMax int
}

// Enabled reports whether the configuration trips at all.
func (c BreakerConfig) Enabled() bool { return c.MaxFailures > 0 }

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = 1
	}
	return c
}

// CircuitBreaker counts consecutive failures of one callee. Callers ask
// Allow before the call and report the outcome with Record.
type CircuitBreaker struct {
	name   string
	config BreakerConfig
	now    func() time.Time

	mu              sync.Mutex
	state           State
	failures        int
	successes       int
	halfOpenCount   int
	lastFailureTime time.Time
	lastStateChange time.Time
	generation      uint64

	logger logging.Logger
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(name string, config BreakerConfig, logger logging.Logger) *CircuitBreaker {
	return newCircuitBreaker(name, config.withDefaults(), time.Now, logger)
}

func newCircuitBreaker(name string, config BreakerConfig, now func() time.Time, logger logging.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		name:            name,
		config:          config,
		now:             now,
		state:           StateClosed,
		lastStateChange: now(),
		logger:          logger.WithComponent("circuit_breaker." + name),
	}
}

// Allow reports whether a call may proceed. An open breaker turns
// half-open once the reset timeout has passed since the last failure.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		since := cb.now().Sub(cb.lastFailureTime)
		if since < cb.config.ResetTimeout {
			cb.logger.Debug("circuit_breaker_rejected",
				"state", "open",
				"time_until_reset", cb.config.ResetTimeout-since)
			return ErrCircuitOpen
		}
		cb.transitionTo(StateHalfOpen)
		cb.halfOpenCount = 1
		return nil

	case StateHalfOpen:
		if cb.halfOpenCount >= cb.config.HalfOpenMax {
			cb.logger.Debug("circuit_breaker_rejected",
				"state", "half-open",
				"reason", "max_requests_reached",
				"count", cb.halfOpenCount)
			return ErrTooManyRequests
		}
		cb.halfOpenCount++
	}
	return nil
}

// Record reports the outcome of an allowed call
func (cb *CircuitBreaker) Record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		cb.recordSuccess()
	} else {
		cb.recordFailure()
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.failures++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.transitionTo(StateOpen)
			cb.logger.Error("circuit_breaker_opened",
				"failures", cb.failures,
				"threshold", cb.config.MaxFailures,
				"reset_timeout", cb.config.ResetTimeout,
				"suggested_actions", []string{
					"Check the capability's upstream data source",
					"Review error logs for root cause",
					"Consider increasing the task timeout",
				})
		}

	case StateHalfOpen:
		// one failed trial reopens
		cb.transitionTo(StateOpen)
		cb.logger.Warn("circuit_breaker_reopened",
			"reason", "failure_in_half_open_state",
			"reset_timeout", cb.config.ResetTimeout)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	switch cb.state {
	case StateClosed:
		cb.failures = 0

	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.HalfOpenMax {
			cb.transitionTo(StateClosed)
			cb.logger.Info("circuit_breaker_closed",
				"successes", cb.successes,
				"recovery_time", cb.now().Sub(cb.lastFailureTime))
		}
	}
}

func (cb *CircuitBreaker) transitionTo(newState State) {
	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = cb.now()
	cb.generation++

	switch newState {
	case StateClosed:
		cb.failures = 0
		cb.successes = 0
		cb.halfOpenCount = 0
	case StateHalfOpen:
		cb.successes = 0
		cb.halfOpenCount = 0
	}

	cb.logger.Info("circuit_breaker_state_change",
		"from", oldState.String(),
		"to", newState.String(),
		"generation", cb.generation)
}

// BreakerStatus is a point-in-time view of one breaker
type BreakerStatus struct {
	State           string        `json:"state"`
	Failures        int           `json:"failures"`
	Successes       int           `json:"successes"`
	LastFailureTime time.Time     `json:"last_failure_time,omitempty"`
	LastStateChange time.Time     `json:"last_state_change"`
	Generation      uint64        `json:"generation"`
	TimeUntilReset  time.Duration `json:"time_until_reset_ns,omitempty"`
}

// Status returns the current state and counters
func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	status := BreakerStatus{
		State:           cb.state.String(),
		Failures:        cb.failures,
		Successes:       cb.successes,
		LastFailureTime: cb.lastFailureTime,
		LastStateChange: cb.lastStateChange,
		Generation:      cb.generation,
	}
	if cb.state == StateOpen {
		status.TimeUntilReset = cb.config.ResetTimeout - cb.now().Sub(cb.lastFailureTime)
		if status.TimeUntilReset < 0 {
			status.TimeUntilReset = 0
		}
	}
	return status
}

// Reset closes the breaker
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.logger.Info("circuit_breaker_manual_reset",
		"previous_state", cb.state.String())
	cb.transitionTo(StateClosed)
}

// BreakerGroup holds one lazily created breaker per name, all sharing a
// configuration.
type BreakerGroup struct {
	config BreakerConfig
	now    func() time.Time
	logger logging.Logger

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerGroup creates an empty group
func NewBreakerGroup(config BreakerConfig, logger logging.Logger) *BreakerGroup {
	return &BreakerGroup{
		config:   config.withDefaults(),
		now:      time.Now,
		logger:   logger,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for name, creating it on first use
func (g *BreakerGroup) Get(name string) *CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	cb, ok := g.breakers[name]
	if !ok {
		cb = newCircuitBreaker(name, g.config, g.now, g.logger)
		g.breakers[name] = cb
	}
	return cb
}

// Names returns the names with a breaker, sorted
func (g *BreakerGroup) Names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	names := make([]string, 0, len(g.breakers))
	for name := range g.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status returns every breaker's status keyed by name
func (g *BreakerGroup) Status() map[string]BreakerStatus {
	out := make(map[string]BreakerStatus)
	for _, name := range g.Names() {
		out[name] = g.Get(name).Status()
	}
	return out
}

// Open returns the names whose breaker is currently open, sorted
func (g *BreakerGroup) Open() []string {
	var open []string
	for _, name := range g.Names() {
		if g.Get(name).Status().State == StateOpen.String() {
			open = append(open, name)
		}
	}
	return open
}

// Reset closes every breaker
func (g *BreakerGroup) Reset() {
	for _, name := range g.Names() {
		g.Get(name).Reset()
	}
}
