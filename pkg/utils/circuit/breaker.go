// Package circuit guards the price and yield providers. After a run of
// upstream failures the breaker opens and callers fail fast with a
// DataUnavailable error until a probe succeeds.
package circuit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rzzdr/euro-option-pricer/pkg/utils/errors"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/logger"
)

// State of a breaker
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config for a breaker. Zero fields take DefaultConfig values.
type Config struct {
	MaxFailures   int              // consecutive failures that open the breaker
	Timeout       time.Duration    // time spent open before probing
	MaxRequests   int              // probes let through while half-open; as many successes close it
	IsSuccessful  func(error) bool // decides whether an outcome counts against the provider
	OnStateChange func(name string, from, to State)
}

// DefaultConfig treats caller mistakes and missing data as healthy responses;
// only other errors count towards opening the breaker
func DefaultConfig() Config {
	return Config{
		MaxFailures: 5,
		Timeout:     60 * time.Second,
		MaxRequests: 1,
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.IsType(err, errors.ErrorTypeInvalidInput) ||
				errors.IsType(err, errors.ErrorTypeDataUnavailable)
		},
	}
}

// Counts are lifetime totals of a breaker
type Counts struct {
	Requests  int // calls that reached the provider
	Successes int
	Failures  int
	Rejected  int // calls refused while open or probing
}

// CircuitBreaker wraps one provider
type CircuitBreaker struct {
	name   string
	config Config
	now    func() time.Time

	mutex          sync.Mutex
	state          State
	openedAt       time.Time
	consecutive    int // failures in a row while closed
	probes         int // probes admitted in the current half-open period
	probeSuccesses int
	counts         Counts
	lastError      string

	log *logger.Logger
}

// Creates a new circuit breaker in the closed state
func NewCircuitBreaker(name string, config Config) *CircuitBreaker {
	def := DefaultConfig()
	if config.MaxFailures <= 0 {
		config.MaxFailures = def.MaxFailures
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = def.MaxRequests
	}
	if config.IsSuccessful == nil {
		config.IsSuccessful = def.IsSuccessful
	}

	return &CircuitBreaker{
		name:   name,
		config: config,
		now:    time.Now,
		state:  StateClosed,
		log:    logger.GetLogger("circuit." + name),
	}
}

// Do runs fn through cb. While the breaker is open fn is not called and the
// error wraps ErrCircuitBreakerOpen.
func Do[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.admit(); err != nil {
		return zero, err
	}

	completed := false
	defer func() {
		if !completed {
			cb.record(fmt.Errorf("panic in %s provider", cb.name), false)
		}
	}()

	result, err := fn(ctx)
	completed = true
	cb.record(err, cb.config.IsSuccessful(err))
	return result, err
}

// admit decides whether a call may reach the provider
func (cb *CircuitBreaker) admit() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state == StateOpen {
		remaining := cb.config.Timeout - cb.now().Sub(cb.openedAt)
		if remaining > 0 {
			cb.counts.Rejected++
			return errors.Wrapf(ErrCircuitBreakerOpen, "%s provider unavailable, retry in %s",
				cb.name, remaining.Round(time.Second))
		}
		cb.transition(StateHalfOpen)
	}

	if cb.state == StateHalfOpen {
		if cb.probes >= cb.config.MaxRequests {
			cb.counts.Rejected++
			return errors.Wrapf(ErrTooManyRequests, "%s provider", cb.name)
		}
		cb.probes++
	}

	cb.counts.Requests++
	return nil
}

// record applies the outcome of an admitted call
func (cb *CircuitBreaker) record(err error, success bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if success {
		cb.counts.Successes++
		switch cb.state {
		case StateClosed:
			cb.consecutive = 0
		case StateHalfOpen:
			cb.probeSuccesses++
			if cb.probeSuccesses >= cb.config.MaxRequests {
				cb.transition(StateClosed)
			}
		}
		return
	}

	cb.counts.Failures++
	if err != nil {
		cb.lastError = err.Error()
	}
	switch cb.state {
	case StateClosed:
		cb.consecutive++
		if cb.consecutive >= cb.config.MaxFailures {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

// transition moves to state to and resets the per-state counters. Caller
// holds the mutex.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.consecutive = 0
	cb.probes = 0
	cb.probeSuccesses = 0
	if to == StateOpen {
		cb.openedAt = cb.now()
		cb.log.Warnf("Breaker %s opened after failure: %s", cb.name, cb.lastError)
	} else {
		cb.log.Infof("Breaker %s moved from %s to %s", cb.name, from, to)
	}
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, from, to)
	}
}

// State returns the current state. An open breaker whose timeout has passed
// still reports open until the next call probes it.
func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Counts returns lifetime totals
func (cb *CircuitBreaker) Counts() Counts {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.counts
}

// Reset closes the breaker
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.transition(StateClosed)
	cb.consecutive = 0
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Stats is a snapshot of one breaker
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	stats := BreakerStats{
		Name:      cb.name,
		State:     cb.state.String(),
		Requests:  cb.counts.Requests,
		Successes: cb.counts.Successes,
		Failures:  cb.counts.Failures,
		Rejected:  cb.counts.Rejected,
		LastError: cb.lastError,
	}
	if cb.state == StateOpen {
		until := cb.openedAt.Add(cb.config.Timeout)
		stats.OpenUntil = &until
	}
	return stats
}

var (
	ErrCircuitBreakerOpen = errors.DataUnavailable("circuit breaker is open")
	ErrTooManyRequests    = errors.DataUnavailable("circuit breaker is probing, too many requests")
)

// BreakerStats is the JSON view of a breaker on /health
type BreakerStats struct {
	Name      string     `json:"name"`
	State     string     `json:"state"`
	Requests  int        `json:"requests"`
	Successes int        `json:"successes"`
	Failures  int        `json:"failures"`
	Rejected  int        `json:"rejected"`
	LastError string     `json:"last_error,omitempty"`
	OpenUntil *time.Time `json:"open_until,omitempty"`
}

// Manager keeps one breaker per provider name
type Manager struct {
	breakers map[string]*CircuitBreaker
	mutex    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{breakers: make(map[string]*CircuitBreaker)}
}

// GetBreaker returns the breaker for name, creating it with config on first use
func (m *Manager) GetBreaker(name string, config Config) *CircuitBreaker {
	m.mutex.RLock()
	breaker, exists := m.breakers[name]
	m.mutex.RUnlock()
	if exists {
		return breaker
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if breaker, exists := m.breakers[name]; exists {
		return breaker
	}
	breaker = NewCircuitBreaker(name, config)
	m.breakers[name] = breaker
	return breaker
}

// Names returns the registered breaker names in order
func (m *Manager) Names() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	names := make([]string, 0, len(m.breakers))
	for name := range m.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) GetBreakerStats() map[string]BreakerStats {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	stats := make(map[string]BreakerStats, len(m.breakers))
	for name, breaker := range m.breakers {
		stats[name] = breaker.Stats()
	}
	return stats
}

func (m *Manager) ResetBreaker(name string) error {
	m.mutex.RLock()
	breaker, exists := m.breakers[name]
	m.mutex.RUnlock()

	if !exists {
		return errors.DataUnavailablef("circuit breaker %q not found", name)
	}
	breaker.Reset()
	return nil
}
