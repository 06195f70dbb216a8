// Package circuitbreaker stops calling an optional dependency after it keeps
// failing, and lets a single trial through once a cooldown has passed.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

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

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var ErrOpen = errors.New("circuit breaker is open")

const (
	defaultMaxFailures = 3
	defaultCooldown    = 30 * time.Second
)

type Config struct {
	Name        string
	MaxFailures int
	Cooldown    time.Duration
}

// Metrics is a point-in-time view of one breaker.
type Metrics struct {
	Name           string    `json:"name"`
	State          State     `json:"state"`
	Failures       int       `json:"failures"`
	TotalRequests  int64     `json:"total_requests"`
	TotalFailures  int64     `json:"total_failures"`
	TotalRejected  int64     `json:"total_rejected"`
	LastFailure    time.Time `json:"last_failure,omitempty"`
	LastTransition time.Time `json:"last_transition,omitempty"`
}

type CircuitBreaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mutex        sync.Mutex
	state        State
	trialRunning bool
	metrics      Metrics

	logger *logrus.Logger
}

func New(config Config, logger *logrus.Logger) *CircuitBreaker {
	if config.Name == "" {
		config.Name = "unnamed"
	}
	if config.MaxFailures <= 0 {
		config.MaxFailures = defaultMaxFailures
	}
	if config.Cooldown <= 0 {
		config.Cooldown = defaultCooldown
	}

	return &CircuitBreaker{
		name:        config.Name,
		maxFailures: config.MaxFailures,
		cooldown:    config.Cooldown,
		now:         time.Now,
		state:       StateClosed,
		metrics:     Metrics{Name: config.Name},
		logger:      logger,
	}
}

// Execute runs fn unless the breaker is open. A nil breaker always runs fn.
// While half-open only the trial's outcome moves the breaker.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if cb == nil {
		return fn()
	}
	trial, err := cb.allow()
	if err != nil {
		return err
	}

	err = fn()

	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	if trial {
		cb.trialRunning = false
	}
	if err != nil {
		cb.onFailure(trial)
		return err
	}
	cb.onSuccess(trial)
	return nil
}

// allow admits a call and reports whether it is the half-open trial.
func (cb *CircuitBreaker) allow() (bool, error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.metrics.LastFailure) >= cb.cooldown {
		cb.setState(StateHalfOpen)
	}

	trial := false
	switch {
	case cb.state == StateOpen, cb.state == StateHalfOpen && cb.trialRunning:
		cb.metrics.TotalRejected++
		return false, fmt.Errorf("%s: %w", cb.name, ErrOpen)
	case cb.state == StateHalfOpen:
		cb.trialRunning = true
		trial = true
	}
	cb.metrics.TotalRequests++
	return trial, nil
}

func (cb *CircuitBreaker) onSuccess(trial bool) {
	cb.metrics.Failures = 0
	if trial && cb.state == StateHalfOpen {
		cb.setState(StateClosed)
	}
}

func (cb *CircuitBreaker) onFailure(trial bool) {
	cb.metrics.Failures++
	cb.metrics.TotalFailures++
	cb.metrics.LastFailure = cb.now()

	switch {
	case trial && cb.state == StateHalfOpen:
		cb.setState(StateOpen)
	case cb.state == StateClosed && cb.metrics.Failures >= cb.maxFailures:
		cb.setState(StateOpen)
	}
}

func (cb *CircuitBreaker) setState(newState State) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState
	cb.metrics.State = newState
	cb.metrics.LastTransition = cb.now()

	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"from_state":      oldState.String(),
		"to_state":        newState.String(),
	}).Info("Circuit breaker state changed")
}

func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.metrics
}
