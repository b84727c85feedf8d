// Package resilience provides fault tolerance for external service calls.
package resilience

import (
	"errors"
	"time"

	"pattern_worker/pkg/logger"

	"github.com/sony/gobreaker"
)

// CircuitBreakerConfig holds configuration for a circuit breaker.
type CircuitBreakerConfig struct {
	Name string
	// MaxRequests is how many probes pass while half-open.
	MaxRequests uint32
	// Interval resets the closed-state counters.
	Interval time.Duration
	// Timeout is how long the breaker stays open.
	Timeout time.Duration
	// ConsecutiveFailures trips the breaker when exceeded.
	ConsecutiveFailures uint32
	// FailureRatio trips the breaker once MinRequests have been seen.
	FailureRatio float64
	MinRequests  uint32
}

func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:                name,
		MaxRequests:         3,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
		FailureRatio:        0.6,
		MinRequests:         10,
	}
}

// CircuitBreaker guards calls to one upstream.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures > cfg.ConsecutiveFailures {
				return true
			}
			if cfg.MinRequests == 0 || counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("[CircuitBreaker] state changed")
		},
	}
	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn unless the breaker is open.
func (c *CircuitBreaker) Execute(fn func() error) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// State reports "closed", "half-open" or "open".
func (c *CircuitBreaker) State() string {
	return c.cb.State().String()
}

func (c *CircuitBreaker) Name() string {
	return c.cb.Name()
}

// IsOpen reports whether err was returned because the breaker rejected the call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
