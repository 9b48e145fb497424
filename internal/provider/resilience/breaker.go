// Package resilience wraps outbound provider calls with circuit breakers,
// per-attempt timeouts and exponential retry, and tracks provider health.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// Breaker defaults.
const (
	DefaultOpenTimeout         = 30 * time.Second
	DefaultMinRequests         = 5
	DefaultFailureRatio        = 0.5
	DefaultConsecutiveFailures = 3
)

// BreakerConfig configures a provider circuit breaker. Zero values select
// the defaults.
type BreakerConfig struct {
	Name string

	// HalfOpenProbes is the number of calls let through while half-open (default: 1).
	HalfOpenProbes uint32

	// Interval clears the closed-state counts periodically (default: never).
	Interval time.Duration

	// OpenTimeout is how long the breaker stays open (default: 30s).
	OpenTimeout time.Duration

	// The breaker trips once MinRequests calls have been made and
	// FailureRatio of them failed, or after ConsecutiveFailures in a row.
	MinRequests         uint32
	FailureRatio        float64
	ConsecutiveFailures uint32

	// ReadyToTrip replaces the trip rule above when set.
	ReadyToTrip func(counts gobreaker.Counts) bool

	// Logger receives state transitions.
	Logger zerolog.Logger
}

// DefaultBreakerConfig returns the default breaker for a provider.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{Name: name, Logger: zerolog.Nop()}.withDefaults()
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.HalfOpenProbes == 0 {
		c.HalfOpenProbes = 1
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = DefaultOpenTimeout
	}
	if c.MinRequests == 0 {
		c.MinRequests = DefaultMinRequests
	}
	if c.FailureRatio <= 0 {
		c.FailureRatio = DefaultFailureRatio
	}
	if c.ConsecutiveFailures == 0 {
		c.ConsecutiveFailures = DefaultConsecutiveFailures
	}
	return c
}

// tripRule reports whether the counts should open the breaker.
func (c BreakerConfig) tripRule() func(gobreaker.Counts) bool {
	if c.ReadyToTrip != nil {
		return c.ReadyToTrip
	}
	return func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= c.ConsecutiveFailures {
			return true
		}
		if counts.Requests < c.MinRequests {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) >= c.FailureRatio
	}
}

// countsAsSuccess keeps caller cancellations from counting against the
// provider. A dispatch that gives up on its fetch deadline says nothing
// about the provider's health.
func countsAsSuccess(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

// NewBreaker creates a circuit breaker for calls returning T.
func NewBreaker[T any](cfg BreakerConfig) *gobreaker.CircuitBreaker[T] {
	cfg = cfg.withDefaults()
	log := cfg.Logger

	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:         cfg.Name,
		MaxRequests:  cfg.HalfOpenProbes,
		Interval:     cfg.Interval,
		Timeout:      cfg.OpenTimeout,
		ReadyToTrip:  cfg.tripRule(),
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			level := zerolog.InfoLevel
			if to == gobreaker.StateOpen {
				level = zerolog.WarnLevel
			}
			log.WithLevel(level).
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
}
