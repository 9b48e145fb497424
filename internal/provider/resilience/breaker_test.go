package resilience_test

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"

	"github.com/bloodlift/bloodlift/internal/provider/resilience"
)

var errUpstream = errors.New("upstream down")

func call(cb *gobreaker.CircuitBreaker[int], err error) {
	_, _ = cb.Execute(func() (int, error) { return 0, err })
}

func TestBreaker_TripsOnConsecutiveFailures(t *testing.T) {
	cb := resilience.NewBreaker[int](resilience.BreakerConfig{Name: "owm"})

	call(cb, errUpstream)
	call(cb, errUpstream)
	assert.Equal(t, gobreaker.StateClosed, cb.State())

	call(cb, errUpstream)
	assert.Equal(t, gobreaker.StateOpen, cb.State())
}

func TestBreaker_TripsOnFailureRatio(t *testing.T) {
	cb := resilience.NewBreaker[int](resilience.BreakerConfig{
		Name:                "owm",
		ConsecutiveFailures: 100,
	})

	for _, err := range []error{errUpstream, nil, errUpstream, nil} {
		call(cb, err)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State(), "below minimum request count")

	call(cb, errUpstream)
	assert.Equal(t, gobreaker.StateOpen, cb.State(), "3 of 5 failed")
}

func TestBreaker_CallerCancellationNotCounted(t *testing.T) {
	cb := resilience.NewBreaker[int](resilience.BreakerConfig{Name: "owm"})

	for range 5 {
		call(cb, context.Canceled)
	}

	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.Equal(t, uint32(0), cb.Counts().TotalFailures)
}

func TestBreaker_CustomTripRule(t *testing.T) {
	cb := resilience.NewBreaker[int](resilience.BreakerConfig{
		Name:        "owm",
		ReadyToTrip: func(gobreaker.Counts) bool { return true },
	})

	call(cb, errUpstream)
	assert.Equal(t, gobreaker.StateOpen, cb.State())
}

func TestDefaultBreakerConfig(t *testing.T) {
	cfg := resilience.DefaultBreakerConfig("owm")

	assert.Equal(t, "owm", cfg.Name)
	assert.Equal(t, uint32(1), cfg.HalfOpenProbes)
	assert.Equal(t, resilience.DefaultOpenTimeout, cfg.OpenTimeout)
	assert.Equal(t, uint32(resilience.DefaultMinRequests), cfg.MinRequests)
	assert.InDelta(t, resilience.DefaultFailureRatio, cfg.FailureRatio, 1e-9)
	assert.Equal(t, uint32(resilience.DefaultConsecutiveFailures), cfg.ConsecutiveFailures)
}
