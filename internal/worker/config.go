// Package worker runs background dispatch work for BloodLift: periodic
// auto-dispatch of idle carriers and carrier lifecycle events from Pub/Sub.
package worker

import (
	"time"
)

// AutoDispatchConfig holds configuration for the auto-dispatch job.
type AutoDispatchConfig struct {
	// Carriers is the fleet to dispatch.
	Carriers []string

	// Workers is the number of dispatch workers. Each carrier is always
	// handled by the same worker.
	// Default: 4
	Workers int

	// Timeout is the timeout for each carrier's dispatch attempt.
	// Default: 30 seconds
	Timeout time.Duration

	// Interval between runs when looping.
	// Default: 1 minute
	Interval time.Duration

	// MaxCandidates is how many queued deliveries are tried per carrier
	// when earlier ones cannot fly.
	// Default: 3
	MaxCandidates int
}

// DefaultAutoDispatchConfig returns the default auto-dispatch configuration.
func DefaultAutoDispatchConfig() AutoDispatchConfig {
	return AutoDispatchConfig{
		Workers:       4,
		Timeout:       30 * time.Second,
		Interval:      time.Minute,
		MaxCandidates: 3,
	}
}

func (c AutoDispatchConfig) withDefaults() AutoDispatchConfig {
	def := DefaultAutoDispatchConfig()
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = def.MaxCandidates
	}
	return c
}
