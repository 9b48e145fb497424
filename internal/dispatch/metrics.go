package dispatch

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bloodlift/bloodlift/internal/safety"
)

// Outcome labels for assignment attempts.
const (
	OutcomeAssigned    = "assigned"
	OutcomeExisting    = "existing"
	OutcomeBusy        = "carrier_busy"
	OutcomeReserved    = "reserved"
	OutcomeUnsafe      = "unsafe"
	OutcomeNoDest      = "missing_destination"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

// Metrics records dispatch activity. A nil *Metrics records nothing.
type Metrics struct {
	assignments *prometheus.CounterVec
	tiers       *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewMetrics registers dispatch collectors on reg, or on the default
// registerer when reg is nil. Collectors that are already registered are
// reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	assignments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bloodlift_dispatch_assignments_total",
		Help: "Assignment attempts by outcome",
	}, []string{"outcome"})
	tiers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bloodlift_dispatch_safety_tiers_total",
		Help: "Safety tiers observed at launch decisions",
	}, []string{"tier"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bloodlift_dispatch_assign_duration_seconds",
		Help:    "Time spent handling an assignment attempt",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	var err error
	if assignments, err = register(reg, assignments); err != nil {
		return nil, err
	}
	if tiers, err = register(reg, tiers); err != nil {
		return nil, err
	}
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}

	return &Metrics{assignments: assignments, tiers: tiers, duration: duration}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) observeAssign(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.assignments.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) observeTier(t safety.Tier) {
	if m == nil {
		return
	}
	m.tiers.WithLabelValues(string(t)).Inc()
}
