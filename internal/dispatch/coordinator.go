package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/bloodlift/bloodlift/internal/carrier"
	"github.com/bloodlift/bloodlift/internal/delivery"
	"github.com/bloodlift/bloodlift/internal/facility"
	"github.com/bloodlift/bloodlift/internal/geo"
	"github.com/bloodlift/bloodlift/internal/mission"
	"github.com/bloodlift/bloodlift/internal/provider/resilience"
	"github.com/bloodlift/bloodlift/internal/safety"
	"github.com/bloodlift/bloodlift/internal/weather"
)

const tracerName = "github.com/bloodlift/bloodlift/internal/dispatch"

// Coordinator errors.
var (
	// ErrCollaboratorUnavailable is returned when a store, lookup or carrier
	// control could not be reached. Assignment retries it.
	ErrCollaboratorUnavailable = errors.New("dispatch collaborator unavailable")

	ErrInvalidRequest = errors.New("invalid dispatch request")
)

// UnsafeError reports a launch refused because of the assessed conditions.
// It matches mission.ErrUnsafeConditions.
type UnsafeError struct {
	Assessment safety.Assessment
}

func (e *UnsafeError) Error() string {
	reason := e.Assessment.Reason
	if reason == "" {
		reason = "no usable weather observation"
	}
	return fmt.Sprintf("%s: %s: %s", mission.ErrUnsafeConditions, e.Assessment.Tier, reason)
}

func (e *UnsafeError) Unwrap() error { return mission.ErrUnsafeConditions }

// Tier returns the assessed safety tier.
func (e *UnsafeError) Tier() safety.Tier { return e.Assessment.Tier }

// Default timeouts.
const (
	DefaultFetchTimeout  = 8 * time.Second
	DefaultSubmitTimeout = 10 * time.Second

	// DefaultReservationTTL is the minimum lease on a delivery being
	// dispatched. It is raised to cover every retry of a slow launch.
	DefaultReservationTTL = 2 * time.Minute

	releaseTimeout = 5 * time.Second
)

// WeatherSource returns the weather expected at a coordinate and time.
// *weather.Service satisfies it.
type WeatherSource interface {
	// Fresh backs launch decisions and fails on any provider error.
	Fresh(ctx context.Context, c geo.Coordinate, t time.Time) (*weather.Observation, error)

	// At backs readiness and may return cached data marked Stale.
	At(ctx context.Context, c geo.Coordinate, t time.Time) (*weather.Observation, error)
}

// Launcher builds, submits and records a mission. *mission.Builder
// satisfies it.
type Launcher interface {
	Launch(ctx context.Context, in mission.Input) (*mission.Plan, *delivery.Request, error)
}

// CoordinatorConfig holds configuration for the dispatch coordinator.
type CoordinatorConfig struct {
	Deliveries delivery.Repository
	Facilities facility.Lookup
	Weather    WeatherSource
	Launcher   Launcher

	// Telemetry supplies carrier positions (default: none known).
	Telemetry carrier.Telemetry

	// Aborter withdraws missions of cancelled deliveries, if set.
	Aborter mission.Aborter

	// Classifier gates launches (default: literal thresholds).
	Classifier *safety.Classifier

	// Metrics is optional.
	Metrics *Metrics

	Logger zerolog.Logger

	// FetchTimeout bounds the weather and telemetry fetch (default: 8s).
	FetchTimeout time.Duration

	// SubmitTimeout bounds mission submission (default: 10s).
	SubmitTimeout time.Duration

	// Retry applies to ErrCollaboratorUnavailable (default: 3 retries).
	Retry *resilience.RetryPolicy

	// ReservationTTL is the lease taken on a delivery while it is
	// dispatched (default: the longer of 2m and the worst-case retry run).
	ReservationTTL time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Assignment is the result of a successful Assign.
type Assignment struct {
	Delivery   *delivery.Request `json:"delivery"`
	Plan       *mission.Plan     `json:"plan,omitempty"`
	Assessment safety.Assessment `json:"assessment"`
	Existing   bool              `json:"existing"`
}

// Readiness is the launch outlook for a facility.
type Readiness struct {
	FacilityID  string               `json:"facilityId"`
	Location    geo.Coordinate       `json:"location"`
	At          time.Time            `json:"at"`
	Assessment  safety.Assessment    `json:"assessment"`
	Observation *weather.Observation `json:"observation,omitempty"`
}

// Coordinator assigns deliveries to carriers and drives their lifecycle.
// Work for one carrier is serialized; different carriers proceed in parallel.
type Coordinator struct {
	deliveries    delivery.Repository
	facilities    facility.Lookup
	weather       WeatherSource
	launcher      Launcher
	telemetry     carrier.Telemetry
	aborter       mission.Aborter
	classifier    *safety.Classifier
	metrics       *Metrics
	logger        zerolog.Logger
	fetchTimeout  time.Duration
	submitTimeout time.Duration
	retry         resilience.RetryPolicy
	lease         time.Duration
	now           func() time.Time

	carriers *keyedMutex
}

// NewCoordinator creates a dispatch coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	telemetry := cfg.Telemetry
	if telemetry == nil {
		telemetry = carrier.NoTelemetry{}
	}
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = safety.NewClassifier(safety.DefaultThresholds())
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	submitTimeout := cfg.SubmitTimeout
	if submitTimeout <= 0 {
		submitTimeout = DefaultSubmitTimeout
	}
	retry := resilience.DefaultRetryPolicy()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	lease := cfg.ReservationTTL
	if lease <= 0 {
		lease = DefaultReservationTTL
		worst := (fetchTimeout + submitTimeout + retry.MaxInterval) * time.Duration(retry.MaxRetries+1)
		if worst > lease {
			lease = worst
		}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Coordinator{
		deliveries:    cfg.Deliveries,
		facilities:    cfg.Facilities,
		weather:       cfg.Weather,
		launcher:      cfg.Launcher,
		telemetry:     telemetry,
		aborter:       cfg.Aborter,
		classifier:    classifier,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		fetchTimeout:  fetchTimeout,
		submitTimeout: submitTimeout,
		retry:         retry,
		lease:         lease,
		now:           now,
		carriers:      newKeyedMutex(),
	}
}

// Queue returns the carrier's assigned requests in dispatch order. When
// includeUnassigned is set and the carrier has no active delivery, pending
// unassigned requests are merged in.
func (c *Coordinator) Queue(ctx context.Context, carrierID string, includeUnassigned bool) ([]*delivery.Request, error) {
	if carrierID == "" {
		return nil, fmt.Errorf("%w: carrier id is required", ErrInvalidRequest)
	}

	reqs, err := c.deliveries.ListAssigned(ctx, carrierID)
	if err != nil {
		return nil, fmt.Errorf("%w: list assigned: %w", ErrCollaboratorUnavailable, err)
	}

	if includeUnassigned {
		free, err := c.carrierFree(ctx, carrierID)
		if err != nil {
			return nil, err
		}
		if free {
			unassigned, err := c.deliveries.ListUnassigned(ctx)
			if err != nil {
				return nil, fmt.Errorf("%w: list unassigned: %w", ErrCollaboratorUnavailable, err)
			}
			reqs = append(reqs, unassigned...)
		}
	}

	return Order(reqs, c.now()), nil
}

// Assign dispatches deliveryID to carrierID. The facility, weather and
// carrier position are resolved, the conditions classified and a mission
// launched. Assigning a delivery already held by the same carrier returns
// the existing assignment.
func (c *Coordinator) Assign(ctx context.Context, deliveryID, carrierID string) (*Assignment, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "dispatch.Assign")
	defer span.End()
	span.SetAttributes(
		attribute.String("delivery.id", deliveryID),
		attribute.String("carrier.id", carrierID),
	)

	start := c.now()
	result, err := c.assign(ctx, deliveryID, carrierID)
	outcome := outcomeOf(result, err)
	c.metrics.observeAssign(outcome, c.now().Sub(start))
	span.SetAttributes(attribute.String("dispatch.outcome", outcome))

	log := c.logger.With().
		Str("delivery_id", deliveryID).
		Str("carrier_id", carrierID).
		Str("outcome", outcome).
		Logger()

	switch {
	case err == nil:
		log.Info().Msg("delivery assigned")
	case isDecision(err):
		log.Info().Err(err).Msg("assignment declined")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error().Err(err).Msg("assignment failed")
	}

	return result, err
}

func (c *Coordinator) assign(ctx context.Context, deliveryID, carrierID string) (*Assignment, error) {
	if deliveryID == "" || carrierID == "" {
		return nil, fmt.Errorf("%w: delivery id and carrier id are required", ErrInvalidRequest)
	}

	unlock := c.carriers.lock(carrierID)
	defer unlock()

	active, err := c.deliveries.ActiveForCarrier(ctx, carrierID)
	switch {
	case err == nil && active.ID == deliveryID:
		return &Assignment{Delivery: active, Existing: true}, nil
	case err == nil:
		return nil, fmt.Errorf("%w: carrier %s is flying delivery %s", delivery.ErrCarrierBusy, carrierID, active.ID)
	case !errors.Is(err, delivery.ErrNotFound):
		return nil, fmt.Errorf("%w: active delivery: %w", ErrCollaboratorUnavailable, err)
	}

	req, err := c.deliveries.Get(ctx, deliveryID)
	if err != nil {
		if errors.Is(err, delivery.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: get delivery: %w", ErrCollaboratorUnavailable, err)
	}
	if req.Status != delivery.StatusPending {
		return nil, fmt.Errorf("%w: delivery %s is %s", delivery.ErrInvalidTransition, req.ID, req.Status)
	}

	// The carrier lock only serializes one carrier. The reservation keeps
	// a second carrier from launching a mission for the same delivery.
	if err := c.deliveries.Reserve(ctx, deliveryID, carrierID, c.lease); err != nil {
		if isDecision(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: reserve delivery: %w", ErrCollaboratorUnavailable, err)
	}
	defer c.release(ctx, deliveryID, carrierID)

	var result *Assignment
	err = resilience.Retry(ctx, c.retry, isRetryable, func() error {
		var attemptErr error
		result, attemptErr = c.attempt(ctx, req, carrierID)
		return attemptErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// attempt runs one resolve, classify and launch cycle.
func (c *Coordinator) attempt(ctx context.Context, req *delivery.Request, carrierID string) (*Assignment, error) {
	dest, err := c.facilities.Coordinate(ctx, req.DestinationFacilityID)
	if err != nil {
		if errors.Is(err, facility.ErrNotFound) {
			return nil, fmt.Errorf("%w: facility %s", mission.ErrMissingDestination, req.DestinationFacilityID)
		}
		return nil, fmt.Errorf("%w: facility lookup: %w", ErrCollaboratorUnavailable, err)
	}

	obs, origin := c.fetchConditions(ctx, dest, carrierID)

	assessment, err := c.classifier.Classify(obs)
	if err != nil {
		return nil, err
	}
	c.metrics.observeTier(assessment.Tier)

	if !assessment.Tier.Launchable() {
		return nil, &UnsafeError{Assessment: assessment}
	}

	submitCtx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	plan, assigned, err := c.launcher.Launch(submitCtx, mission.Input{
		Delivery:    req,
		CarrierID:   carrierID,
		Destination: &dest,
		Tier:        assessment.Tier,
		Origin:      origin,
	})
	if err != nil {
		if isDecision(err) || errors.Is(err, mission.ErrInvalidInput) || errors.Is(err, mission.ErrRejected) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: launch: %w", ErrCollaboratorUnavailable, err)
	}

	return &Assignment{Delivery: assigned, Plan: plan, Assessment: assessment}, nil
}

// fetchConditions gets weather at dest and the carrier position
// concurrently. Failures degrade to a nil observation (tier unknown) and a
// nil origin.
func (c *Coordinator) fetchConditions(ctx context.Context, dest geo.Coordinate, carrierID string) (*weather.Observation, *carrier.Position) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	var (
		obs    *weather.Observation
		origin *carrier.Position
	)

	g, gctx := errgroup.WithContext(fetchCtx)
	g.Go(func() error {
		o, err := c.weather.Fresh(gctx, dest, c.now())
		if err != nil {
			c.logger.Warn().Err(err).Str("destination", dest.String()).Msg("weather unavailable, treating conditions as unknown")
			return nil
		}
		if o.Stale {
			c.logger.Warn().Str("destination", dest.String()).Msg("stale weather, treating conditions as unknown")
			return nil
		}
		obs = o
		return nil
	})
	g.Go(func() error {
		p, err := c.telemetry.Position(gctx, carrierID)
		if err != nil {
			if !errors.Is(err, carrier.ErrNoTelemetry) {
				c.logger.Warn().Err(err).Str("carrier_id", carrierID).Msg("carrier position unavailable")
			}
			return nil
		}
		origin = p
		return nil
	})
	_ = g.Wait() //nolint:errcheck // both fetches degrade instead of failing

	return obs, origin
}

// Cancel cancels a pending or assigned delivery and frees its carrier.
// An accepted mission is withdrawn when an Aborter is configured.
func (c *Coordinator) Cancel(ctx context.Context, deliveryID string) (*delivery.Request, error) {
	if deliveryID == "" {
		return nil, fmt.Errorf("%w: delivery id is required", ErrInvalidRequest)
	}

	req, err := c.deliveries.Get(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if req.CarrierID != nil {
		unlock := c.carriers.lock(*req.CarrierID)
		defer unlock()
	}

	cancelled, err := c.deliveries.Cancel(ctx, deliveryID)
	if err != nil {
		return nil, err
	}

	if c.aborter != nil && req.CarrierID != nil && req.MissionID != nil {
		if err := c.aborter.Abort(ctx, *req.CarrierID, *req.MissionID); err != nil {
			c.logger.Error().Err(err).
				Str("delivery_id", deliveryID).
				Str("mission_id", *req.MissionID).
				Msg("failed to abort mission of cancelled delivery")
		}
	}

	c.logger.Info().Str("delivery_id", deliveryID).Msg("delivery cancelled")
	return cancelled, nil
}

// MarkInTransit records that carrierID has taken off with deliveryID.
func (c *Coordinator) MarkInTransit(ctx context.Context, deliveryID, carrierID string) (*delivery.Request, error) {
	return c.advance(ctx, deliveryID, carrierID, delivery.StatusInTransit)
}

// MarkDelivered records that carrierID has completed deliveryID.
func (c *Coordinator) MarkDelivered(ctx context.Context, deliveryID, carrierID string) (*delivery.Request, error) {
	return c.advance(ctx, deliveryID, carrierID, delivery.StatusDelivered)
}

func (c *Coordinator) advance(ctx context.Context, deliveryID, carrierID string, to delivery.Status) (*delivery.Request, error) {
	if deliveryID == "" || carrierID == "" {
		return nil, fmt.Errorf("%w: delivery id and carrier id are required", ErrInvalidRequest)
	}

	unlock := c.carriers.lock(carrierID)
	defer unlock()

	req, err := c.deliveries.Advance(ctx, deliveryID, carrierID, to)
	if err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("delivery_id", deliveryID).
		Str("carrier_id", carrierID).
		Str("status", string(to)).
		Msg("delivery advanced")
	return req, nil
}

// Readiness classifies the weather at a facility for time at without
// launching anything. A zero at means now. Unlike Assign it accepts cached
// weather from a failed provider; the observation is then marked Stale.
func (c *Coordinator) Readiness(ctx context.Context, facilityID string, at time.Time) (*Readiness, error) {
	if facilityID == "" {
		return nil, fmt.Errorf("%w: facility id is required", ErrInvalidRequest)
	}
	if at.IsZero() {
		at = c.now()
	}

	loc, err := c.facilities.Coordinate(ctx, facilityID)
	if err != nil {
		if errors.Is(err, facility.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: facility lookup: %w", ErrCollaboratorUnavailable, err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	obs, err := c.weather.At(fetchCtx, loc, at)
	if err != nil {
		c.logger.Warn().Err(err).Str("facility_id", facilityID).Msg("weather unavailable for readiness")
		obs = nil
	}

	assessment, err := c.classifier.Classify(obs)
	if err != nil {
		return nil, err
	}

	return &Readiness{
		FacilityID:  facilityID,
		Location:    loc,
		At:          at,
		Assessment:  assessment,
		Observation: obs,
	}, nil
}

// release drops the reservation even when ctx is already cancelled.
func (c *Coordinator) release(ctx context.Context, deliveryID, carrierID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := c.deliveries.Release(ctx, deliveryID, carrierID); err != nil {
		c.logger.Warn().Err(err).
			Str("delivery_id", deliveryID).
			Str("carrier_id", carrierID).
			Msg("failed to release delivery reservation")
	}
}

func (c *Coordinator) carrierFree(ctx context.Context, carrierID string) (bool, error) {
	_, err := c.deliveries.ActiveForCarrier(ctx, carrierID)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, delivery.ErrNotFound):
		return true, nil
	default:
		return false, fmt.Errorf("%w: active delivery: %w", ErrCollaboratorUnavailable, err)
	}
}

func isRetryable(err error) bool {
	return errors.Is(err, ErrCollaboratorUnavailable)
}

// isDecision reports whether err is an expected refusal rather than a fault.
func isDecision(err error) bool {
	return errors.Is(err, mission.ErrUnsafeConditions) ||
		errors.Is(err, mission.ErrMissingDestination) ||
		errors.Is(err, delivery.ErrCarrierBusy) ||
		errors.Is(err, delivery.ErrReserved) ||
		errors.Is(err, delivery.ErrInvalidTransition) ||
		errors.Is(err, delivery.ErrNotFound)
}

func outcomeOf(result *Assignment, err error) string {
	switch {
	case err == nil && result != nil && result.Existing:
		return OutcomeExisting
	case err == nil:
		return OutcomeAssigned
	case errors.Is(err, delivery.ErrCarrierBusy):
		return OutcomeBusy
	case errors.Is(err, delivery.ErrReserved):
		return OutcomeReserved
	case errors.Is(err, mission.ErrUnsafeConditions):
		return OutcomeUnsafe
	case errors.Is(err, mission.ErrMissingDestination):
		return OutcomeNoDest
	case errors.Is(err, ErrCollaboratorUnavailable):
		return OutcomeUnavailable
	default:
		return OutcomeError
	}
}
