package mission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bloodlift/bloodlift/internal/delivery"
	"github.com/bloodlift/bloodlift/internal/geo"
	"github.com/bloodlift/bloodlift/pkg/polyline"
)

// idNamespace scopes mission UUIDs.
var idNamespace = uuid.MustParse("6f1c7a52-3f0e-4b8e-9a59-0b7b4c0d2e11")

// ID returns the mission identifier for a carrier flying to a facility.
// The same pair always yields the same identifier so retries are idempotent.
func ID(carrierID, destinationFacilityID string) string {
	return uuid.NewSHA1(idNamespace, []byte(carrierID+":"+destinationFacilityID)).String()
}

// Filename returns the plan filename carrier control stores a mission under.
func Filename(missionID string) string {
	return "mission-" + missionID + ".plan"
}

// BuilderConfig holds configuration for the mission builder.
type BuilderConfig struct {
	// Controller receives built plans.
	Controller Controller

	// Assigner commits the assignment after acknowledgement.
	Assigner Assigner

	// CruiseAltitude in meters (default: 50).
	CruiseAltitude float64

	// Logger for builder operations.
	Logger zerolog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Builder turns accepted deliveries into mission plans.
type Builder struct {
	controller     Controller
	assigner       Assigner
	cruiseAltitude float64
	logger         zerolog.Logger
	now            func() time.Time
}

// NewBuilder creates a new mission builder.
func NewBuilder(cfg BuilderConfig) *Builder {
	altitude := cfg.CruiseAltitude
	if altitude <= 0 {
		altitude = DefaultCruiseAltitude
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Builder{
		controller:     cfg.Controller,
		assigner:       cfg.Assigner,
		cruiseAltitude: altitude,
		logger:         cfg.Logger,
		now:            now,
	}
}

// Build produces a plan without side effects. The safety gate is checked
// before anything else.
func (b *Builder) Build(in Input) (*Plan, error) {
	if !in.Tier.Launchable() {
		return nil, fmt.Errorf("%w: tier %s", ErrUnsafeConditions, in.Tier)
	}
	if in.Delivery == nil || in.CarrierID == "" {
		return nil, fmt.Errorf("%w: delivery and carrier are required", ErrInvalidInput)
	}
	if in.Destination == nil {
		return nil, fmt.Errorf("%w: facility %s", ErrMissingDestination, in.Delivery.DestinationFacilityID)
	}
	if err := in.Destination.Validate(); err != nil {
		return nil, fmt.Errorf("%w: facility %s: %v", ErrMissingDestination, in.Delivery.DestinationFacilityID, err)
	}

	id := ID(in.CarrierID, in.Delivery.DestinationFacilityID)
	plan := &Plan{
		ID:                    id,
		Filename:              Filename(id),
		CarrierID:             in.CarrierID,
		DeliveryID:            in.Delivery.ID,
		DestinationFacilityID: in.Delivery.DestinationFacilityID,
		Destination:           *in.Destination,
		CruiseAltitude:        b.cruiseAltitude,
		Waypoints: []Waypoint{
			{Coordinate: *in.Destination, Altitude: b.cruiseAltitude},
		},
		Tier:      in.Tier,
		CreatedAt: b.now(),
	}

	if in.Origin != nil {
		origin := *in.Origin
		path := []geo.Coordinate{origin.Coordinate, *in.Destination}
		if length, err := polyline.LengthKm(path); err != nil {
			b.logger.Warn().Err(err).Str("carrier_id", in.CarrierID).Msg("ignoring invalid carrier telemetry")
		} else {
			plan.Origin = &origin
			plan.DistanceKm = length
			plan.Polyline = polyline.Encode(path)
		}
	}

	return plan, nil
}

// Launch builds the plan, submits it to carrier control and, only after
// acknowledgement, records the assignment. When submission fails the
// delivery is left untouched.
func (b *Builder) Launch(ctx context.Context, in Input) (*Plan, *delivery.Request, error) {
	plan, err := b.Build(in)
	if err != nil {
		return nil, nil, err
	}

	ack, err := b.controller.Submit(ctx, plan)
	if err != nil {
		return nil, nil, fmt.Errorf("submit mission %s: %w", plan.ID, err)
	}

	// The submitted plan stays as sent; the returned copy carries the
	// identifiers carrier control settled on.
	final := *plan
	if ack.MissionID != "" {
		final.ID = ack.MissionID
	}
	if ack.Filename != "" {
		final.Filename = ack.Filename
	}

	assigned, err := b.assigner.Assign(ctx, in.Delivery.ID, in.CarrierID, final.ID)
	if err != nil {
		b.abort(ctx, &final, err)
		return nil, nil, fmt.Errorf("record assignment: %w", err)
	}

	b.logger.Info().
		Str("mission_id", final.ID).
		Str("carrier_id", final.CarrierID).
		Str("delivery_id", final.DeliveryID).
		Str("tier", string(final.Tier)).
		Float64("distance_km", final.DistanceKm).
		Msg("mission launched")

	return &final, assigned, nil
}

// abort withdraws an acknowledged mission whose assignment could not be
// recorded, when the controller supports it.
func (b *Builder) abort(ctx context.Context, plan *Plan, cause error) {
	aborter, ok := b.controller.(Aborter)
	if !ok {
		b.logger.Error().Err(cause).Str("mission_id", plan.ID).Msg("mission acknowledged but assignment failed")
		return
	}

	if err := aborter.Abort(context.WithoutCancel(ctx), plan.CarrierID, plan.ID); err != nil {
		b.logger.Error().Err(err).Str("mission_id", plan.ID).Msg("failed to abort mission")
		return
	}
	b.logger.Warn().Err(cause).Str("mission_id", plan.ID).Msg("mission aborted after failed assignment")
}
