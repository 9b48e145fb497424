// Package mission builds flight missions for carriers and hands them off to
// carrier control.
package mission

import (
	"context"
	"errors"
	"time"

	"github.com/bloodlift/bloodlift/internal/carrier"
	"github.com/bloodlift/bloodlift/internal/delivery"
	"github.com/bloodlift/bloodlift/internal/geo"
	"github.com/bloodlift/bloodlift/internal/safety"
)

// Mission errors.
var (
	ErrUnsafeConditions   = errors.New("unsafe flight conditions")
	ErrMissingDestination = errors.New("mission destination unresolved")
	ErrRejected           = errors.New("mission rejected by carrier control")
	ErrInvalidInput       = errors.New("invalid mission input")
)

// DefaultCruiseAltitude is the cruise altitude in meters above ground.
const DefaultCruiseAltitude = 50.0

// Waypoint is a point on the flight path.
type Waypoint struct {
	Coordinate geo.Coordinate `json:"coordinate"`
	Altitude   float64        `json:"altitude"`
}

// Plan is an executable flight mission. It is immutable once submitted.
type Plan struct {
	ID                    string            `json:"id"`
	Filename              string            `json:"filename"`
	CarrierID             string            `json:"carrierId"`
	DeliveryID            string            `json:"deliveryId"`
	DestinationFacilityID string            `json:"destinationFacilityId"`
	Destination           geo.Coordinate    `json:"destination"`
	CruiseAltitude        float64           `json:"cruiseAltitude"`
	Waypoints             []Waypoint        `json:"waypoints"`
	Origin                *carrier.Position `json:"origin,omitempty"`
	Tier                  safety.Tier       `json:"tier"`
	DistanceKm            float64           `json:"distanceKm,omitempty"`
	Polyline              string            `json:"polyline,omitempty"`
	CreatedAt             time.Time         `json:"createdAt"`
}

// Ack is carrier control's acceptance of a plan.
type Ack struct {
	MissionID  string    `json:"missionId"`
	Filename   string    `json:"filename"`
	AcceptedAt time.Time `json:"acceptedAt"`
}

// Controller accepts mission plans on behalf of carriers.
// Implementations return ErrRejected when the plan is refused.
type Controller interface {
	Submit(ctx context.Context, plan *Plan) (Ack, error)
}

// Aborter is implemented by controllers that can withdraw an accepted mission.
type Aborter interface {
	Abort(ctx context.Context, carrierID, missionID string) error
}

// Assigner records a carrier assignment once carrier control has accepted
// the mission. delivery.Repository satisfies it.
type Assigner interface {
	Assign(ctx context.Context, deliveryID, carrierID, missionID string) (*delivery.Request, error)
}

// Input is everything needed to build one mission.
type Input struct {
	Delivery  *delivery.Request
	CarrierID string

	// Destination is nil when the facility lookup failed.
	Destination *geo.Coordinate

	Tier safety.Tier

	// Origin is the carrier's last known position, if any.
	Origin *carrier.Position
}
