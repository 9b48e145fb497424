// Package carrier describes the remotely piloted aircraft that fly deliveries.
package carrier

import (
	"context"
	"errors"
	"time"

	"github.com/bloodlift/bloodlift/internal/geo"
)

// ErrNoTelemetry is returned when no position is known for a carrier.
var ErrNoTelemetry = errors.New("no telemetry for carrier")

// Position is a carrier's last reported location.
type Position struct {
	Coordinate geo.Coordinate `json:"coordinate"`
	Altitude   float64        `json:"altitude"`
	ReportedAt time.Time      `json:"reportedAt"`
}

// Telemetry reports the last known position of a carrier.
type Telemetry interface {
	Position(ctx context.Context, carrierID string) (*Position, error)
}

// NoTelemetry is a Telemetry that never knows a position.
type NoTelemetry struct{}

// Position always returns ErrNoTelemetry.
func (NoTelemetry) Position(context.Context, string) (*Position, error) {
	return nil, ErrNoTelemetry
}
