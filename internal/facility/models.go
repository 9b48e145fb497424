// Package facility resolves donation centers and hospitals to coordinates.
package facility

import (
	"context"
	"errors"

	"github.com/bloodlift/bloodlift/internal/geo"
)

// ErrNotFound is returned when a facility does not exist.
var ErrNotFound = errors.New("facility not found")

// Kind distinguishes blood sources from receivers.
type Kind string

const (
	KindDonationCenter Kind = "donation_center"
	KindHospital       Kind = "hospital"
)

// Facility is a site a carrier can fly to or from.
type Facility struct {
	ID       string
	Name     string
	Kind     Kind
	Location geo.Coordinate
}

// Lookup resolves a facility id to its coordinate.
type Lookup interface {
	Coordinate(ctx context.Context, id string) (geo.Coordinate, error)
}

// Repository reads facilities.
type Repository interface {
	Lookup

	// Get retrieves a facility by ID.
	Get(ctx context.Context, id string) (*Facility, error)

	// List returns all facilities ordered by ID.
	List(ctx context.Context) ([]*Facility, error)
}
