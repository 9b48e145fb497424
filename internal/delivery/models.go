// Package delivery holds blood delivery requests and their lifecycle.
package delivery

import (
	"errors"
	"time"
)

// Delivery errors.
var (
	ErrNotFound          = errors.New("delivery request not found")
	ErrAlreadyExists     = errors.New("delivery request already exists")
	ErrInvalidTransition = errors.New("invalid delivery status transition")
	ErrCarrierBusy       = errors.New("carrier already has an active delivery")
	ErrCarrierMismatch   = errors.New("delivery is assigned to a different carrier")
	ErrReserved          = errors.New("delivery is being dispatched to another carrier")
)

// Status is the lifecycle state of a delivery request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAssigned  Status = "assigned"
	StatusInTransit Status = "in_transit"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

var validTransitions = map[Status][]Status{
	StatusPending:   {StatusAssigned, StatusCancelled},
	StatusAssigned:  {StatusInTransit, StatusCancelled},
	StatusInTransit: {StatusDelivered},
}

// CanTransitionTo reports whether s may move to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s is delivered or cancelled.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Active reports whether a carrier is committed to the request.
func (s Status) Active() bool {
	return s == StatusAssigned || s == StatusInTransit
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAssigned, StatusInTransit, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Request is a request to fly blood units between two facilities.
// CarrierID is set iff Status is assigned, in_transit or delivered.
type Request struct {
	ID                    string
	OriginFacilityID      string
	DestinationFacilityID string
	BloodType             string
	Quantity              int
	Urgent                bool
	Status                Status
	RequestedAt           time.Time
	PlannedDate           *time.Time
	CarrierID             *string
	MissionID             *string
	UpdatedAt             time.Time
}

// AssignedTo reports whether the request references carrierID.
func (r *Request) AssignedTo(carrierID string) bool {
	return r.CarrierID != nil && *r.CarrierID == carrierID
}

// Clone returns a deep copy of r.
func (r *Request) Clone() *Request {
	cpy := *r
	if r.PlannedDate != nil {
		d := *r.PlannedDate
		cpy.PlannedDate = &d
	}
	if r.CarrierID != nil {
		c := *r.CarrierID
		cpy.CarrierID = &c
	}
	if r.MissionID != nil {
		m := *r.MissionID
		cpy.MissionID = &m
	}
	return &cpy
}
