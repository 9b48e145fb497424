package delivery

import (
	"context"
	"time"
)

// Repository defines the delivery store used by dispatch.
type Repository interface {
	// Get retrieves a request by ID.
	Get(ctx context.Context, id string) (*Request, error)

	// Create stores a new pending request.
	Create(ctx context.Context, r *Request) error

	// ListAssigned returns requests in status assigned for carrierID.
	ListAssigned(ctx context.Context, carrierID string) ([]*Request, error)

	// ListUnassigned returns pending requests with no carrier and no live
	// claim.
	ListUnassigned(ctx context.Context) ([]*Request, error)

	// ActiveForCarrier returns the assigned or in-transit request for
	// carrierID, or ErrNotFound when the carrier is free.
	ActiveForCarrier(ctx context.Context, carrierID string) (*Request, error)

	// Reserve claims a pending request for carrierID until lease elapses,
	// so only one carrier launches a mission for it. A carrier may renew
	// its own claim. Returns ErrReserved while another carrier holds an
	// unexpired claim and ErrInvalidTransition if the request is not pending.
	Reserve(ctx context.Context, id, carrierID string, lease time.Duration) error

	// Release drops carrierID's claim on the request. It is a no-op when
	// the claim is not held, including after Assign consumed it.
	Release(ctx context.Context, id, carrierID string) error

	// Assign moves a pending request to assigned for carrierID in one step
	// and consumes any claim. Returns ErrCarrierBusy if the carrier already
	// has an active request, ErrReserved if another carrier holds a live
	// claim and ErrInvalidTransition if the request is no longer pending.
	Assign(ctx context.Context, id, carrierID, missionID string) (*Request, error)

	// Advance moves an active request held by carrierID to the next status
	// (in_transit or delivered).
	Advance(ctx context.Context, id, carrierID string, to Status) (*Request, error)

	// Cancel moves a pending or assigned request to cancelled and releases
	// its carrier.
	Cancel(ctx context.Context, id string) (*Request, error)

	// History returns every request, in any status.
	History(ctx context.Context) ([]*Request, error)
}
