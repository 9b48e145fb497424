package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing and local runs. Production should use
// PostgresRepository.
type InMemoryRepository struct {
	mu       sync.RWMutex
	requests map[string]*Request
	claims   map[string]claim
	now      func() time.Time
}

type claim struct {
	carrierID string
	until     time.Time
}

var _ Repository = (*InMemoryRepository)(nil)

// NewInMemoryRepository creates a new in-memory delivery repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		requests: make(map[string]*Request),
		claims:   make(map[string]claim),
		now:      time.Now,
	}
}

// Get retrieves a request by ID.
func (r *InMemoryRepository) Get(_ context.Context, id string) (*Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return req.Clone(), nil
}

// Create stores a new request. Status defaults to pending.
func (r *InMemoryRepository) Create(_ context.Context, req *Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.requests[req.ID]; ok {
		return ErrAlreadyExists
	}

	cpy := req.Clone()
	if cpy.Status == "" {
		cpy.Status = StatusPending
	}
	if cpy.UpdatedAt.IsZero() {
		cpy.UpdatedAt = r.now()
	}
	r.requests[req.ID] = cpy
	return nil
}

// ListAssigned returns assigned requests for carrierID.
func (r *InMemoryRepository) ListAssigned(_ context.Context, carrierID string) ([]*Request, error) {
	return r.filter(func(req *Request) bool {
		return req.Status == StatusAssigned && req.AssignedTo(carrierID)
	}), nil
}

// ListUnassigned returns pending requests with no carrier and no live claim.
func (r *InMemoryRepository) ListUnassigned(_ context.Context) ([]*Request, error) {
	now := r.now()
	return r.filter(func(req *Request) bool {
		if req.Status != StatusPending || req.CarrierID != nil {
			return false
		}
		c, ok := r.claims[req.ID]
		return !ok || !now.Before(c.until)
	}), nil
}

// ActiveForCarrier returns the active request for carrierID.
func (r *InMemoryRepository) ActiveForCarrier(_ context.Context, carrierID string) (*Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if req := r.activeLocked(carrierID); req != nil {
		return req.Clone(), nil
	}
	return nil, ErrNotFound
}

// Reserve claims a pending request for carrierID.
func (r *InMemoryRepository) Reserve(_ context.Context, id, carrierID string, lease time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return ErrNotFound
	}
	if req.Status != StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, req.Status)
	}
	now := r.now()
	if r.claimedByOtherLocked(id, carrierID, now) {
		return ErrReserved
	}

	r.claims[id] = claim{carrierID: carrierID, until: now.Add(lease)}
	return nil
}

// Release drops carrierID's claim on the request.
func (r *InMemoryRepository) Release(_ context.Context, id, carrierID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.claims[id]; ok && c.carrierID == carrierID {
		delete(r.claims, id)
	}
	return nil
}

// Assign moves a pending request to assigned.
func (r *InMemoryRepository) Assign(_ context.Context, id, carrierID, missionID string) (*Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !req.Status.CanTransitionTo(StatusAssigned) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, req.Status, StatusAssigned)
	}
	if r.claimedByOtherLocked(id, carrierID, r.now()) {
		return nil, ErrReserved
	}
	if r.activeLocked(carrierID) != nil {
		return nil, ErrCarrierBusy
	}

	delete(r.claims, id)
	req.Status = StatusAssigned
	req.CarrierID = &carrierID
	req.MissionID = &missionID
	req.UpdatedAt = r.now()
	return req.Clone(), nil
}

// Advance moves an active request to in_transit or delivered.
func (r *InMemoryRepository) Advance(_ context.Context, id, carrierID string, to Status) (*Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	if to != StatusInTransit && to != StatusDelivered {
		return nil, fmt.Errorf("%w: advance to %s", ErrInvalidTransition, to)
	}
	if !req.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, req.Status, to)
	}
	if !req.AssignedTo(carrierID) {
		return nil, ErrCarrierMismatch
	}

	req.Status = to
	req.UpdatedAt = r.now()
	return req.Clone(), nil
}

// Cancel cancels a pending or assigned request and releases its carrier.
func (r *InMemoryRepository) Cancel(_ context.Context, id string) (*Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !req.Status.CanTransitionTo(StatusCancelled) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, req.Status, StatusCancelled)
	}

	delete(r.claims, id)
	req.Status = StatusCancelled
	req.CarrierID = nil
	req.MissionID = nil
	req.UpdatedAt = r.now()
	return req.Clone(), nil
}

// History returns every request.
func (r *InMemoryRepository) History(_ context.Context) ([]*Request, error) {
	return r.filter(func(*Request) bool { return true }), nil
}

func (r *InMemoryRepository) filter(keep func(*Request) bool) []*Request {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Request, 0)
	for _, req := range r.requests {
		if keep(req) {
			out = append(out, req.Clone())
		}
	}
	return out
}

// claimedByOtherLocked reports whether a carrier other than carrierID
// holds an unexpired claim on id. Caller holds r.mu.
func (r *InMemoryRepository) claimedByOtherLocked(id, carrierID string, now time.Time) bool {
	c, ok := r.claims[id]
	return ok && c.carrierID != carrierID && now.Before(c.until)
}

// activeLocked returns the carrier's active request. Caller holds r.mu.
func (r *InMemoryRepository) activeLocked(carrierID string) *Request {
	for _, req := range r.requests {
		if req.Status.Active() && req.AssignedTo(carrierID) {
			return req
		}
	}
	return nil
}
