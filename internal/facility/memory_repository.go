package facility

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/bloodlift/bloodlift/internal/geo"
)

// InMemoryRepository is an in-memory implementation of Repository.
type InMemoryRepository struct {
	mu         sync.RWMutex
	facilities map[string]Facility
}

var _ Repository = (*InMemoryRepository)(nil)

// NewInMemoryRepository creates a repository holding fs.
func NewInMemoryRepository(fs ...Facility) *InMemoryRepository {
	r := &InMemoryRepository{facilities: make(map[string]Facility, len(fs))}
	for _, f := range fs {
		r.facilities[f.ID] = f
	}
	return r
}

// Put adds or replaces a facility.
func (r *InMemoryRepository) Put(f Facility) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.facilities[f.ID] = f
}

// Get retrieves a facility by ID.
func (r *InMemoryRepository) Get(_ context.Context, id string) (*Facility, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.facilities[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &f, nil
}

// List returns all facilities ordered by ID.
func (r *InMemoryRepository) List(_ context.Context) ([]*Facility, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Facility, 0, len(r.facilities))
	for _, f := range r.facilities {
		f := f
		out = append(out, &f)
	}
	slices.SortFunc(out, func(a, b *Facility) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// Coordinate resolves id to its location.
func (r *InMemoryRepository) Coordinate(ctx context.Context, id string) (geo.Coordinate, error) {
	f, err := r.Get(ctx, id)
	if err != nil {
		return geo.Coordinate{}, err
	}
	return f.Location, nil
}
