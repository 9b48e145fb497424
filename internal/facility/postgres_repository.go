package facility

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bloodlift/bloodlift/internal/geo"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a new PostgreSQL facility repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Get retrieves a facility by ID.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Facility, error) {
	query := `SELECT id, name, kind, lat, lon FROM facilities WHERE id = $1`

	var f Facility
	err := r.pool.QueryRow(ctx, query, id).Scan(&f.ID, &f.Name, &f.Kind, &f.Location.Lat, &f.Location.Lon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

// List returns all facilities ordered by ID.
func (r *PostgresRepository) List(ctx context.Context) ([]*Facility, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, kind, lat, lon FROM facilities ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Facility
	for rows.Next() {
		var f Facility
		if err := rows.Scan(&f.ID, &f.Name, &f.Kind, &f.Location.Lat, &f.Location.Lon); err != nil {
			return nil, err
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

// Coordinate resolves id to its location.
func (r *PostgresRepository) Coordinate(ctx context.Context, id string) (geo.Coordinate, error) {
	var c geo.Coordinate
	err := r.pool.QueryRow(ctx, `SELECT lat, lon FROM facilities WHERE id = $1`, id).Scan(&c.Lat, &c.Lon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return geo.Coordinate{}, ErrNotFound
		}
		return geo.Coordinate{}, err
	}
	return c, nil
}
