package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the SQLSTATE raised by the one-active-delivery-per-carrier index.
const uniqueViolation = "23505"

const requestColumns = `
	id, origin_facility_id, destination_facility_id,
	blood_type, quantity, urgent, status,
	requested_at, planned_date, carrier_id, mission_id, updated_at`

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a new PostgreSQL delivery repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Get retrieves a request by ID.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM delivery_requests WHERE id = $1`
	return scanRequest(r.pool.QueryRow(ctx, query, id))
}

// Create stores a new pending request.
func (r *PostgresRepository) Create(ctx context.Context, req *Request) error {
	status := req.Status
	if status == "" {
		status = StatusPending
	}

	query := `
		INSERT INTO delivery_requests (
			id, origin_facility_id, destination_facility_id,
			blood_type, quantity, urgent, status,
			requested_at, planned_date, carrier_id, mission_id, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
	`

	_, err := r.pool.Exec(ctx, query,
		req.ID, req.OriginFacilityID, req.DestinationFacilityID,
		req.BloodType, req.Quantity, req.Urgent, status,
		req.RequestedAt, req.PlannedDate, req.CarrierID, req.MissionID,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

// ListAssigned returns assigned requests for carrierID.
func (r *PostgresRepository) ListAssigned(ctx context.Context, carrierID string) ([]*Request, error) {
	query := `SELECT ` + requestColumns + `
		FROM delivery_requests
		WHERE carrier_id = $1 AND status = 'assigned'`
	return r.list(ctx, query, carrierID)
}

// ListUnassigned returns pending requests with no carrier and no live claim.
func (r *PostgresRepository) ListUnassigned(ctx context.Context) ([]*Request, error) {
	query := `SELECT ` + requestColumns + `
		FROM delivery_requests
		WHERE status = 'pending' AND carrier_id IS NULL
		  AND (reserved_until IS NULL OR reserved_until <= now())`
	return r.list(ctx, query)
}

// ActiveForCarrier returns the active request for carrierID.
func (r *PostgresRepository) ActiveForCarrier(ctx context.Context, carrierID string) (*Request, error) {
	query := `SELECT ` + requestColumns + `
		FROM delivery_requests
		WHERE carrier_id = $1 AND status IN ('assigned', 'in_transit')
		LIMIT 1`
	return scanRequest(r.pool.QueryRow(ctx, query, carrierID))
}

// Reserve claims a pending request with a conditional update. The claim
// is taken over once reserved_until has passed.
func (r *PostgresRepository) Reserve(ctx context.Context, id, carrierID string, lease time.Duration) error {
	query := `
		UPDATE delivery_requests
		SET reserved_by = $2, reserved_until = now() + ($3::bigint * interval '1 millisecond')
		WHERE id = $1
		  AND status = 'pending'
		  AND (reserved_by IS NULL OR reserved_by = $2 OR reserved_until <= now())`

	tag, err := r.pool.Exec(ctx, query, id, carrierID, lease.Milliseconds())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.Status != StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, current.Status)
	}
	return ErrReserved
}

// Release drops carrierID's claim on the request.
func (r *PostgresRepository) Release(ctx context.Context, id, carrierID string) error {
	query := `
		UPDATE delivery_requests
		SET reserved_by = NULL, reserved_until = NULL
		WHERE id = $1 AND reserved_by = $2`
	_, err := r.pool.Exec(ctx, query, id, carrierID)
	return err
}

// Assign moves a pending request to assigned with a single conditional
// update, so a concurrent assignment for the same carrier cannot also win.
func (r *PostgresRepository) Assign(ctx context.Context, id, carrierID, missionID string) (*Request, error) {
	query := `
		UPDATE delivery_requests d
		SET status = 'assigned', carrier_id = $2, mission_id = $3,
		    reserved_by = NULL, reserved_until = NULL, updated_at = now()
		WHERE d.id = $1
		  AND d.status = 'pending'
		  AND (d.reserved_by IS NULL OR d.reserved_by = $2 OR d.reserved_until <= now())
		  AND NOT EXISTS (
			SELECT 1 FROM delivery_requests a
			WHERE a.carrier_id = $2 AND a.status IN ('assigned', 'in_transit')
		  )
		RETURNING ` + requestColumns

	req, err := scanRequest(r.pool.QueryRow(ctx, query, id, carrierID, missionID))
	if isUniqueViolation(err) {
		return nil, ErrCarrierBusy
	}
	if !errors.Is(err, ErrNotFound) {
		return req, err
	}

	// Nothing updated: work out which precondition failed.
	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusPending {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, StatusAssigned)
	}
	if _, err := r.ActiveForCarrier(ctx, carrierID); err == nil {
		return nil, ErrCarrierBusy
	}
	return nil, ErrReserved
}

// Advance moves an active request to in_transit or delivered.
func (r *PostgresRepository) Advance(ctx context.Context, id, carrierID string, to Status) (*Request, error) {
	var from Status
	switch to {
	case StatusInTransit:
		from = StatusAssigned
	case StatusDelivered:
		from = StatusInTransit
	default:
		return nil, fmt.Errorf("%w: advance to %s", ErrInvalidTransition, to)
	}

	query := `
		UPDATE delivery_requests
		SET status = $4, updated_at = now()
		WHERE id = $1 AND carrier_id = $2 AND status = $3
		RETURNING ` + requestColumns

	req, err := scanRequest(r.pool.QueryRow(ctx, query, id, carrierID, from, to))
	if !errors.Is(err, ErrNotFound) {
		return req, err
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.AssignedTo(carrierID) {
		return nil, ErrCarrierMismatch
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
}

// Cancel cancels a pending or assigned request and releases its carrier.
func (r *PostgresRepository) Cancel(ctx context.Context, id string) (*Request, error) {
	query := `
		UPDATE delivery_requests
		SET status = 'cancelled', carrier_id = NULL, mission_id = NULL,
		    reserved_by = NULL, reserved_until = NULL, updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'assigned')
		RETURNING ` + requestColumns

	req, err := scanRequest(r.pool.QueryRow(ctx, query, id))
	if !errors.Is(err, ErrNotFound) {
		return req, err
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, StatusCancelled)
}

// History returns every request.
func (r *PostgresRepository) History(ctx context.Context) ([]*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM delivery_requests ORDER BY requested_at`
	return r.list(ctx, query)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*Request, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*Request, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func scanRequest(row pgx.Row) (*Request, error) {
	var req Request
	err := row.Scan(
		&req.ID,
		&req.OriginFacilityID,
		&req.DestinationFacilityID,
		&req.BloodType,
		&req.Quantity,
		&req.Urgent,
		&req.Status,
		&req.RequestedAt,
		&req.PlannedDate,
		&req.CarrierID,
		&req.MissionID,
		&req.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
