package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/northgate/transfer-bookings/internal/domain"
)

// DriverRepository reads the driver pool and toggles availability. Driver
// and vehicle records themselves are managed elsewhere; this core never
// creates or deletes them.
type DriverRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Driver, error)
	SetAvailability(ctx context.Context, id int64, available bool) error
	// FindCandidates returns approved, available drivers owning an active
	// vehicle of the requested class, capped at limit.
	FindCandidates(ctx context.Context, class domain.VehicleClass, limit int) ([]domain.MatchCandidate, error)
}

type driverRepository struct {
	pool *pgxpool.Pool
}

func NewDriverRepository(pool *pgxpool.Pool) DriverRepository {
	return &driverRepository{pool: pool}
}

func (r *driverRepository) GetByID(ctx context.Context, id int64) (*domain.Driver, error) {
	const q = `SELECT id, name, phone, is_available, is_approved, updated_at
		FROM drivers WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var d domain.Driver
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&d.ID, &d.Name, &d.Phone, &d.IsAvailable, &d.IsApproved, &d.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return &d, err
}

func (r *driverRepository) SetAvailability(ctx context.Context, id int64, available bool) error {
	const q = `UPDATE drivers SET is_available=$2, updated_at=now() WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, id, available)
	return err
}

func (r *driverRepository) FindCandidates(ctx context.Context, class domain.VehicleClass, limit int) ([]domain.MatchCandidate, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `SELECT d.id, d.name, d.phone, d.is_available, d.is_approved, d.updated_at,
			v.id, v.driver_id, v.class, v.plate, v.model, v.is_active
		FROM drivers d
		JOIN vehicles v ON v.driver_id = d.id
		WHERE d.is_approved AND d.is_available AND v.is_active AND v.class = $1
		ORDER BY d.updated_at ASC
		LIMIT $2`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, class, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []domain.MatchCandidate
	for rows.Next() {
		var c domain.MatchCandidate
		if err := rows.Scan(
			&c.Driver.ID, &c.Driver.Name, &c.Driver.Phone, &c.Driver.IsAvailable, &c.Driver.IsApproved, &c.Driver.UpdatedAt,
			&c.Vehicle.ID, &c.Vehicle.DriverID, &c.Vehicle.Class, &c.Vehicle.Plate, &c.Vehicle.Model, &c.Vehicle.IsActive,
		); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}
