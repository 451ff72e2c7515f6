package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/northgate/transfer-bookings/internal/domain"
)

type BookingRepository interface {
	// CreateWithHistory inserts the booking in pending state together with
	// its first tracking entry, in one transaction.
	CreateWithHistory(ctx context.Context, b *domain.Booking) (*domain.Booking, error)
	GetByID(ctx context.Context, id int64) (*domain.Booking, error)
	// GetDetail loads the booking with its assigned driver, vehicle and
	// tracking history (newest first).
	GetDetail(ctx context.Context, id int64) (*domain.BookingDetail, error)
	// UpdateWithHistory applies the patch inside a transaction. A status
	// change is validated against the transition table and documented
	// with a tracking entry.
	UpdateWithHistory(ctx context.Context, id int64, patch domain.BookingPatch, actor string) (*domain.Booking, error)
	// AssignDriver confirms a pending booking onto an approved, available
	// driver. Both preconditions are re-verified inside the transaction
	// so concurrent attempts cannot both succeed.
	AssignDriver(ctx context.Context, bookingID, driverID, vehicleID int64) (*domain.Booking, error)
	// Cancel moves a non-terminal booking to cancelled and releases the
	// assigned driver, if any, in the same transaction. The released
	// driver id is reported so callers can invalidate driver state.
	Cancel(ctx context.Context, id int64, reason, actor string) (*domain.Booking, *int64, error)
}

type bookingRepository struct {
	pool *pgxpool.Pool
}

func NewBookingRepository(pool *pgxpool.Pool) BookingRepository {
	return &bookingRepository{pool: pool}
}

const bookingCols = `id, manage_token, client_id, status,
pickup_address, pickup_lat, pickup_lng, pickup_jurisdiction,
dropoff_address, dropoff_lat, dropoff_lng, dropoff_jurisdiction,
scheduled_at, distance_km, duration_minutes,
base_price, surcharges, total_price, currency, payment_status,
passengers, luggages, special_requests, vehicle_class,
driver_id, vehicle_id, cancellation_reason, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*domain.Booking, error) {
	var b domain.Booking
	var surcharges []byte
	err := row.Scan(
		&b.ID, &b.ManageToken, &b.ClientID, &b.Status,
		&b.Pickup.Address, &b.Pickup.Latitude, &b.Pickup.Longitude, &b.Pickup.Jurisdiction,
		&b.Dropoff.Address, &b.Dropoff.Latitude, &b.Dropoff.Longitude, &b.Dropoff.Jurisdiction,
		&b.ScheduledAt, &b.DistanceKm, &b.DurationMinutes,
		&b.BasePrice, &surcharges, &b.TotalPrice, &b.Currency, &b.PaymentStatus,
		&b.Passengers, &b.Luggages, &b.SpecialRequests, &b.VehicleClass,
		&b.DriverID, &b.VehicleID, &b.CancellationReason, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(surcharges) > 0 {
		if err := json.Unmarshal(surcharges, &b.Surcharges); err != nil {
			return nil, fmt.Errorf("decode surcharges: %w", err)
		}
	}
	return &b, nil
}

func (r *bookingRepository) CreateWithHistory(ctx context.Context, b *domain.Booking) (*domain.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	surcharges, err := json.Marshal(b.Surcharges)
	if err != nil {
		return nil, fmt.Errorf("encode surcharges: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const q = `INSERT INTO bookings (
		manage_token, client_id, status,
		pickup_address, pickup_lat, pickup_lng, pickup_jurisdiction,
		dropoff_address, dropoff_lat, dropoff_lng, dropoff_jurisdiction,
		scheduled_at, distance_km, duration_minutes,
		base_price, surcharges, total_price, currency, payment_status,
		passengers, luggages, special_requests, vehicle_class
	) VALUES ($1,$2,'pending',$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
	RETURNING ` + bookingCols

	created, err := scanBooking(tx.QueryRow(ctx, q,
		uuid.NewString(), b.ClientID,
		b.Pickup.Address, b.Pickup.Latitude, b.Pickup.Longitude, b.Pickup.Jurisdiction,
		b.Dropoff.Address, b.Dropoff.Latitude, b.Dropoff.Longitude, b.Dropoff.Jurisdiction,
		b.ScheduledAt, b.DistanceKm, b.DurationMinutes,
		b.BasePrice, surcharges, b.TotalPrice, b.Currency, b.PaymentStatus,
		b.Passengers, b.Luggages, b.SpecialRequests, b.VehicleClass,
	))
	if err != nil {
		return nil, err
	}

	if err := insertTracking(ctx, tx, created.ID, &created.Pickup, string(domain.BookingPending),
		"Booking created"); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

func (r *bookingRepository) GetByID(ctx context.Context, id int64) (*domain.Booking, error) {
	const q = `SELECT ` + bookingCols + ` FROM bookings WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	b, err := scanBooking(r.pool.QueryRow(ctx, q, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return b, err
}

func (r *bookingRepository) GetDetail(ctx context.Context, id int64) (*domain.BookingDetail, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	b, err := r.GetByID(ctx, id)
	if err != nil || b == nil {
		return nil, err
	}
	detail := &domain.BookingDetail{Booking: *b}

	if b.DriverID != nil {
		const dq = `SELECT id, name, phone, is_available, is_approved, updated_at
			FROM drivers WHERE id=$1`
		var d domain.Driver
		err := r.pool.QueryRow(ctx, dq, *b.DriverID).Scan(
			&d.ID, &d.Name, &d.Phone, &d.IsAvailable, &d.IsApproved, &d.UpdatedAt,
		)
		if err != nil && err != pgx.ErrNoRows {
			return nil, err
		}
		if err == nil {
			detail.Driver = &d
		}
	}
	if b.VehicleID != nil {
		const vq = `SELECT id, driver_id, class, plate, model, is_active
			FROM vehicles WHERE id=$1`
		var v domain.Vehicle
		err := r.pool.QueryRow(ctx, vq, *b.VehicleID).Scan(
			&v.ID, &v.DriverID, &v.Class, &v.Plate, &v.Model, &v.IsActive,
		)
		if err != nil && err != pgx.ErrNoRows {
			return nil, err
		}
		if err == nil {
			detail.Vehicle = &v
		}
	}

	history, err := listTracking(ctx, r.pool, id, false)
	if err != nil {
		return nil, err
	}
	detail.History = history

	return detail, nil
}

func (r *bookingRepository) UpdateWithHistory(ctx context.Context, id int64, patch domain.BookingPatch, actor string) (*domain.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	current, err := lockBooking(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domain.ErrBookingNotFound
	}
	if current.Status.IsTerminal() {
		return nil, domain.ErrBookingNotUpdatable
	}

	statusChanged := patch.Status != nil && *patch.Status != current.Status
	if statusChanged && !domain.CanTransition(current.Status, *patch.Status) {
		return nil, domain.NewValidationError(map[string]string{
			"status": fmt.Sprintf("cannot transition from %s to %s", current.Status, *patch.Status),
		})
	}

	const q = `UPDATE bookings SET
		scheduled_at     = COALESCE($2, scheduled_at),
		passengers       = COALESCE($3, passengers),
		luggages         = COALESCE($4, luggages),
		special_requests = COALESCE($5, special_requests),
		status           = COALESCE($6, status),
		payment_status   = COALESCE($7, payment_status),
		updated_at       = now()
	WHERE id=$1
	RETURNING ` + bookingCols

	updated, err := scanBooking(tx.QueryRow(ctx, q, id,
		patch.ScheduledAt, patch.Passengers, patch.Luggages,
		patch.SpecialRequests, patch.Status, patch.PaymentStatus,
	))
	if err != nil {
		return nil, err
	}

	if statusChanged {
		note := fmt.Sprintf("Status changed from %s to %s by %s", current.Status, *patch.Status, actor)
		if err := insertTracking(ctx, tx, id, nil, string(*patch.Status), note); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *bookingRepository) AssignDriver(ctx context.Context, bookingID, driverID, vehicleID int64) (*domain.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// The vehicle must belong to the driver, carry the booked class and be
	// in service.
	var vehicleOK bool
	err = tx.QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM vehicles v
		JOIN bookings b ON b.id = $3
		WHERE v.id = $1 AND v.driver_id = $2 AND v.is_active AND v.class = b.vehicle_class
	)`, vehicleID, driverID, bookingID).Scan(&vehicleOK)
	if err != nil {
		return nil, err
	}
	if !vehicleOK {
		return nil, domain.ErrDriverNotAvailable
	}

	// Compare-and-set on the driver row: of two concurrent assignments,
	// only one sees is_available=true at commit time.
	tag, err := tx.Exec(ctx, `UPDATE drivers
		SET is_available = false, updated_at = now()
		WHERE id = $1 AND is_approved AND is_available`, driverID)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrDriverNotAvailable
	}

	// Same discipline on the booking row: it must still be pending.
	const q = `UPDATE bookings
		SET status = 'confirmed', driver_id = $2, vehicle_id = $3, updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + bookingCols

	updated, err := scanBooking(tx.QueryRow(ctx, q, bookingID, driverID, vehicleID))
	if err == pgx.ErrNoRows {
		return nil, domain.ErrBookingNotAssignable
	}
	if err != nil {
		return nil, err
	}

	note := fmt.Sprintf("Driver %d assigned with vehicle %d", driverID, vehicleID)
	if err := insertTracking(ctx, tx, bookingID, &updated.Pickup, string(domain.BookingConfirmed), note); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *bookingRepository) Cancel(ctx context.Context, id int64, reason, actor string) (*domain.Booking, *int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	current, err := lockBooking(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}
	if current == nil {
		return nil, nil, domain.ErrBookingNotFound
	}
	if !domain.CanTransition(current.Status, domain.BookingCancelled) {
		return nil, nil, domain.ErrBookingNotCancellable
	}

	// Driver and vehicle references are only valid on confirmed or later
	// bookings, so cancellation clears them.
	const q = `UPDATE bookings
		SET status = 'cancelled', cancellation_reason = $2,
		    driver_id = NULL, vehicle_id = NULL, updated_at = now()
		WHERE id = $1
		RETURNING ` + bookingCols

	updated, err := scanBooking(tx.QueryRow(ctx, q, id, reason))
	if err != nil {
		return nil, nil, err
	}

	note := fmt.Sprintf("Booking cancelled by %s: %s", actor, reason)
	if err := insertTracking(ctx, tx, id, nil, string(domain.BookingCancelled), note); err != nil {
		return nil, nil, err
	}

	// A driver held by this booking goes back into the pool.
	released := current.DriverID
	if released != nil {
		_, err := tx.Exec(ctx, `UPDATE drivers
			SET is_available = true, updated_at = now()
			WHERE id = $1`, *released)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return updated, released, nil
}

func lockBooking(ctx context.Context, tx pgx.Tx, id int64) (*domain.Booking, error) {
	const q = `SELECT ` + bookingCols + ` FROM bookings WHERE id=$1 FOR UPDATE`
	b, err := scanBooking(tx.QueryRow(ctx, q, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return b, err
}

func insertTracking(ctx context.Context, tx pgx.Tx, bookingID int64, loc *domain.Location, status, note string) error {
	const q = `INSERT INTO tracking_history (
		booking_id, address, latitude, longitude, jurisdiction, status, note
	) VALUES ($1,$2,$3,$4,$5,$6,$7)`

	var address, jurisdiction *string
	var lat, lng *float64
	if loc != nil {
		address, jurisdiction = &loc.Address, &loc.Jurisdiction
		lat, lng = &loc.Latitude, &loc.Longitude
	}
	_, err := tx.Exec(ctx, q, bookingID, address, lat, lng, jurisdiction, status, note)
	return err
}
