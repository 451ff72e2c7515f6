package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/northgate/transfer-bookings/internal/domain"
)

type TrackingRepository interface {
	// ListByBooking returns the audit trail for a booking. Ascending order
	// is for replay/audit, descending for display.
	ListByBooking(ctx context.Context, bookingID int64, ascending bool) ([]domain.TrackingHistoryEntry, error)
}

type trackingRepository struct {
	pool *pgxpool.Pool
}

func NewTrackingRepository(pool *pgxpool.Pool) TrackingRepository {
	return &trackingRepository{pool: pool}
}

func (r *trackingRepository) ListByBooking(ctx context.Context, bookingID int64, ascending bool) ([]domain.TrackingHistoryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return listTracking(ctx, r.pool, bookingID, ascending)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listTracking(ctx context.Context, q querier, bookingID int64, ascending bool) ([]domain.TrackingHistoryEntry, error) {
	order := "DESC"
	if ascending {
		order = "ASC"
	}
	sql := `SELECT id, booking_id, address, latitude, longitude, jurisdiction, status, note, created_at
		FROM tracking_history WHERE booking_id=$1 ORDER BY created_at ` + order

	rows, err := q.Query(ctx, sql, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.TrackingHistoryEntry
	for rows.Next() {
		var e domain.TrackingHistoryEntry
		var address, jurisdiction *string
		var lat, lng *float64
		if err := rows.Scan(&e.ID, &e.BookingID, &address, &lat, &lng, &jurisdiction, &e.Status, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		if address != nil && lat != nil && lng != nil {
			e.Location = &domain.Location{Address: *address, Latitude: *lat, Longitude: *lng}
			if jurisdiction != nil {
				e.Location.Jurisdiction = *jurisdiction
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
