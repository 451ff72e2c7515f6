package postgres

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type IdempotencyRepository interface {
	// CheckOrCreate returns the booking id already recorded for the key,
	// or records bookingID against it when there is none yet.
	CheckOrCreate(ctx context.Context, key string, bookingID int64) (existingBookingID int64, err error)
	CleanupExpired(ctx context.Context) (int64, error)
}

type idempotencyRepository struct {
	pool *pgxpool.Pool
}

func NewIdempotencyRepository(pool *pgxpool.Pool) IdempotencyRepository {
	return &idempotencyRepository{pool: pool}
}

func (r *idempotencyRepository) CheckOrCreate(ctx context.Context, key string, bookingID int64) (int64, error) {
	// Hash the client-supplied key for privacy and consistent length
	hasher := sha256.New()
	hasher.Write([]byte(key))
	keyHash := fmt.Sprintf("%x", hasher.Sum(nil))

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var existingBookingID int64
	const checkQuery = `SELECT booking_id FROM booking_idempotency WHERE key_hash = $1 AND expires_at > now()`
	err := r.pool.QueryRow(ctx, checkQuery, keyHash).Scan(&existingBookingID)
	if err == nil {
		return existingBookingID, nil
	}
	if err != pgx.ErrNoRows {
		return 0, err
	}

	if bookingID > 0 {
		const insertQuery = `
			INSERT INTO booking_idempotency (key_hash, booking_id, expires_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (key_hash) DO NOTHING`

		expiresAt := time.Now().Add(24 * time.Hour)
		if _, err := r.pool.Exec(ctx, insertQuery, keyHash, bookingID, expiresAt); err != nil {
			return 0, err
		}
	}
	return 0, nil
}

func (r *idempotencyRepository) CleanupExpired(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM booking_idempotency WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
