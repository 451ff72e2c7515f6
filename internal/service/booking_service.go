package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/northgate/transfer-bookings/internal/domain"
	"github.com/northgate/transfer-bookings/internal/pricing"
	"github.com/northgate/transfer-bookings/internal/repo/postgres"
	"github.com/northgate/transfer-bookings/pkg/cache"
	"github.com/northgate/transfer-bookings/pkg/config"
	"github.com/northgate/transfer-bookings/pkg/events"
	"github.com/northgate/transfer-bookings/pkg/logger"
)

// BookingService orchestrates the booking lifecycle: creation, retrieval,
// update, driver assignment and cancellation. It owns every transaction
// boundary and treats the cache and the matcher as best-effort helpers.
type BookingService interface {
	CreateBooking(ctx context.Context, req *domain.CreateBookingRequest, idempotencyKey string) (*domain.Booking, error)
	GetBookingByID(ctx context.Context, id int64) (*domain.BookingDetail, error)
	UpdateBooking(ctx context.Context, id int64, patch domain.BookingPatch, actor string) (*domain.Booking, error)
	AssignDriver(ctx context.Context, bookingID, driverID, vehicleID int64) (*domain.Booking, error)
	CancelBooking(ctx context.Context, id int64, reason, actor string) (*domain.Booking, error)
	CalculatePriceEstimate(ctx context.Context, pickup, dropoff domain.Location, class domain.VehicleClass, scheduledAt time.Time) (*domain.PriceBreakdown, error)
	EstimatePriceRange(ctx context.Context, pickup, dropoff domain.Location, class domain.VehicleClass) (min, max float64, err error)
	GetTrackingHistory(ctx context.Context, bookingID int64, ascending bool) ([]domain.TrackingHistoryEntry, error)
}

// Cache is the slice of pkg/cache the service needs; tests swap it out.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, entity, key string, value []byte, ttl time.Duration) error
	InvalidateEntity(ctx context.Context, entity string) error
}

type bookingService struct {
	bookingRepo     postgres.BookingRepository
	trackingRepo    postgres.TrackingRepository
	idempotencyRepo postgres.IdempotencyRepository
	engine          *pricing.Engine
	cache           Cache
	publisher       events.Publisher
	cfg             *config.Config
}

func NewBookingService(
	bookingRepo postgres.BookingRepository,
	trackingRepo postgres.TrackingRepository,
	idempotencyRepo postgres.IdempotencyRepository,
	engine *pricing.Engine,
	c Cache,
	publisher events.Publisher,
	cfg *config.Config,
) BookingService {
	return &bookingService{
		bookingRepo:     bookingRepo,
		trackingRepo:    trackingRepo,
		idempotencyRepo: idempotencyRepo,
		engine:          engine,
		cache:           c,
		publisher:       publisher,
		cfg:             cfg,
	}
}

func bookingEntity(id int64) string { return fmt.Sprintf("booking:%d", id) }
func driverEntity(id int64) string  { return fmt.Sprintf("driver:%d", id) }
func detailKey(id int64) string     { return fmt.Sprintf("booking:%d:detail", id) }

func (s *bookingService) CreateBooking(ctx context.Context, req *domain.CreateBookingRequest, idempotencyKey string) (*domain.Booking, error) {
	if err := req.Validate(time.Now()); err != nil {
		return nil, err
	}

	if idempotencyKey != "" {
		existingID, err := s.idempotencyRepo.CheckOrCreate(ctx, idempotencyKey, 0)
		if err != nil {
			return nil, s.storeFailure(ctx, "idempotency check", err)
		}
		if existingID > 0 {
			existing, err := s.bookingRepo.GetByID(ctx, existingID)
			if err != nil {
				return nil, s.storeFailure(ctx, "idempotent lookup", err)
			}
			return existing, nil
		}
	}

	quote := s.engine.Quote(req.Pickup, req.Dropoff, req.VehicleClass, req.ScheduledAt)

	booking := &domain.Booking{
		ClientID:        req.ClientID,
		Status:          domain.BookingPending,
		Pickup:          req.Pickup,
		Dropoff:         req.Dropoff,
		ScheduledAt:     req.ScheduledAt,
		DistanceKm:      quote.DistanceKm,
		DurationMinutes: quote.DurationMinutes,
		BasePrice:       quote.BasePrice,
		Surcharges:      quote.Surcharges,
		TotalPrice:      quote.TotalPrice,
		Currency:        quote.Currency,
		PaymentStatus:   "unpaid",
		Passengers:      req.Passengers,
		Luggages:        req.Luggages,
		SpecialRequests: req.SpecialRequests,
		VehicleClass:    req.VehicleClass,
	}

	created, err := s.bookingRepo.CreateWithHistory(ctx, booking)
	if err != nil {
		return nil, s.storeFailure(ctx, "create booking", err)
	}

	if idempotencyKey != "" {
		if _, err := s.idempotencyRepo.CheckOrCreate(ctx, idempotencyKey, created.ID); err != nil {
			logger.ErrorContext(ctx, "Failed to store idempotency record", "error", err, "booking_id", created.ID)
		}
	}

	s.populateDetailCache(ctx, created.ID)

	// The matcher runs out-of-band; a failure to hand off never fails or
	// rolls back the creation.
	if err := s.publisher.Publish(ctx, events.MatchRequested, events.MatchRequestedEvent{
		BookingID:    created.ID,
		VehicleClass: string(created.VehicleClass),
		PickupLat:    created.Pickup.Latitude,
		PickupLng:    created.Pickup.Longitude,
		ScheduledAt:  created.ScheduledAt,
	}); err != nil {
		logger.ErrorContext(ctx, "Failed to request driver matching", "error", err, "booking_id", created.ID)
	}

	if err := s.publisher.Publish(ctx, events.BookingCreated, events.BookingCreatedEvent{
		BookingID:   created.ID,
		ClientID:    created.ClientID,
		Pickup:      created.Pickup.Address,
		Dropoff:     created.Dropoff.Address,
		ScheduledAt: created.ScheduledAt,
		Passengers:  created.Passengers,
		TotalPrice:  created.TotalPrice,
		Currency:    created.Currency,
		CreatedAt:   created.CreatedAt,
	}); err != nil {
		logger.ErrorContext(ctx, "Failed to publish booking created event", "error", err, "booking_id", created.ID)
	}

	logger.InfoContext(ctx, "Booking created",
		"booking_id", created.ID,
		"total_price", created.TotalPrice,
		"currency", created.Currency,
		"scheduled_at", created.ScheduledAt,
	)
	return created, nil
}

func (s *bookingService) GetBookingByID(ctx context.Context, id int64) (*domain.BookingDetail, error) {
	if raw, err := s.cache.Get(ctx, detailKey(id)); err == nil {
		var detail domain.BookingDetail
		if err := json.Unmarshal(raw, &detail); err == nil {
			return &detail, nil
		}
		logger.WarnContext(ctx, "Discarding undecodable cache entry", "key", detailKey(id))
	} else if err != cache.ErrMiss {
		// Cache trouble is never a reason to fail a read.
		logger.WarnContext(ctx, "Cache read failed, falling back to store", "error", err, "booking_id", id)
	}

	detail, err := s.bookingRepo.GetDetail(ctx, id)
	if err != nil {
		return nil, s.storeFailure(ctx, "get booking", err)
	}
	if detail == nil {
		return nil, domain.ErrBookingNotFound
	}

	s.cacheDetail(ctx, detail)
	return detail, nil
}

func (s *bookingService) UpdateBooking(ctx context.Context, id int64, patch domain.BookingPatch, actor string) (*domain.Booking, error) {
	if err := patch.Validate(time.Now()); err != nil {
		return nil, err
	}

	updated, err := s.bookingRepo.UpdateWithHistory(ctx, id, patch, actor)
	if err != nil {
		return nil, s.storeFailure(ctx, "update booking", err)
	}

	s.invalidate(ctx, bookingEntity(id))

	changes := patchChanges(patch)
	if err := s.publisher.Publish(ctx, events.BookingUpdated, events.BookingUpdatedEvent{
		BookingID: updated.ID,
		Changes:   changes,
		UpdatedAt: updated.UpdatedAt,
	}); err != nil {
		logger.ErrorContext(ctx, "Failed to publish booking updated event", "error", err, "booking_id", updated.ID)
	}

	logger.InfoContext(ctx, "Booking updated", "booking_id", id, "actor", actor, "changes", changes)
	return updated, nil
}

func (s *bookingService) AssignDriver(ctx context.Context, bookingID, driverID, vehicleID int64) (*domain.Booking, error) {
	updated, err := s.bookingRepo.AssignDriver(ctx, bookingID, driverID, vehicleID)
	if err != nil {
		return nil, s.storeFailure(ctx, "assign driver", err)
	}

	s.invalidate(ctx, bookingEntity(bookingID))
	s.invalidate(ctx, driverEntity(driverID))

	if err := s.publisher.Publish(ctx, events.BookingAssigned, events.BookingAssignedEvent{
		BookingID:  updated.ID,
		DriverID:   driverID,
		VehicleID:  vehicleID,
		AssignedAt: updated.UpdatedAt,
	}); err != nil {
		logger.ErrorContext(ctx, "Failed to publish booking assigned event", "error", err, "booking_id", bookingID)
	}

	logger.InfoContext(ctx, "Driver assigned",
		"booking_id", bookingID, "driver_id", driverID, "vehicle_id", vehicleID)
	return updated, nil
}

func (s *bookingService) CancelBooking(ctx context.Context, id int64, reason, actor string) (*domain.Booking, error) {
	updated, releasedDriver, err := s.bookingRepo.Cancel(ctx, id, reason, actor)
	if err != nil {
		return nil, s.storeFailure(ctx, "cancel booking", err)
	}

	s.invalidate(ctx, bookingEntity(id))
	if releasedDriver != nil {
		s.invalidate(ctx, driverEntity(*releasedDriver))
	}

	if err := s.publisher.Publish(ctx, events.BookingCanceled, events.BookingCanceledEvent{
		BookingID:        updated.ID,
		Reason:           reason,
		ReleasedDriverID: releasedDriver,
		CanceledAt:       updated.UpdatedAt,
	}); err != nil {
		logger.ErrorContext(ctx, "Failed to publish booking canceled event", "error", err, "booking_id", id)
	}

	logger.InfoContext(ctx, "Booking cancelled", "booking_id", id, "actor", actor, "reason", reason)
	return updated, nil
}

func (s *bookingService) CalculatePriceEstimate(ctx context.Context, pickup, dropoff domain.Location, class domain.VehicleClass, scheduledAt time.Time) (*domain.PriceBreakdown, error) {
	if err := validateTrip(pickup, dropoff); err != nil {
		return nil, err
	}
	if scheduledAt.IsZero() {
		scheduledAt = time.Now()
	}
	quote := s.engine.Quote(pickup, dropoff, class, scheduledAt)
	return &quote, nil
}

func (s *bookingService) EstimatePriceRange(ctx context.Context, pickup, dropoff domain.Location, class domain.VehicleClass) (float64, float64, error) {
	if err := validateTrip(pickup, dropoff); err != nil {
		return 0, 0, err
	}
	min, max := s.engine.EstimateRange(pickup, dropoff, class)
	return min, max, nil
}

func (s *bookingService) GetTrackingHistory(ctx context.Context, bookingID int64, ascending bool) ([]domain.TrackingHistoryEntry, error) {
	booking, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, s.storeFailure(ctx, "tracking lookup", err)
	}
	if booking == nil {
		return nil, domain.ErrBookingNotFound
	}
	entries, err := s.trackingRepo.ListByBooking(ctx, bookingID, ascending)
	if err != nil {
		return nil, s.storeFailure(ctx, "tracking history", err)
	}
	return entries, nil
}

func validateTrip(pickup, dropoff domain.Location) error {
	fields := map[string]string{}
	if !pickup.ValidCoordinates() {
		fields["pickup"] = "latitude must be in [-90,90] and longitude in [-180,180]"
	}
	if !dropoff.ValidCoordinates() {
		fields["dropoff"] = "latitude must be in [-90,90] and longitude in [-180,180]"
	}
	if len(fields) > 0 {
		return domain.NewValidationError(fields)
	}
	return nil
}

// populateDetailCache refreshes the cached detail view from the store.
// Best effort only.
func (s *bookingService) populateDetailCache(ctx context.Context, id int64) {
	detail, err := s.bookingRepo.GetDetail(ctx, id)
	if err != nil || detail == nil {
		logger.WarnContext(ctx, "Skipping cache population", "error", err, "booking_id", id)
		return
	}
	s.cacheDetail(ctx, detail)
}

func (s *bookingService) cacheDetail(ctx context.Context, detail *domain.BookingDetail) {
	raw, err := json.Marshal(detail)
	if err != nil {
		logger.WarnContext(ctx, "Failed to encode booking for cache", "error", err, "booking_id", detail.Booking.ID)
		return
	}
	id := detail.Booking.ID
	if err := s.cache.Set(ctx, bookingEntity(id), detailKey(id), raw, s.cfg.Cache.BookingTTL); err != nil {
		logger.WarnContext(ctx, "Cache write failed", "error", err, "booking_id", id)
	}
}

func (s *bookingService) invalidate(ctx context.Context, entity string) {
	if err := s.cache.InvalidateEntity(ctx, entity); err != nil {
		logger.WarnContext(ctx, "Cache invalidation failed", "error", err, "entity", entity)
	}
}

// storeFailure logs unexpected store errors with their operation context
// and hides the detail behind a generic service error. Domain errors pass
// through untouched.
func (s *bookingService) storeFailure(ctx context.Context, op string, err error) error {
	if _, ok := domain.AsError(err); ok {
		return err
	}
	logger.ErrorContext(ctx, "Store operation failed", "operation", op, "error", err)
	return domain.NewError(domain.CodeInternalError, "service temporarily unavailable")
}

func patchChanges(patch domain.BookingPatch) []string {
	var changes []string
	if patch.ScheduledAt != nil {
		changes = append(changes, "scheduled_at")
	}
	if patch.Passengers != nil {
		changes = append(changes, "passengers")
	}
	if patch.Luggages != nil {
		changes = append(changes, "luggages")
	}
	if patch.SpecialRequests != nil {
		changes = append(changes, "special_requests")
	}
	if patch.Status != nil {
		changes = append(changes, "status")
	}
	if patch.PaymentStatus != nil {
		changes = append(changes, "payment_status")
	}
	return changes
}
