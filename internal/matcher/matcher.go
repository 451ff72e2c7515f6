package matcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/northgate/transfer-bookings/internal/domain"
	"github.com/northgate/transfer-bookings/internal/repo/postgres"
	"github.com/northgate/transfer-bookings/pkg/config"
	"github.com/northgate/transfer-bookings/pkg/events"
	"github.com/northgate/transfer-bookings/pkg/logger"
)

// Matcher finds compatible drivers for freshly created bookings. It is
// strictly best-effort: it runs detached from the request that created
// the booking, and no failure here ever reaches that caller.
//
// Geospatial ranking, driver notification and assignment timeouts are
// future extensions; the present contract only produces a candidate list.
type Matcher struct {
	drivers postgres.DriverRepository
	bus     events.EventBus
	cfg     config.MatchingConfig
}

func NewMatcher(drivers postgres.DriverRepository, bus events.EventBus, cfg config.MatchingConfig) *Matcher {
	return &Matcher{drivers: drivers, bus: bus, cfg: cfg}
}

// MatchDrivers queries the pool for approved, available drivers with an
// active vehicle of the requested class, capped at the configured limit.
func (m *Matcher) MatchDrivers(ctx context.Context, criteria domain.MatchCriteria) ([]domain.MatchCandidate, error) {
	limit := m.cfg.MaxCandidates
	if limit <= 0 {
		limit = 10
	}
	return m.drivers.FindCandidates(ctx, criteria.VehicleClass, limit)
}

// Start registers the queue subscription that drives matching. Running as
// a queue group means one worker handles each request even when several
// instances are up.
func (m *Matcher) Start() error {
	return m.bus.QueueSubscribe(events.MatchRequested, "matcher", m.handle)
}

func (m *Matcher) handle(msg *events.Message) {
	var req events.MatchRequestedEvent
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		logger.Error("Dropping malformed match request", "error", err, "subject", msg.Subject)
		return
	}

	criteria := domain.MatchCriteria{
		BookingID:     req.BookingID,
		VehicleClass:  domain.VehicleClass(req.VehicleClass),
		Origin:        domain.Location{Latitude: req.PickupLat, Longitude: req.PickupLng},
		ScheduledAt:   req.ScheduledAt,
		MaxDistanceKm: m.cfg.MaxDistanceKm,
	}

	var candidates []domain.MatchCandidate
	var err error
	for attempt := 0; attempt <= m.cfg.Retries; attempt++ {
		if attempt > 0 {
			time.Sleep(m.cfg.RetryBackoff * time.Duration(attempt))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		candidates, err = m.MatchDrivers(ctx, criteria)
		cancel()
		if err == nil {
			break
		}
		logger.Warn("Driver matching attempt failed",
			"error", err, "booking_id", req.BookingID, "attempt", attempt+1)
	}
	if err != nil {
		logger.Error("Driver matching gave up", "error", err, "booking_id", req.BookingID)
		return
	}

	if len(candidates) == 0 {
		logger.Info("No compatible drivers found", "booking_id", req.BookingID, "vehicle_class", req.VehicleClass)
		return
	}

	ids := make([]int64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.Driver.ID
	}
	logger.Info("Driver candidates found",
		"booking_id", req.BookingID, "vehicle_class", req.VehicleClass, "count", len(ids))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.bus.Publish(ctx, events.MatchFound, events.MatchFoundEvent{
		BookingID: req.BookingID,
		DriverIDs: ids,
		MatchedAt: time.Now(),
	}); err != nil {
		logger.Error("Failed to publish match result", "error", err, "booking_id", req.BookingID)
	}
}
