package matcher_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/northgate/transfer-bookings/internal/domain"
	"github.com/northgate/transfer-bookings/internal/matcher"
	"github.com/northgate/transfer-bookings/pkg/config"
	"github.com/northgate/transfer-bookings/pkg/events"
)

type mockDriverRepo struct {
	mu         sync.Mutex
	candidates []domain.MatchCandidate
	failures   int // fail this many calls before succeeding
	calls      int
	lastLimit  int
}

func (m *mockDriverRepo) GetByID(context.Context, int64) (*domain.Driver, error) { return nil, nil }

func (m *mockDriverRepo) SetAvailability(context.Context, int64, bool) error { return nil }

func (m *mockDriverRepo) FindCandidates(_ context.Context, _ domain.VehicleClass, limit int) ([]domain.MatchCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastLimit = limit
	if m.calls <= m.failures {
		return nil, errors.New("connection reset")
	}
	return m.candidates, nil
}

// mockBus records published events and hands the registered handler back
// to the test so it can feed messages in directly.
type mockBus struct {
	mu        sync.Mutex
	handler   func(msg *events.Message)
	published []events.MatchFoundEvent
}

func (m *mockBus) Publish(_ context.Context, subject string, data interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subject == events.MatchFound {
		m.published = append(m.published, data.(events.MatchFoundEvent))
	}
	return nil
}

func (m *mockBus) Subscribe(string, func(msg *events.Message)) error { return nil }

func (m *mockBus) QueueSubscribe(_, _ string, handler func(msg *events.Message)) error {
	m.handler = handler
	return nil
}

func (m *mockBus) Close() error { return nil }

func (m *mockBus) deliver(t *testing.T, payload events.MatchRequestedEvent) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	m.handler(&events.Message{
		Subject:   events.MatchRequested,
		Data:      raw,
		Timestamp: time.Now(),
	})
}

func testMatchingConfig() config.MatchingConfig {
	return config.MatchingConfig{
		MaxCandidates: 5,
		MaxDistanceKm: 30,
		Retries:       2,
		RetryBackoff:  time.Millisecond,
	}
}

func candidates(ids ...int64) []domain.MatchCandidate {
	out := make([]domain.MatchCandidate, len(ids))
	for i, id := range ids {
		out[i] = domain.MatchCandidate{
			Driver:  domain.Driver{ID: id, IsAvailable: true, IsApproved: true},
			Vehicle: domain.Vehicle{ID: id * 100, DriverID: id, Class: domain.ClassBusiness, IsActive: true},
		}
	}
	return out
}

func TestMatchDrivers_UsesConfiguredLimit(t *testing.T) {
	repo := &mockDriverRepo{candidates: candidates(1, 2)}
	m := matcher.NewMatcher(repo, &mockBus{}, testMatchingConfig())

	got, err := m.MatchDrivers(context.Background(), domain.MatchCriteria{VehicleClass: domain.ClassBusiness})
	if err != nil {
		t.Fatalf("MatchDrivers failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 candidates, got %d", len(got))
	}
	if repo.lastLimit != 5 {
		t.Errorf("expected limit 5, got %d", repo.lastLimit)
	}
}

func TestHandle_PublishesMatchFound(t *testing.T) {
	repo := &mockDriverRepo{candidates: candidates(7, 9)}
	bus := &mockBus{}
	m := matcher.NewMatcher(repo, bus, testMatchingConfig())
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	bus.deliver(t, events.MatchRequestedEvent{
		BookingID:    42,
		VehicleClass: "business",
		PickupLat:    22.3,
		PickupLng:    114.17,
		ScheduledAt:  time.Now().Add(time.Hour),
	})

	if len(bus.published) != 1 {
		t.Fatalf("expected one match.found event, got %d", len(bus.published))
	}
	found := bus.published[0]
	if found.BookingID != 42 {
		t.Errorf("expected booking 42, got %d", found.BookingID)
	}
	if len(found.DriverIDs) != 2 || found.DriverIDs[0] != 7 || found.DriverIDs[1] != 9 {
		t.Errorf("unexpected driver ids: %v", found.DriverIDs)
	}
}

func TestHandle_RetriesTransientFailures(t *testing.T) {
	repo := &mockDriverRepo{candidates: candidates(7), failures: 2}
	bus := &mockBus{}
	m := matcher.NewMatcher(repo, bus, testMatchingConfig())
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	bus.deliver(t, events.MatchRequestedEvent{BookingID: 1, VehicleClass: "business"})

	if repo.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", repo.calls)
	}
	if len(bus.published) != 1 {
		t.Errorf("expected a match.found after retries, got %d", len(bus.published))
	}
}

func TestHandle_GivesUpAfterRetries(t *testing.T) {
	repo := &mockDriverRepo{failures: 10}
	bus := &mockBus{}
	m := matcher.NewMatcher(repo, bus, testMatchingConfig())
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	bus.deliver(t, events.MatchRequestedEvent{BookingID: 1, VehicleClass: "business"})

	if repo.calls != 3 {
		t.Errorf("expected 3 attempts before giving up, got %d", repo.calls)
	}
	if len(bus.published) != 0 {
		t.Errorf("no match.found expected after give-up, got %d", len(bus.published))
	}
}

func TestHandle_NoCandidatesPublishesNothing(t *testing.T) {
	repo := &mockDriverRepo{}
	bus := &mockBus{}
	m := matcher.NewMatcher(repo, bus, testMatchingConfig())
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	bus.deliver(t, events.MatchRequestedEvent{BookingID: 1, VehicleClass: "van"})

	if len(bus.published) != 0 {
		t.Errorf("expected no match.found, got %d", len(bus.published))
	}
}

func TestHandle_MalformedPayloadIgnored(t *testing.T) {
	repo := &mockDriverRepo{candidates: candidates(7)}
	bus := &mockBus{}
	m := matcher.NewMatcher(repo, bus, testMatchingConfig())
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	bus.handler(&events.Message{Subject: events.MatchRequested, Data: []byte("{broken")})

	if repo.calls != 0 {
		t.Errorf("malformed payload must not reach the repository, got %d calls", repo.calls)
	}
}
