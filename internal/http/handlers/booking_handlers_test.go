package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/northgate/transfer-bookings/internal/domain"
	"github.com/northgate/transfer-bookings/internal/http/handlers"
)

// ---------- Mocks ----------

type mockService struct {
	nextID   int64
	bookings map[int64]*domain.Booking
	history  map[int64][]domain.TrackingHistoryEntry
	byKey    map[string]int64 // idempotency key -> booking id
	drivers  map[int64]bool   // driver id -> available
}

func newMockService() *mockService {
	return &mockService{
		nextID:   1,
		bookings: make(map[int64]*domain.Booking),
		history:  make(map[int64][]domain.TrackingHistoryEntry),
		byKey:    make(map[string]int64),
		drivers:  make(map[int64]bool),
	}
}

func (m *mockService) CreateBooking(_ context.Context, req *domain.CreateBookingRequest, idempotencyKey string) (*domain.Booking, error) {
	if err := req.Validate(time.Now()); err != nil {
		return nil, err
	}
	if idempotencyKey != "" {
		if id, ok := m.byKey[idempotencyKey]; ok {
			return m.bookings[id], nil
		}
	}

	id := m.nextID
	m.nextID++
	booking := &domain.Booking{
		ID:           id,
		ManageToken:  fmt.Sprintf("token-%d", id),
		ClientID:     req.ClientID,
		Status:       domain.BookingPending,
		Pickup:       req.Pickup,
		Dropoff:      req.Dropoff,
		ScheduledAt:  req.ScheduledAt,
		BasePrice:    225,
		TotalPrice:   425,
		Currency:     "HKD",
		Passengers:   req.Passengers,
		Luggages:     req.Luggages,
		VehicleClass: req.VehicleClass,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	m.bookings[id] = booking
	if idempotencyKey != "" {
		m.byKey[idempotencyKey] = id
	}
	return booking, nil
}

func (m *mockService) GetBookingByID(_ context.Context, id int64) (*domain.BookingDetail, error) {
	b, ok := m.bookings[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	return &domain.BookingDetail{Booking: *b, History: m.history[id]}, nil
}

func (m *mockService) UpdateBooking(_ context.Context, id int64, patch domain.BookingPatch, _ string) (*domain.Booking, error) {
	if err := patch.Validate(time.Now()); err != nil {
		return nil, err
	}
	b, ok := m.bookings[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	if b.Status.IsTerminal() {
		return nil, domain.ErrBookingNotUpdatable
	}
	if patch.Passengers != nil {
		b.Passengers = *patch.Passengers
	}
	if patch.Status != nil {
		if !domain.CanTransition(b.Status, *patch.Status) {
			return nil, domain.NewValidationError(map[string]string{"status": "illegal transition"})
		}
		b.Status = *patch.Status
	}
	return b, nil
}

func (m *mockService) AssignDriver(_ context.Context, bookingID, driverID, vehicleID int64) (*domain.Booking, error) {
	if available, ok := m.drivers[driverID]; !ok || !available {
		return nil, domain.ErrDriverNotAvailable
	}
	b, ok := m.bookings[bookingID]
	if !ok || b.Status != domain.BookingPending {
		return nil, domain.ErrBookingNotAssignable
	}
	m.drivers[driverID] = false
	b.Status = domain.BookingConfirmed
	b.DriverID = &driverID
	b.VehicleID = &vehicleID
	return b, nil
}

func (m *mockService) CancelBooking(_ context.Context, id int64, reason, _ string) (*domain.Booking, error) {
	b, ok := m.bookings[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	if !domain.CanTransition(b.Status, domain.BookingCancelled) {
		return nil, domain.ErrBookingNotCancellable
	}
	if b.DriverID != nil {
		m.drivers[*b.DriverID] = true
	}
	b.Status = domain.BookingCancelled
	b.CancellationReason = &reason
	b.DriverID = nil
	b.VehicleID = nil
	return b, nil
}

func (m *mockService) CalculatePriceEstimate(_ context.Context, pickup, dropoff domain.Location, class domain.VehicleClass, _ time.Time) (*domain.PriceBreakdown, error) {
	if !pickup.ValidCoordinates() || !dropoff.ValidCoordinates() {
		return nil, domain.NewValidationError(map[string]string{"pickup": "invalid coordinates"})
	}
	return &domain.PriceBreakdown{
		BasePrice:  225,
		TotalPrice: 425,
		Currency:   "HKD",
		Surcharges: []domain.Surcharge{{Name: "cross_border", Amount: 200}},
	}, nil
}

func (m *mockService) EstimatePriceRange(_ context.Context, pickup, dropoff domain.Location, _ domain.VehicleClass) (float64, float64, error) {
	if !pickup.ValidCoordinates() || !dropoff.ValidCoordinates() {
		return 0, 0, domain.NewValidationError(map[string]string{"pickup": "invalid coordinates"})
	}
	return 225, 338, nil
}

func (m *mockService) GetTrackingHistory(_ context.Context, bookingID int64, _ bool) ([]domain.TrackingHistoryEntry, error) {
	if _, ok := m.bookings[bookingID]; !ok {
		return nil, domain.ErrBookingNotFound
	}
	return m.history[bookingID], nil
}

// ---------- Test Setup ----------

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

func setupTestServer() (*httptest.Server, *mockService) {
	svc := newMockService()
	h := handlers.New(svc)

	r := chi.NewRouter()
	r.Route("/v1", h.Routes)

	return httptest.NewServer(r), svc
}

func doJSON(t *testing.T, method, url string, body any, wantStatus int) envelope {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: status %d, want %d", method, url, resp.StatusCode, wantStatus)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func createRequestBody() map[string]any {
	return map[string]any{
		"client_id": "client-1",
		"pickup": map[string]any{
			"address": "Tsim Sha Tsui", "latitude": 22.2988, "longitude": 114.1722, "jurisdiction": "HK",
		},
		"dropoff": map[string]any{
			"address": "Futian", "latitude": 22.5410, "longitude": 114.0550, "jurisdiction": "CN",
		},
		"scheduled_at":  time.Now().Add(24 * time.Hour).Format(time.RFC3339),
		"vehicle_class": "business",
		"passengers":    2,
		"luggages":      3,
	}
}

// ---------- Tests ----------

func TestCreateBooking_Success(t *testing.T) {
	server, _ := setupTestServer()
	defer server.Close()

	env := doJSON(t, http.MethodPost, server.URL+"/v1/bookings", createRequestBody(), http.StatusCreated)
	if !env.Success {
		t.Fatalf("expected success envelope, got error %+v", env.Error)
	}

	var booking domain.Booking
	if err := json.Unmarshal(env.Data, &booking); err != nil {
		t.Fatalf("decode booking: %v", err)
	}
	if booking.ID == 0 || booking.Status != domain.BookingPending {
		t.Errorf("unexpected booking: id=%d status=%s", booking.ID, booking.Status)
	}
}

func TestCreateBooking_PastDateValidationEnvelope(t *testing.T) {
	server, _ := setupTestServer()
	defer server.Close()

	body := createRequestBody()
	body["scheduled_at"] = time.Now().Add(-time.Hour).Format(time.RFC3339)

	env := doJSON(t, http.MethodPost, server.URL+"/v1/bookings", body, http.StatusBadRequest)
	if env.Success {
		t.Fatal("expected failure envelope")
	}
	if env.Error == nil || env.Error.Code != domain.CodeValidationError {
		t.Fatalf("expected %s, got %+v", domain.CodeValidationError, env.Error)
	}
	if env.Error.Fields["scheduled_at"] == "" {
		t.Errorf("expected a field-level message for scheduled_at, got %v", env.Error.Fields)
	}
}

func TestCreateBooking_MalformedJSON(t *testing.T) {
	server, _ := setupTestServer()
	defer server.Close()

	resp, err := http.Post(server.URL+"/v1/bookings", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.StatusCode)
	}
}

func TestCreateBooking_IdempotencyKeyReplays(t *testing.T) {
	server, _ := setupTestServer()
	defer server.Close()

	body, _ := json.Marshal(createRequestBody())

	send := func() domain.Booking {
		req, _ := http.NewRequest(http.MethodPost, server.URL+"/v1/bookings", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", "retry-123")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status %d, want 201", resp.StatusCode)
		}
		var env envelope
		json.NewDecoder(resp.Body).Decode(&env)
		var b domain.Booking
		json.Unmarshal(env.Data, &b)
		return b
	}

	first := send()
	second := send()
	if first.ID != second.ID {
		t.Errorf("replay created a second booking: %d vs %d", first.ID, second.ID)
	}
}

func TestGetBooking_NotFound(t *testing.T) {
	server, _ := setupTestServer()
	defer server.Close()

	env := doJSON(t, http.MethodGet, server.URL+"/v1/bookings/999", nil, http.StatusNotFound)
	if env.Error == nil || env.Error.Code != domain.CodeBookingNotFound {
		t.Fatalf("expected %s, got %+v", domain.CodeBookingNotFound, env.Error)
	}
}

func TestGetBooking_InvalidID(t *testing.T) {
	server, _ := setupTestServer()
	defer server.Close()

	env := doJSON(t, http.MethodGet, server.URL+"/v1/bookings/abc", nil, http.StatusBadRequest)
	if env.Error == nil || env.Error.Code != domain.CodeValidationError {
		t.Fatalf("expected %s, got %+v", domain.CodeValidationError, env.Error)
	}
}

func TestAssignDriver_ConflictEnvelope(t *testing.T) {
	server, svc := setupTestServer()
	defer server.Close()

	doJSON(t, http.MethodPost, server.URL+"/v1/bookings", createRequestBody(), http.StatusCreated)

	// Driver 7 exists but is already out on a trip.
	svc.drivers[7] = false

	env := doJSON(t, http.MethodPost, server.URL+"/v1/bookings/1/assign",
		map[string]any{"driver_id": 7, "vehicle_id": 3}, http.StatusConflict)
	if env.Error == nil || env.Error.Code != domain.CodeDriverNotAvailable {
		t.Fatalf("expected %s, got %+v", domain.CodeDriverNotAvailable, env.Error)
	}
}

func TestAssignDriver_Success(t *testing.T) {
	server, svc := setupTestServer()
	defer server.Close()

	doJSON(t, http.MethodPost, server.URL+"/v1/bookings", createRequestBody(), http.StatusCreated)
	svc.drivers[7] = true

	env := doJSON(t, http.MethodPost, server.URL+"/v1/bookings/1/assign",
		map[string]any{"driver_id": 7, "vehicle_id": 3}, http.StatusOK)

	var booking domain.Booking
	if err := json.Unmarshal(env.Data, &booking); err != nil {
		t.Fatalf("decode booking: %v", err)
	}
	if booking.Status != domain.BookingConfirmed {
		t.Errorf("expected confirmed, got %s", booking.Status)
	}
	if booking.DriverID == nil || *booking.DriverID != 7 {
		t.Errorf("expected driver 7, got %v", booking.DriverID)
	}
}

func TestAssignDriver_MissingIDs(t *testing.T) {
	server, _ := setupTestServer()
	defer server.Close()

	doJSON(t, http.MethodPost, server.URL+"/v1/bookings", createRequestBody(), http.StatusCreated)

	env := doJSON(t, http.MethodPost, server.URL+"/v1/bookings/1/assign",
		map[string]any{"driver_id": 0}, http.StatusBadRequest)
	if env.Error == nil || env.Error.Code != domain.CodeValidationError {
		t.Fatalf("expected %s, got %+v", domain.CodeValidationError, env.Error)
	}
}

func TestCancelBooking_Success(t *testing.T) {
	server, _ := setupTestServer()
	defer server.Close()

	doJSON(t, http.MethodPost, server.URL+"/v1/bookings", createRequestBody(), http.StatusCreated)

	env := doJSON(t, http.MethodDelete, server.URL+"/v1/bookings/1",
		map[string]any{"reason": "plans changed"}, http.StatusOK)

	var booking domain.Booking
	if err := json.Unmarshal(env.Data, &booking); err != nil {
		t.Fatalf("decode booking: %v", err)
	}
	if booking.Status != domain.BookingCancelled {
		t.Errorf("expected cancelled, got %s", booking.Status)
	}
	if booking.CancellationReason == nil || *booking.CancellationReason != "plans changed" {
		t.Errorf("expected reason recorded, got %v", booking.CancellationReason)
	}
}

func TestCancelBooking_TerminalConflict(t *testing.T) {
	server, svc := setupTestServer()
	defer server.Close()

	doJSON(t, http.MethodPost, server.URL+"/v1/bookings", createRequestBody(), http.StatusCreated)
	svc.bookings[1].Status = domain.BookingCompleted

	env := doJSON(t, http.MethodDelete, server.URL+"/v1/bookings/1", nil, http.StatusConflict)
	if env.Error == nil || env.Error.Code != domain.CodeBookingNotCancellable {
		t.Fatalf("expected %s, got %+v", domain.CodeBookingNotCancellable, env.Error)
	}
}

func TestUpdateBooking_IllegalTransitionEnvelope(t *testing.T) {
	server, _ := setupTestServer()
	defer server.Close()

	doJSON(t, http.MethodPost, server.URL+"/v1/bookings", createRequestBody(), http.StatusCreated)

	env := doJSON(t, http.MethodPatch, server.URL+"/v1/bookings/1",
		map[string]any{"status": "completed"}, http.StatusBadRequest)
	if env.Error == nil || env.Error.Code != domain.CodeValidationError {
		t.Fatalf("expected %s, got %+v", domain.CodeValidationError, env.Error)
	}
}

func TestTrackingHistory_Endpoint(t *testing.T) {
	server, svc := setupTestServer()
	defer server.Close()

	doJSON(t, http.MethodPost, server.URL+"/v1/bookings", createRequestBody(), http.StatusCreated)
	svc.history[1] = []domain.TrackingHistoryEntry{
		{ID: 1, BookingID: 1, Status: "pending", Note: "Booking created"},
	}

	env := doJSON(t, http.MethodGet, server.URL+"/v1/bookings/1/history?order=asc", nil, http.StatusOK)

	var entries []domain.TrackingHistoryEntry
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(entries) != 1 || entries[0].Note != "Booking created" {
		t.Errorf("unexpected history: %+v", entries)
	}
}

func TestEstimate_Success(t *testing.T) {
	server, _ := setupTestServer()
	defer server.Close()

	body := map[string]any{
		"pickup":        map[string]any{"latitude": 22.2988, "longitude": 114.1722, "jurisdiction": "HK"},
		"dropoff":       map[string]any{"latitude": 22.5410, "longitude": 114.0550, "jurisdiction": "CN"},
		"vehicle_class": "business",
		"scheduled_at":  time.Now().Add(time.Hour).Format(time.RFC3339),
	}
	env := doJSON(t, http.MethodPost, server.URL+"/v1/estimates", body, http.StatusOK)

	var breakdown domain.PriceBreakdown
	if err := json.Unmarshal(env.Data, &breakdown); err != nil {
		t.Fatalf("decode breakdown: %v", err)
	}
	if breakdown.TotalPrice != 425 {
		t.Errorf("expected total 425, got %f", breakdown.TotalPrice)
	}
}

func TestEstimateRange_Success(t *testing.T) {
	server, _ := setupTestServer()
	defer server.Close()

	body := map[string]any{
		"pickup":        map[string]any{"latitude": 22.2988, "longitude": 114.1722},
		"dropoff":       map[string]any{"latitude": 22.5410, "longitude": 114.0550},
		"vehicle_class": "standard",
	}
	env := doJSON(t, http.MethodPost, server.URL+"/v1/estimates/range", body, http.StatusOK)

	var r struct {
		Min float64 `json:"min"`
		Max float64 `json:"max"`
	}
	if err := json.Unmarshal(env.Data, &r); err != nil {
		t.Fatalf("decode range: %v", err)
	}
	if r.Min != 225 || r.Max != 338 {
		t.Errorf("unexpected range [%f, %f]", r.Min, r.Max)
	}
}
