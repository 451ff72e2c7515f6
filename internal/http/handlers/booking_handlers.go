package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/northgate/transfer-bookings/internal/domain"
	mw "github.com/northgate/transfer-bookings/internal/http/middleware"
	"github.com/northgate/transfer-bookings/internal/http/response"
	"github.com/northgate/transfer-bookings/internal/service"
)

type Handlers struct {
	bookingService service.BookingService
}

func New(bookingService service.BookingService) *Handlers {
	return &Handlers{bookingService: bookingService}
}

// Routes mounts the booking API.
func (h *Handlers) Routes(r chi.Router) {
	r.Route("/bookings", func(r chi.Router) {
		r.Post("/", h.CreateBooking)
		r.Get("/{id}", h.GetBooking)
		r.Patch("/{id}", h.UpdateBooking)
		r.Delete("/{id}", h.CancelBooking)
		r.Post("/{id}/assign", h.AssignDriver)
		r.Get("/{id}/history", h.GetTrackingHistory)
	})
	r.Post("/estimates", h.CalculateEstimate)
	r.Post("/estimates/range", h.EstimateRange)
}

// CreateBooking handles booking creation
func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Fail(w, http.StatusBadRequest, domain.CodeValidationError, "invalid JSON body")
		return
	}
	if req.ClientID == "" {
		req.ClientID = mw.ActorFrom(r.Context())
	}

	booking, err := h.bookingService.CreateBooking(r.Context(), &req, r.Header.Get("Idempotency-Key"))
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, http.StatusCreated, booking)
}

// GetBooking returns a booking with driver, vehicle and history
func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	detail, err := h.bookingService.GetBookingByID(r.Context(), id)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, http.StatusOK, detail)
}

// UpdateBooking applies a partial update
func (h *Handlers) UpdateBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var patch domain.BookingPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		response.Fail(w, http.StatusBadRequest, domain.CodeValidationError, "invalid JSON body")
		return
	}

	booking, err := h.bookingService.UpdateBooking(r.Context(), id, patch, mw.ActorFrom(r.Context()))
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, http.StatusOK, booking)
}

type assignRequest struct {
	DriverID  int64 `json:"driver_id"`
	VehicleID int64 `json:"vehicle_id"`
}

// AssignDriver confirms a pending booking onto a driver and vehicle
func (h *Handlers) AssignDriver(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Fail(w, http.StatusBadRequest, domain.CodeValidationError, "invalid JSON body")
		return
	}
	if req.DriverID <= 0 || req.VehicleID <= 0 {
		response.Fail(w, http.StatusBadRequest, domain.CodeValidationError, "driver_id and vehicle_id are required")
		return
	}

	booking, err := h.bookingService.AssignDriver(r.Context(), id, req.DriverID, req.VehicleID)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, http.StatusOK, booking)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// CancelBooking moves the booking to its cancelled terminal state
func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req cancelRequest
	if r.Body != nil {
		// A missing or empty body is fine; the reason just defaults.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "client_requested"
	}

	booking, err := h.bookingService.CancelBooking(r.Context(), id, req.Reason, mw.ActorFrom(r.Context()))
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, http.StatusOK, booking)
}

// GetTrackingHistory lists the audit trail, newest first by default
func (h *Handlers) GetTrackingHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	ascending := r.URL.Query().Get("order") == "asc"
	entries, err := h.bookingService.GetTrackingHistory(r.Context(), id, ascending)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, http.StatusOK, entries)
}

type estimateRequest struct {
	Pickup       domain.Location     `json:"pickup"`
	Dropoff      domain.Location     `json:"dropoff"`
	VehicleClass domain.VehicleClass `json:"vehicle_class"`
	ScheduledAt  time.Time           `json:"scheduled_at"`
}

// CalculateEstimate returns a full price breakdown without persisting
// anything
func (h *Handlers) CalculateEstimate(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Fail(w, http.StatusBadRequest, domain.CodeValidationError, "invalid JSON body")
		return
	}

	breakdown, err := h.bookingService.CalculatePriceEstimate(r.Context(), req.Pickup, req.Dropoff, req.VehicleClass, req.ScheduledAt)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, http.StatusOK, breakdown)
}

type rangeResponse struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// EstimateRange returns the cheap min/max envelope shown before a real
// booking exists
func (h *Handlers) EstimateRange(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Fail(w, http.StatusBadRequest, domain.CodeValidationError, "invalid JSON body")
		return
	}

	min, max, err := h.bookingService.EstimatePriceRange(r.Context(), req.Pickup, req.Dropoff, req.VehicleClass)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, http.StatusOK, rangeResponse{Min: min, Max: max})
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		response.Fail(w, http.StatusBadRequest, domain.CodeValidationError, "invalid booking id")
		return 0, false
	}
	return id, true
}
