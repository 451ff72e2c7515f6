package domain

import (
	"time"
)

type BookingStatus string

const (
	BookingPending    BookingStatus = "pending"
	BookingConfirmed  BookingStatus = "confirmed"
	BookingInProgress BookingStatus = "in_progress"
	BookingCompleted  BookingStatus = "completed"
	BookingCancelled  BookingStatus = "cancelled"
)

func ParseBookingStatus(s string) (BookingStatus, bool) {
	switch BookingStatus(s) {
	case BookingPending, BookingConfirmed, BookingInProgress, BookingCompleted, BookingCancelled:
		return BookingStatus(s), true
	default:
		return "", false
	}
}

// allowedTransitions is the single source of truth for the booking state
// flow. Status checks everywhere else go through CanTransition/IsTerminal.
var allowedTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:    {BookingConfirmed, BookingCancelled},
	BookingConfirmed:  {BookingInProgress, BookingCancelled},
	BookingInProgress: {BookingCompleted},
}

func CanTransition(from, to BookingStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is permitted.
func (s BookingStatus) IsTerminal() bool {
	return len(allowedTransitions[s]) == 0
}

type VehicleClass string

const (
	ClassStandard VehicleClass = "standard"
	ClassBusiness VehicleClass = "business"
	ClassLuxury   VehicleClass = "luxury"
	ClassVan      VehicleClass = "van"
)

// Location is a pickup or dropoff point. Jurisdiction tags detect
// cross-border trips; an empty tag means unknown and never triggers the
// border surcharge.
type Location struct {
	Address      string  `json:"address"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Jurisdiction string  `json:"jurisdiction"`
}

func (l Location) ValidCoordinates() bool {
	return l.Latitude >= -90 && l.Latitude <= 90 &&
		l.Longitude >= -180 && l.Longitude <= 180
}

// CrossBorder reports whether a trip between the two locations crosses a
// jurisdiction boundary. Both tags must be known.
func CrossBorder(pickup, dropoff Location) bool {
	return pickup.Jurisdiction != "" && dropoff.Jurisdiction != "" &&
		pickup.Jurisdiction != dropoff.Jurisdiction
}

// Surcharge is a named signed price adjustment. Order matters for display
// and for the audit trail, so surcharges are a slice, not a map.
type Surcharge struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

// PriceBreakdown is produced by the pricing engine and embedded into the
// booking at creation time. It is never recomputed afterward.
type PriceBreakdown struct {
	BasePrice       float64     `json:"base_price"`
	Surcharges      []Surcharge `json:"surcharges"`
	TotalPrice      float64     `json:"total_price"`
	Currency        string      `json:"currency"`
	DistanceKm      float64     `json:"distance_km"`
	DurationMinutes int         `json:"duration_minutes"`
}

type Booking struct {
	ID                 int64         `json:"id"`
	ManageToken        string        `json:"manage_token,omitempty"`
	ClientID           string        `json:"client_id"`
	Status             BookingStatus `json:"status"`
	Pickup             Location      `json:"pickup"`
	Dropoff            Location      `json:"dropoff"`
	ScheduledAt        time.Time     `json:"scheduled_at"`
	DistanceKm         float64       `json:"distance_km"`
	DurationMinutes    int           `json:"duration_minutes"`
	BasePrice          float64       `json:"base_price"`
	Surcharges         []Surcharge   `json:"surcharges"`
	TotalPrice         float64       `json:"total_price"`
	Currency           string        `json:"currency"`
	PaymentStatus      string        `json:"payment_status"`
	Passengers         int           `json:"passengers"`
	Luggages           int           `json:"luggages"`
	SpecialRequests    string        `json:"special_requests"`
	VehicleClass       VehicleClass  `json:"vehicle_class"`
	DriverID           *int64        `json:"driver_id,omitempty"`
	VehicleID          *int64        `json:"vehicle_id,omitempty"`
	CancellationReason *string       `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// BookingDetail is a booking together with its related records, the shape
// returned by lookups (and the shape that gets cached).
type BookingDetail struct {
	Booking Booking                `json:"booking"`
	Driver  *Driver                `json:"driver,omitempty"`
	Vehicle *Vehicle               `json:"vehicle,omitempty"`
	History []TrackingHistoryEntry `json:"history,omitempty"`
}

// Business rules
const (
	MinPassengers = 1
	MaxPassengers = 8
	MinLuggages   = 0
	MaxLuggages   = 10
)

type CreateBookingRequest struct {
	ClientID        string       `json:"client_id"`
	Pickup          Location     `json:"pickup"`
	Dropoff         Location     `json:"dropoff"`
	ScheduledAt     time.Time    `json:"scheduled_at"`
	VehicleClass    VehicleClass `json:"vehicle_class"`
	Passengers      int          `json:"passengers"`
	Luggages        int          `json:"luggages"`
	SpecialRequests string       `json:"special_requests"`
}

// Validate rejects malformed payloads before anything touches the store.
func (r *CreateBookingRequest) Validate(now time.Time) error {
	fields := map[string]string{}
	if !r.Pickup.ValidCoordinates() {
		fields["pickup"] = "latitude must be in [-90,90] and longitude in [-180,180]"
	}
	if !r.Dropoff.ValidCoordinates() {
		fields["dropoff"] = "latitude must be in [-90,90] and longitude in [-180,180]"
	}
	if r.ScheduledAt.IsZero() || !r.ScheduledAt.After(now) {
		fields["scheduled_at"] = "scheduled time must be in the future"
	}
	if r.Passengers < MinPassengers || r.Passengers > MaxPassengers {
		fields["passengers"] = "must be between 1 and 8"
	}
	if r.Luggages < MinLuggages || r.Luggages > MaxLuggages {
		fields["luggages"] = "must be between 0 and 10"
	}
	if len(fields) > 0 {
		return NewValidationError(fields)
	}
	return nil
}

// BookingPatch carries partial updates. Nil pointers leave fields alone.
type BookingPatch struct {
	ScheduledAt     *time.Time     `json:"scheduled_at,omitempty"`
	Passengers      *int           `json:"passengers,omitempty"`
	Luggages        *int           `json:"luggages,omitempty"`
	SpecialRequests *string        `json:"special_requests,omitempty"`
	Status          *BookingStatus `json:"status,omitempty"`
	PaymentStatus   *string        `json:"payment_status,omitempty"`
}

func (p *BookingPatch) Validate(now time.Time) error {
	fields := map[string]string{}
	if p.ScheduledAt != nil && !p.ScheduledAt.After(now) {
		fields["scheduled_at"] = "scheduled time must be in the future"
	}
	if p.Passengers != nil && (*p.Passengers < MinPassengers || *p.Passengers > MaxPassengers) {
		fields["passengers"] = "must be between 1 and 8"
	}
	if p.Luggages != nil && (*p.Luggages < MinLuggages || *p.Luggages > MaxLuggages) {
		fields["luggages"] = "must be between 0 and 10"
	}
	if p.Status != nil {
		if _, ok := ParseBookingStatus(string(*p.Status)); !ok {
			fields["status"] = "unknown status"
		}
	}
	if len(fields) > 0 {
		return NewValidationError(fields)
	}
	return nil
}
