package domain

import "time"

// Driver availability as seen by this core. Driver records are owned by
// the driver-management collaborator; the only field this core ever
// mutates is IsAvailable.
type Driver struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Phone       string    `json:"phone"`
	IsAvailable bool      `json:"is_available"`
	IsApproved  bool      `json:"is_approved"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Vehicle struct {
	ID       int64        `json:"id"`
	DriverID int64        `json:"driver_id"`
	Class    VehicleClass `json:"class"`
	Plate    string       `json:"plate"`
	Model    string       `json:"model"`
	IsActive bool         `json:"is_active"`
}

// MatchCriteria describes what the driver matcher searches for.
type MatchCriteria struct {
	BookingID     int64        `json:"booking_id"`
	VehicleClass  VehicleClass `json:"vehicle_class"`
	Origin        Location     `json:"origin"`
	ScheduledAt   time.Time    `json:"scheduled_at"`
	MaxDistanceKm float64      `json:"max_distance_km"`
}

// MatchCandidate is a driver the matcher considers compatible.
type MatchCandidate struct {
	Driver  Driver  `json:"driver"`
	Vehicle Vehicle `json:"vehicle"`
}
