package domain

import "time"

// TrackingHistoryEntry is an immutable audit record of a booking state
// transition or notable event. Rows are written inside the same
// transaction as the mutation they document and are never updated.
type TrackingHistoryEntry struct {
	ID        int64     `json:"id"`
	BookingID int64     `json:"booking_id"`
	Location  *Location `json:"location,omitempty"`
	Status    string    `json:"status"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}
