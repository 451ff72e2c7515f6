package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/northgate/transfer-bookings/pkg/logger"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) error
	QueueSubscribe(subject, queue string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	ID        string
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	_, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		})
	})
	return err
}

func (n *NATSEventBus) QueueSubscribe(subject, queue string, handler func(msg *Message)) error {
	_, err := n.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		})
	})
	return err
}

func (n *NATSEventBus) Close() error {
	n.conn.Close()
	return nil
}

// Event subjects
const (
	// Booking lifecycle events
	BookingCreated  = "booking.created"
	BookingUpdated  = "booking.updated"
	BookingAssigned = "booking.assigned"
	BookingCanceled = "booking.canceled"

	// Driver matching
	MatchRequested = "match.requested"
	MatchFound     = "match.found"
)

// Event payloads
type BookingCreatedEvent struct {
	BookingID   int64     `json:"booking_id"`
	ClientID    string    `json:"client_id"`
	Pickup      string    `json:"pickup"`
	Dropoff     string    `json:"dropoff"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Passengers  int       `json:"passengers"`
	TotalPrice  float64   `json:"total_price"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"created_at"`
}

type BookingUpdatedEvent struct {
	BookingID int64     `json:"booking_id"`
	Changes   []string  `json:"changes"`
	UpdatedAt time.Time `json:"updated_at"`
}

type BookingAssignedEvent struct {
	BookingID  int64     `json:"booking_id"`
	DriverID   int64     `json:"driver_id"`
	VehicleID  int64     `json:"vehicle_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

type BookingCanceledEvent struct {
	BookingID        int64     `json:"booking_id"`
	Reason           string    `json:"reason"`
	ReleasedDriverID *int64    `json:"released_driver_id,omitempty"`
	CanceledAt       time.Time `json:"canceled_at"`
}

// MatchRequestedEvent carries everything the matcher needs so the worker
// never has to read the booking back before searching.
type MatchRequestedEvent struct {
	BookingID    int64     `json:"booking_id"`
	VehicleClass string    `json:"vehicle_class"`
	PickupLat    float64   `json:"pickup_lat"`
	PickupLng    float64   `json:"pickup_lng"`
	ScheduledAt  time.Time `json:"scheduled_at"`
}

type MatchFoundEvent struct {
	BookingID int64     `json:"booking_id"`
	DriverIDs []int64   `json:"driver_ids"`
	MatchedAt time.Time `json:"matched_at"`
}
