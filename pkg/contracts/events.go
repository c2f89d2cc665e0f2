package contracts

import (
	"time"

	"github.com/google/uuid"
)

type Event struct {
	EventID   string         `json:"event_id"`
	OrderID   string         `json:"order_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
}

const (
	EventNewOrder          = "newOrder"
	EventOrderStatusUpdate = "orderStatusUpdate"
	EventPaymentSubmitted  = "paymentSubmitted"
	EventPaymentApproved   = "paymentApproved"
	EventPaymentRejected   = "paymentRejected"
	EventPaymentExpired    = "paymentExpired"
	EventAnalyticsUpdate   = "analyticsUpdate"
)

func NewEvent(typ, orderID, userID string, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		EventID:   uuid.NewString(),
		OrderID:   orderID,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		Type:      typ,
		Payload:   payload,
	}
}

// CustomerFacing reports whether the order's customer should see the event.
// Admin observers receive every event.
func (e Event) CustomerFacing() bool {
	switch e.Type {
	case EventOrderStatusUpdate, EventPaymentApproved, EventPaymentRejected, EventPaymentExpired:
		return true
	}
	return false
}

// Mailable reports whether the event triggers a customer email.
func (e Event) Mailable() bool {
	switch e.Type {
	case EventPaymentApproved, EventPaymentRejected, EventPaymentExpired:
		return true
	}
	return false
}
