// Package notify turns order events read from the topic into stored
// notifications and customer mails.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/nazeru/medstore-orders-go/pkg/contracts"
	"github.com/nazeru/medstore-orders-go/pkg/logging"
)

const component = "notification-service"

type Mail struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers a customer mail. Delivery is best effort.
type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// LogMailer writes mails to the log instead of sending them.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, m Mail) error {
	logging.Log(logging.Fields{Service: component, Step: "mail", Status: "sent", Message: m.To + ": " + m.Subject})
	return nil
}

// Repository keeps the inbox and the notification log.
type Repository interface {
	// Record stores e once per event id and reports whether it was new.
	Record(ctx context.Context, e contracts.Event, recipient string) (bool, error)
	MarkMailed(ctx context.Context, eventID string) error
}

type Handler struct {
	repo        Repository
	mailer      Mailer
	mailTimeout time.Duration
}

func NewHandler(repo Repository, mailer Mailer) *Handler {
	if mailer == nil {
		mailer = LogMailer{}
	}
	return &Handler{repo: repo, mailer: mailer, mailTimeout: 10 * time.Second}
}

// Handle records the event and mails the customer for payment outcomes. Only
// storage errors are returned; a failed mail is logged and dropped.
func (h *Handler) Handle(ctx context.Context, e contracts.Event) error {
	if e.EventID == "" {
		return nil
	}
	mail, mailable := ComposeMail(e)
	fresh, err := h.repo.Record(ctx, e, mail.To)
	if err != nil {
		return fmt.Errorf("record %s: %w", e.EventID, err)
	}
	if !fresh {
		logging.Log(logging.Fields{Service: component, OrderID: e.OrderID, EventID: e.EventID, Step: e.Type, Status: "duplicate"})
		return nil
	}
	logging.Log(logging.Fields{Service: component, OrderID: e.OrderID, EventID: e.EventID, Step: e.Type, Status: "stored"})
	if !mailable {
		return nil
	}

	mctx, cancel := context.WithTimeout(ctx, h.mailTimeout)
	defer cancel()
	if err := h.mailer.Send(mctx, mail); err != nil {
		logging.Log(logging.Fields{Service: component, OrderID: e.OrderID, EventID: e.EventID, Step: "mail", Status: "failed", Error: err.Error()})
		return nil
	}
	if err := h.repo.MarkMailed(ctx, e.EventID); err != nil {
		logging.Log(logging.Fields{Service: component, OrderID: e.OrderID, EventID: e.EventID, Step: "mail", Status: "unmarked", Error: err.Error()})
	}
	return nil
}

// ComposeMail builds the customer mail for a payment outcome event. It
// reports false for events that do not mail anyone or carry no address.
func ComposeMail(e contracts.Event) (Mail, bool) {
	if !e.Mailable() {
		return Mail{}, false
	}
	to, _ := e.Payload["customerEmail"].(string)
	if to == "" {
		return Mail{}, false
	}
	name, _ := e.Payload["customerName"].(string)
	number := fmt.Sprint(e.Payload["orderNumber"])

	m := Mail{To: to}
	switch e.Type {
	case contracts.EventPaymentApproved:
		m.Subject = "Payment confirmed for order #" + number
		m.Body = fmt.Sprintf("Hello %s,\n\nwe have verified your bank transfer for order #%s. Your order is now being prepared.", name, number)
	case contracts.EventPaymentRejected:
		reason, _ := e.Payload["rejectionReason"].(string)
		m.Subject = "Payment proof for order #" + number + " was not accepted"
		m.Body = fmt.Sprintf("Hello %s,\n\nwe could not verify the payment proof for order #%s: %s\nPlease upload a new proof from your order page.", name, number, reason)
	case contracts.EventPaymentExpired:
		m.Subject = "Order #" + number + " was cancelled"
		m.Body = fmt.Sprintf("Hello %s,\n\nwe did not receive a payment for order #%s in time, so the order was cancelled.", name, number)
	}
	return m, true
}
