package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nazeru/medstore-orders-go/pkg/contracts"
	"github.com/nazeru/medstore-orders-go/pkg/kafka"
	"github.com/nazeru/medstore-orders-go/pkg/logging"
	"github.com/nazeru/medstore-orders-go/pkg/outbox"
)

// KafkaSink publishes every event keyed by order id. When the broker write
// fails and an outbox is configured the event is parked there for the Relay.
type KafkaSink struct {
	writer kafka.Writer
	topic  string
	outbox outbox.DB
}

func NewKafkaSink(w kafka.Writer, topic string, fallback outbox.DB) *KafkaSink {
	return &KafkaSink{writer: w, topic: topic, outbox: fallback}
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Deliver(ctx context.Context, e contracts.Event) error {
	err := kafka.PublishJSON(ctx, k.writer, messageKey(e), e)
	if err == nil {
		return nil
	}
	if k.outbox == nil {
		return err
	}
	if oerr := outbox.Park(ctx, k.outbox, e.EventID, k.topic, messageKey(e), e); oerr != nil {
		return errors.Join(err, fmt.Errorf("park in outbox: %w", oerr))
	}
	logging.Log(logging.Fields{Service: "events", OrderID: e.OrderID, EventID: e.EventID, Step: "deliver:kafka", Status: "parked", Message: err.Error()})
	return nil
}

func messageKey(e contracts.Event) string {
	if e.OrderID != "" {
		return e.OrderID
	}
	return e.EventID
}

// Relay re-publishes parked outbox rows.
type Relay struct {
	db       outbox.DB
	writer   kafka.Writer
	batch    int
	interval time.Duration
}

func NewRelay(db outbox.DB, w kafka.Writer, batch int, interval time.Duration) *Relay {
	if batch <= 0 {
		batch = 100
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Relay{db: db, writer: w, batch: batch, interval: interval}
}

// Flush sends one batch in id order and stops at the first broker failure so
// ordering per key is kept. Delivered rows are marked sent together.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	entries, err := outbox.Pending(ctx, r.db, r.batch)
	if err != nil {
		return 0, fmt.Errorf("fetch outbox: %w", err)
	}
	var sent []int64
	var pubErr error
	for _, e := range entries {
		if err := kafka.PublishRaw(ctx, r.writer, e.Key, e.Payload); err != nil {
			pubErr = fmt.Errorf("publish outbox %d (attempt %d): %w", e.ID, e.Attempts+1, err)
			if ferr := outbox.Failed(ctx, r.db, e.ID, err); ferr != nil {
				pubErr = errors.Join(pubErr, ferr)
			}
			break
		}
		sent = append(sent, e.ID)
	}
	if err := outbox.Sent(ctx, r.db, sent...); err != nil {
		return 0, errors.Join(pubErr, fmt.Errorf("mark outbox sent: %w", err))
	}
	return len(sent), pubErr
}

func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.Flush(ctx)
			if err != nil && ctx.Err() == nil {
				logging.Log(logging.Fields{Service: "events", Step: "outbox_relay", Status: "failed", Error: err.Error()})
			}
			if n > 0 {
				logging.Log(logging.Fields{Service: "events", Step: "outbox_relay", Status: "sent", Message: fmt.Sprintf("%d events", n)})
			}
		}
	}
}
