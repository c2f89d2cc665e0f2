package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nazeru/medstore-orders-go/pkg/contracts"
	"github.com/nazeru/medstore-orders-go/pkg/kafka"
	"github.com/nazeru/medstore-orders-go/pkg/logging"
)

// Consumer reads the order topic and commits a message only after the
// handler stored it. Undecodable messages are committed and skipped.
type Consumer struct {
	reader  kafka.Reader
	handler *Handler
	backoff time.Duration
}

func NewConsumer(r kafka.Reader, h *Handler) *Consumer {
	return &Consumer{reader: r, handler: h, backoff: 2 * time.Second}
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Log(logging.Fields{Service: component, Step: "kafka_read", Status: "failed", Error: err.Error()})
			if !c.sleep(ctx) {
				return
			}
			continue
		}

		var evt contracts.Event
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			logging.Log(logging.Fields{Service: component, Step: "decode", Status: "skipped", Error: err.Error()})
		} else if !c.handle(ctx, evt) {
			return
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logging.Log(logging.Fields{Service: component, EventID: evt.EventID, Step: "kafka_commit", Status: "failed", Error: err.Error()})
		}
	}
}

// handle retries until the event is stored. It returns false when ctx ends.
func (c *Consumer) handle(ctx context.Context, evt contracts.Event) bool {
	for {
		err := c.handler.Handle(ctx, evt)
		if err == nil {
			return true
		}
		logging.Log(logging.Fields{Service: component, OrderID: evt.OrderID, EventID: evt.EventID, Step: evt.Type, Status: "failed", Error: err.Error()})
		if !c.sleep(ctx) {
			return false
		}
	}
}

func (c *Consumer) sleep(ctx context.Context) bool {
	t := time.NewTimer(c.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
