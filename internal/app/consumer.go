package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/transfa/card-ledger-service/internal/domain"
)

// IngestBindings are the routing key patterns the ingest queue is bound to.
var IngestBindings = []string{"card.event.#"}

// EventSubmitter is the slice of Service the consumer needs.
type EventSubmitter interface {
	SubmitEvent(ctx context.Context, ev domain.Event) (domain.Summary, error)
}

// EventConsumer applies card events delivered over AMQP.
type EventConsumer struct {
	service EventSubmitter
	logger  *slog.Logger
}

func NewEventConsumer(service EventSubmitter, logger *slog.Logger) *EventConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventConsumer{service: service, logger: logger}
}

// HandleMessage applies one delivery and reports whether it should be acked.
// Undecodable payloads and rejected events are acked: redelivering them would
// produce the same outcome.
func (c *EventConsumer) HandleMessage(body []byte) bool {
	var ev domain.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		c.logger.Warn("ingest: failed to unmarshal payload; dropping", "error", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if _, err := c.service.SubmitEvent(ctx, ev); err != nil {
		if _, ok := domain.AsRejection(err); ok {
			return true
		}
		c.logger.Error("ingest: processing error", "event_type", ev.Type, "txn_id", ev.TxnID, "error", err)
		return false
	}
	return true
}
