package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a card lifecycle event.
type EventType string

const (
	EventTxnAuthed        EventType = "TXN_AUTHED"
	EventTxnSettled       EventType = "TXN_SETTLED"
	EventPaymentInitiated EventType = "PAYMENT_INITIATED"
	EventPaymentPosted    EventType = "PAYMENT_POSTED"
)

// Known reports whether t is one of the four supported event kinds.
func (t EventType) Known() bool {
	switch t {
	case EventTxnAuthed, EventTxnSettled, EventPaymentInitiated, EventPaymentPosted:
		return true
	default:
		return false
	}
}

// Event is the input submitted by the dashboard or the ingest queue.
// OccurredAt is the caller's timestamp and is carried through unmodified.
type Event struct {
	Type       EventType  `json:"eventType"`
	OccurredAt string     `json:"eventTime"`
	TxnID      string     `json:"txnId,omitempty"`
	Amount     *RawAmount `json:"amount,omitempty"`
}

// HasAmount reports whether the caller supplied a non-blank amount.
func (e Event) HasAmount() bool {
	return e.Amount != nil && *e.Amount != ""
}

// Record kinds written to the journal and published to the broker.
const (
	RecordKindEvent = "event"
	RecordKindReset = "reset"
)

// LedgerRecord describes one committed ledger mutation. Sequence is assigned by
// the engine and increases across resets.
type LedgerRecord struct {
	ID              uuid.UUID `json:"id"`
	Sequence        int64     `json:"sequence"`
	Kind            string    `json:"kind"`
	Event           *Event    `json:"event,omitempty"`
	AvailableCredit Money     `json:"available_credit"`
	PayableBalance  Money     `json:"payable_balance"`
	RecordedAt      time.Time `json:"recorded_at"`
}
