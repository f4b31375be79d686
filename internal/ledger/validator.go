/**
 * @description
 * Event validation for the card ledger. Validation is pure: it reads the
 * account state and answers whether an event would be accepted right now,
 * without touching anything.
 *
 * Checks run in a fixed order: event kind, field shape, then the kind-specific
 * precondition against current state.
 */

package ledger

import (
	"strings"
	"time"

	"github.com/transfa/card-ledger-service/internal/domain"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Command is an event whose kind and fields have been checked and parsed.
type Command struct {
	Type       domain.EventType
	OccurredAt string
	At         time.Time
	TxnID      string
	Amount     domain.Money
	HasAmount  bool
}

// ParseTimestamp reads the caller's eventTime. The raw value is kept for display;
// the parsed value is only used for ordering.
func ParseTimestamp(raw string) (time.Time, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseEvent runs the kind and shape checks.
func parseEvent(ev domain.Event) (Command, error) {
	if !ev.Type.Known() {
		return Command{}, domain.Reject(domain.CodeUnknownEventType, "unrecognized event type %q", ev.Type)
	}

	at, ok := ParseTimestamp(ev.OccurredAt)
	if !ok {
		return Command{}, domain.Reject(domain.CodeMalformedEvent, "eventTime %q is missing or not a timestamp", ev.OccurredAt)
	}

	cmd := Command{
		Type:       ev.Type,
		OccurredAt: ev.OccurredAt,
		At:         at,
		TxnID:      strings.TrimSpace(ev.TxnID),
	}

	switch ev.Type {
	case domain.EventTxnAuthed, domain.EventTxnSettled:
		if cmd.TxnID == "" {
			return Command{}, domain.Reject(domain.CodeMalformedEvent, "txnId is required for %s", ev.Type)
		}
		if !ev.HasAmount() {
			return Command{}, domain.Reject(domain.CodeMalformedEvent, "amount is required for %s", ev.Type)
		}
		if err := cmd.parseAmount(ev); err != nil {
			return Command{}, err
		}
	case domain.EventPaymentPosted:
		if ev.HasAmount() {
			if err := cmd.parseAmount(ev); err != nil {
				return Command{}, err
			}
		}
	case domain.EventPaymentInitiated:
		// The amount has no effect on totals; keep it for bookkeeping only when it is usable.
		if ev.HasAmount() {
			if amount, err := domain.ParseMoney(string(*ev.Amount)); err == nil && amount > 0 {
				cmd.Amount = amount
				cmd.HasAmount = true
			}
		}
	}

	return cmd, nil
}

func (c *Command) parseAmount(ev domain.Event) error {
	amount, err := domain.ParseMoney(string(*ev.Amount))
	if err != nil {
		return domain.Reject(domain.CodeMalformedEvent, "%s", err.Error())
	}
	if amount <= 0 {
		return domain.Reject(domain.CodeMalformedEvent, "amount must be positive, got %s", amount)
	}
	c.Amount = amount
	c.HasAmount = true
	return nil
}

// checkTransition enforces the per-kind preconditions against the current state,
// including the credit invariants the event would leave behind.
func checkTransition(cmd Command, s *accountState) error {
	switch cmd.Type {
	case domain.EventTxnAuthed:
		if _, exists := s.lookup(cmd.TxnID); exists {
			return domain.Reject(domain.CodeDuplicateTransaction, "transaction %q already exists", cmd.TxnID)
		}
		if cmd.Amount > s.availableCredit() {
			return domain.Reject(domain.CodeCreditLimitExceeded, "amount %s exceeds available credit %s", cmd.Amount, s.availableCredit())
		}
	case domain.EventTxnSettled:
		rec, exists := s.lookup(cmd.TxnID)
		if !exists {
			return domain.Reject(domain.CodeUnknownTransaction, "transaction %q was never authorized", cmd.TxnID)
		}
		if rec.txn.Status == domain.StatusSettled {
			return domain.Reject(domain.CodeAlreadySettled, "transaction %q settled at %s", cmd.TxnID, rec.txn.SettledAt)
		}
		if cmd.Amount != rec.txn.Amount {
			return domain.Reject(domain.CodeAmountMismatch, "settlement amount %s does not match authorized amount %s", cmd.Amount, rec.txn.Amount)
		}
	case domain.EventPaymentPosted:
		if cmd.HasAmount && cmd.Amount > s.payable {
			return domain.Reject(domain.CodeOverpaymentRejected, "payment %s exceeds payable balance %s", cmd.Amount, s.payable)
		}
	}
	return nil
}
