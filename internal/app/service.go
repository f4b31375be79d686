/**
 * @description
 * Core application service for the card ledger. It fronts the in-memory ledger
 * engine and takes care of the side effects around each commit: the audit
 * journal write and the broker notification.
 *
 * @notes
 * - The journal write happens after the in-memory commit and before the caller
 *   gets its response. Journal and broker failures are logged; they never undo
 *   or fail a committed event.
 */
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/card-ledger-service/internal/domain"
	"github.com/transfa/card-ledger-service/internal/ledger"
)

// Routing keys used for published ledger messages.
const (
	RoutingKeyEventApplied  = "ledger.event.applied"
	RoutingKeyEventRejected = "ledger.event.rejected"
	RoutingKeyReset         = "ledger.reset"
	RoutingKeySnapshot      = "ledger.snapshot"
)

// ErrTransactionNotFound is returned when a looked-up transaction does not exist.
var ErrTransactionNotFound = ledger.ErrTransactionNotFound

// Journal records committed ledger mutations.
type Journal interface {
	Append(ctx context.Context, record domain.LedgerRecord) error
}

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// Service provides the business operations exposed over HTTP and AMQP.
type Service struct {
	engine    *ledger.Engine
	journal   Journal
	publisher EventPublisher
	exchange  string
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a new card ledger service.
func NewService(engine *ledger.Engine, journal Journal, publisher EventPublisher, exchange string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine:    engine,
		journal:   journal,
		publisher: publisher,
		exchange:  exchange,
		logger:    logger,
		now:       time.Now,
	}
}

type rejectedEvent struct {
	Event     domain.Event         `json:"event"`
	Code      domain.RejectionCode `json:"code"`
	Reason    string               `json:"reason"`
	Timestamp time.Time            `json:"timestamp"`
}

type appliedEvent struct {
	domain.LedgerRecord
	PaidAmount *domain.Money `json:"paid_amount,omitempty"`
}

type snapshotEvent struct {
	Sequence        int64        `json:"sequence"`
	CreditLimit     domain.Money `json:"credit_limit"`
	AvailableCredit domain.Money `json:"available_credit"`
	PayableBalance  domain.Money `json:"payable_balance"`
	PendingCount    int          `json:"pending_count"`
	SettledCount    int          `json:"settled_count"`
	Timestamp       time.Time    `json:"timestamp"`
}

// GetSummary returns the current account summary.
func (s *Service) GetSummary(ctx context.Context) domain.Summary {
	return s.engine.Summary()
}

// SubmitEvent applies one event. A refused event comes back as a *domain.Rejection.
func (s *Service) SubmitEvent(ctx context.Context, ev domain.Event) (domain.Summary, error) {
	applied, err := s.engine.Apply(ev)
	if err != nil {
		if rejection, ok := domain.AsRejection(err); ok {
			s.logger.Info("event rejected",
				"code", rejection.Code,
				"event_type", ev.Type,
				"txn_id", ev.TxnID,
				"reason", rejection.Reason,
			)
			s.publish(ctx, RoutingKeyEventRejected, rejectedEvent{
				Event:     ev,
				Code:      rejection.Code,
				Reason:    rejection.Reason,
				Timestamp: s.now().UTC(),
			})
		}
		return domain.Summary{}, err
	}

	record := domain.LedgerRecord{
		ID:              uuid.New(),
		Sequence:        applied.Sequence,
		Kind:            domain.RecordKindEvent,
		Event:           &ev,
		AvailableCredit: applied.Summary.AvailableCredit,
		PayableBalance:  applied.Summary.PayableBalance,
		RecordedAt:      s.now().UTC(),
	}
	s.appendJournal(ctx, record)

	message := appliedEvent{LedgerRecord: record}
	if applied.Command.Type == domain.EventPaymentPosted {
		paid := applied.Paid
		message.PaidAmount = &paid
	}
	s.publish(ctx, RoutingKeyEventApplied, message)

	s.logger.Info("event applied",
		"sequence", applied.Sequence,
		"event_type", ev.Type,
		"txn_id", applied.Command.TxnID,
		"available_credit", applied.Summary.AvailableCredit.String(),
		"payable_balance", applied.Summary.PayableBalance.String(),
	)
	return applied.Summary, nil
}

// ValidateEvent reports whether ev would be accepted right now.
func (s *Service) ValidateEvent(ctx context.Context, ev domain.Event) error {
	return s.engine.Validate(ev)
}

// Reset clears the account and returns the initial summary.
func (s *Service) Reset(ctx context.Context) domain.Summary {
	sequence, summary := s.engine.Reset()

	record := domain.LedgerRecord{
		ID:              uuid.New(),
		Sequence:        sequence,
		Kind:            domain.RecordKindReset,
		AvailableCredit: summary.AvailableCredit,
		PayableBalance:  summary.PayableBalance,
		RecordedAt:      s.now().UTC(),
	}
	s.appendJournal(ctx, record)
	s.publish(ctx, RoutingKeyReset, record)

	s.logger.Info("account reset", "sequence", sequence)
	return summary
}

// GetTransaction returns a single transaction.
func (s *Service) GetTransaction(ctx context.Context, txnID string) (*domain.Transaction, error) {
	txn, err := s.engine.Transaction(txnID)
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// ListPayments returns payment intents in arrival order.
func (s *Service) ListPayments(ctx context.Context) []domain.PaymentIntent {
	return s.engine.Payments()
}

// PublishSnapshot logs the current totals and publishes them for consumers that
// want a periodic heartbeat of the account.
func (s *Service) PublishSnapshot(ctx context.Context) {
	sequence, summary := s.engine.Snapshot()
	snapshot := snapshotEvent{
		Sequence:        sequence,
		CreditLimit:     summary.CreditLimit,
		AvailableCredit: summary.AvailableCredit,
		PayableBalance:  summary.PayableBalance,
		PendingCount:    len(summary.PendingTransactions),
		SettledCount:    len(summary.SettledTransactions),
		Timestamp:       s.now().UTC(),
	}

	s.logger.Info("ledger snapshot",
		"sequence", snapshot.Sequence,
		"available_credit", snapshot.AvailableCredit.String(),
		"payable_balance", snapshot.PayableBalance.String(),
		"pending_count", snapshot.PendingCount,
		"settled_count", snapshot.SettledCount,
	)
	s.publish(ctx, RoutingKeySnapshot, snapshot)
}

func (s *Service) appendJournal(ctx context.Context, record domain.LedgerRecord) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Append(ctx, record); err != nil {
		s.logger.Error("journal append failed", "sequence", record.Sequence, "kind", record.Kind, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, s.exchange, routingKey, body); err != nil {
		s.logger.Warn("failed to publish ledger event", "routing_key", routingKey, "error", err)
	}
}

// IsNotFound reports whether err means the requested record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTransactionNotFound)
}
