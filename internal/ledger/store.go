package ledger

import (
	"time"

	"github.com/transfa/card-ledger-service/internal/domain"
)

type txnRecord struct {
	txn          domain.Transaction
	authorizedAt time.Time
	arrival      int64
}

// accountState is the account store: every transaction, payment intent and
// running total for the single account. Only the engine mutates it, and only
// while holding its write lock.
type accountState struct {
	creditLimit  domain.Money
	txns         map[string]*txnRecord
	pendingTotal domain.Money
	payable      domain.Money
	payments     []domain.PaymentIntent
	openPayments map[string]int
	arrivals     int64
}

func newAccountState(creditLimit domain.Money) *accountState {
	return &accountState{
		creditLimit:  creditLimit,
		txns:         make(map[string]*txnRecord),
		openPayments: make(map[string]int),
	}
}

// availableCredit is derived, never stored.
func (s *accountState) availableCredit() domain.Money {
	return s.creditLimit - s.pendingTotal - s.payable
}

func (s *accountState) lookup(txnID string) (*txnRecord, bool) {
	rec, ok := s.txns[txnID]
	return rec, ok
}

func (s *accountState) authorize(cmd Command) {
	s.arrivals++
	s.txns[cmd.TxnID] = &txnRecord{
		txn: domain.Transaction{
			ID:           cmd.TxnID,
			Amount:       cmd.Amount,
			AuthorizedAt: cmd.OccurredAt,
			Status:       domain.StatusPending,
		},
		authorizedAt: cmd.At,
		arrival:      s.arrivals,
	}
	s.pendingTotal += cmd.Amount
}

func (s *accountState) settle(cmd Command) {
	rec := s.txns[cmd.TxnID]
	rec.txn.Status = domain.StatusSettled
	rec.txn.SettledAt = cmd.OccurredAt
	s.pendingTotal -= rec.txn.Amount
	s.payable += rec.txn.Amount
}

// initiatePayment records an intent. A reference that already has an open
// intent supersedes it, so only the newest intent can be completed by a post.
func (s *accountState) initiatePayment(cmd Command) {
	intent := domain.PaymentIntent{
		Reference:   cmd.TxnID,
		InitiatedAt: cmd.OccurredAt,
		Status:      domain.PaymentInitiated,
	}
	if cmd.HasAmount {
		requested := cmd.Amount
		intent.RequestedAmount = &requested
	}
	if idx, ok := s.openPayments[cmd.TxnID]; ok && cmd.TxnID != "" {
		s.payments[idx].Status = domain.PaymentSuperseded
	}
	s.payments = append(s.payments, intent)
	if cmd.TxnID != "" {
		s.openPayments[cmd.TxnID] = len(s.payments) - 1
	}
}

// postPayment reduces the payable balance and returns the amount actually paid.
// Without an amount the whole payable balance is paid.
func (s *accountState) postPayment(cmd Command) domain.Money {
	paid := s.payable
	if cmd.HasAmount {
		paid = cmd.Amount
	}
	s.payable -= paid

	if idx, ok := s.openPayments[cmd.TxnID]; ok && cmd.TxnID != "" {
		delete(s.openPayments, cmd.TxnID)
		s.payments[idx].PaidAmount = &paid
		s.payments[idx].PostedAt = cmd.OccurredAt
		s.payments[idx].Status = domain.PaymentPosted
		return paid
	}

	s.payments = append(s.payments, domain.PaymentIntent{
		Reference:  cmd.TxnID,
		PaidAmount: &paid,
		PostedAt:   cmd.OccurredAt,
		Status:     domain.PaymentPosted,
	})
	return paid
}

func (s *accountState) transaction(txnID string) (domain.Transaction, bool) {
	rec, ok := s.txns[txnID]
	if !ok {
		return domain.Transaction{}, false
	}
	return rec.txn, true
}

func (s *accountState) paymentIntents() []domain.PaymentIntent {
	out := make([]domain.PaymentIntent, len(s.payments))
	copy(out, s.payments)
	return out
}
