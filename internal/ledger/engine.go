/**
 * @description
 * The ledger engine: a deterministic left-fold of card events over a single
 * account. Writers (Apply, Reset) are serialized by one lock; after every commit
 * the engine publishes an immutable summary so readers never see a half-applied
 * event.
 *
 * @notes
 * - Events are applied in arrival order. eventTime is display metadata.
 * - A rejected event leaves state exactly as it was: all checks run before the
 *   first mutation, and no mutation can fail once the checks pass.
 * - Kind and shape checks (including amount parsing) run before the lock is
 *   taken; only the state preconditions and the mutation run under it.
 */

package ledger

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/transfa/card-ledger-service/internal/domain"
)

// ErrTransactionNotFound is returned by Transaction for an unknown id.
var ErrTransactionNotFound = errors.New("transaction not found")

// Applied describes a committed event.
type Applied struct {
	Sequence int64
	Command  Command
	// Paid is the amount a PAYMENT_POSTED actually paid.
	Paid    domain.Money
	Summary domain.Summary
}

// Option configures an Engine.
type Option func(*Engine)

// WithSettledDisplayLimit keeps only the n most recent settled transactions in
// summaries. Zero or negative keeps all of them.
func WithSettledDisplayLimit(n int) Option {
	return func(e *Engine) {
		e.settledLimit = n
	}
}

// Engine owns the account store for one account.
type Engine struct {
	mu           sync.RWMutex
	state        *accountState
	creditLimit  domain.Money
	settledLimit int
	sequence     int64
	current      atomic.Pointer[commit]
}

// commit is what readers see: the summary and the sequence that produced it.
type commit struct {
	sequence int64
	summary  domain.Summary
}

// NewEngine creates an engine whose account starts with the full credit limit
// available, no balance and no transactions.
func NewEngine(creditLimit domain.Money, opts ...Option) (*Engine, error) {
	if creditLimit <= 0 {
		return nil, fmt.Errorf("credit limit must be positive, got %s", creditLimit)
	}
	if creditLimit > domain.MaxMoney {
		return nil, fmt.Errorf("credit limit %s is out of range", creditLimit)
	}

	e := &Engine{creditLimit: creditLimit}
	for _, opt := range opts {
		opt(e)
	}
	e.state = newAccountState(creditLimit)
	e.publish()
	return e, nil
}

// CreditLimit returns the configured limit.
func (e *Engine) CreditLimit() domain.Money {
	return e.creditLimit
}

// Apply validates ev and, if accepted, applies it. On rejection the returned
// error is a *domain.Rejection and nothing has changed.
func (e *Engine) Apply(ev domain.Event) (Applied, error) {
	cmd, err := parseEvent(ev)
	if err != nil {
		return Applied{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := checkTransition(cmd, e.state); err != nil {
		return Applied{}, err
	}

	applied := Applied{Command: cmd}
	switch cmd.Type {
	case domain.EventTxnAuthed:
		e.state.authorize(cmd)
	case domain.EventTxnSettled:
		e.state.settle(cmd)
	case domain.EventPaymentInitiated:
		e.state.initiatePayment(cmd)
	case domain.EventPaymentPosted:
		applied.Paid = e.state.postPayment(cmd)
	}

	e.sequence++
	applied.Sequence = e.sequence
	applied.Summary = e.publish()
	return applied, nil
}

// Validate answers whether ev would be accepted right now, without applying it.
func (e *Engine) Validate(ev domain.Event) error {
	cmd, err := parseEvent(ev)
	if err != nil {
		return err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return checkTransition(cmd, e.state)
}

// Reset returns the account to its initial state and reports the reset's
// sequence number along with the initial summary.
func (e *Engine) Reset() (int64, domain.Summary) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = newAccountState(e.creditLimit)
	e.sequence++
	return e.sequence, e.publish()
}

// Summary returns the summary as of the last commit. Callers must treat the
// returned slices as read-only.
func (e *Engine) Summary() domain.Summary {
	return e.current.Load().summary
}

// Sequence returns the number of commits so far, resets included.
func (e *Engine) Sequence() int64 {
	return e.current.Load().sequence
}

// Snapshot returns the last commit's sequence together with the summary it
// produced. Both come from the same commit.
func (e *Engine) Snapshot() (int64, domain.Summary) {
	c := e.current.Load()
	return c.sequence, c.summary
}

// Transaction looks up a single transaction by id.
func (e *Engine) Transaction(txnID string) (domain.Transaction, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	txn, ok := e.state.transaction(txnID)
	if !ok {
		return domain.Transaction{}, ErrTransactionNotFound
	}
	return txn, nil
}

// Payments returns payment intents in arrival order.
func (e *Engine) Payments() []domain.PaymentIntent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.paymentIntents()
}

// publish must be called with the write lock held, or before the engine is shared.
func (e *Engine) publish() domain.Summary {
	c := &commit{sequence: e.sequence, summary: project(e.state, e.settledLimit)}
	e.current.Store(c)
	return c.summary
}
