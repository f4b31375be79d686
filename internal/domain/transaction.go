/**
 * @description
 * Domain models for card transactions, payment intents and the account summary.
 *
 * @notes
 * - Timestamps are the caller-supplied strings; the ledger never rewrites them.
 * - Summary field names match what the browser dashboard renders.
 */

package domain

// TransactionStatus is PENDING until settled. It never moves back.
type TransactionStatus string

const (
	StatusPending TransactionStatus = "PENDING"
	StatusSettled TransactionStatus = "SETTLED"
)

// Transaction is a card purchase tracked from authorization to settlement.
type Transaction struct {
	ID           string            `json:"id"`
	Amount       Money             `json:"amount"`
	AuthorizedAt string            `json:"authorizedAt"`
	SettledAt    string            `json:"settledAt,omitempty"`
	Status       TransactionStatus `json:"status"`
}

// PaymentStatus tracks a cardholder payment.
type PaymentStatus string

const (
	PaymentInitiated  PaymentStatus = "INITIATED"
	PaymentPosted     PaymentStatus = "POSTED"
	PaymentSuperseded PaymentStatus = "SUPERSEDED" // replaced by a later initiation with the same reference
)

// PaymentIntent is bookkeeping for a payment. RequestedAmount is nil when the
// payment was initiated without an amount; PaidAmount is set once posted.
type PaymentIntent struct {
	Reference       string        `json:"reference,omitempty"`
	RequestedAmount *Money        `json:"requestedAmount,omitempty"`
	PaidAmount      *Money        `json:"paidAmount,omitempty"`
	InitiatedAt     string        `json:"initiatedAt,omitempty"`
	PostedAt        string        `json:"postedAt,omitempty"`
	Status          PaymentStatus `json:"status"`
}

// PendingTransaction is a summary row for an authorized, unsettled transaction.
type PendingTransaction struct {
	ID     string `json:"id"`
	Amount Money  `json:"amount"`
	Time   string `json:"time"`
}

// SettledTransaction is a summary row for a settled transaction.
type SettledTransaction struct {
	ID          string `json:"id"`
	Amount      Money  `json:"amount"`
	InitialTime string `json:"initialTime"`
	FinalTime   string `json:"finalTime"`
}

// Summary is the externally visible account view. Both lists are ordered by
// authorization time ascending.
type Summary struct {
	CreditLimit         Money                `json:"creditLimit"`
	AvailableCredit     Money                `json:"availableCredit"`
	PayableBalance      Money                `json:"payableBalance"`
	PendingTransactions []PendingTransaction `json:"pendingTransactions"`
	SettledTransactions []SettledTransaction `json:"settledTransactions"`
}
