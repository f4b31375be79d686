package ledger

import (
	"cmp"
	"slices"

	"github.com/transfa/card-ledger-service/internal/domain"
)

// project derives the summary from the account state. Ordering is by
// authorization time, then arrival, so repeated projections of the same state
// are identical.
func project(s *accountState, settledLimit int) domain.Summary {
	records := make([]*txnRecord, 0, len(s.txns))
	for _, rec := range s.txns {
		records = append(records, rec)
	}
	slices.SortFunc(records, func(a, b *txnRecord) int {
		if c := a.authorizedAt.Compare(b.authorizedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.arrival, b.arrival)
	})

	summary := domain.Summary{
		CreditLimit:         s.creditLimit,
		AvailableCredit:     s.availableCredit(),
		PayableBalance:      s.payable,
		PendingTransactions: make([]domain.PendingTransaction, 0),
		SettledTransactions: make([]domain.SettledTransaction, 0),
	}

	for _, rec := range records {
		switch rec.txn.Status {
		case domain.StatusPending:
			summary.PendingTransactions = append(summary.PendingTransactions, domain.PendingTransaction{
				ID:     rec.txn.ID,
				Amount: rec.txn.Amount,
				Time:   rec.txn.AuthorizedAt,
			})
		case domain.StatusSettled:
			summary.SettledTransactions = append(summary.SettledTransactions, domain.SettledTransaction{
				ID:          rec.txn.ID,
				Amount:      rec.txn.Amount,
				InitialTime: rec.txn.AuthorizedAt,
				FinalTime:   rec.txn.SettledAt,
			})
		}
	}

	if settledLimit > 0 && len(summary.SettledTransactions) > settledLimit {
		summary.SettledTransactions = summary.SettledTransactions[len(summary.SettledTransactions)-settledLimit:]
	}

	return summary
}
