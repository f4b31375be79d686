/**
 * @description
 * This file implements the audit journal for the card ledger. The in-memory
 * engine is the source of truth; the journal is an append-only record of every
 * committed event and reset, written after the in-memory commit and before the
 * caller gets its response.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and pool.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/card-ledger-service/internal/domain"
)

// ErrJournalUnavailable is returned when the journal has no database behind it.
var ErrJournalUnavailable = errors.New("journal database not configured")

const journalSchema = `
CREATE TABLE IF NOT EXISTS ledger_journal (
    id               UUID PRIMARY KEY,
    sequence         BIGINT NOT NULL,
    kind             TEXT NOT NULL,
    event_type       TEXT,
    txn_id           TEXT,
    event            JSONB,
    available_credit BIGINT NOT NULL,
    payable_balance  BIGINT NOT NULL,
    recorded_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ledger_journal_sequence_idx ON ledger_journal (sequence);
`

// NopJournal discards records. It is used when no database is configured.
type NopJournal struct {
	Logger *slog.Logger
}

// Append logs the record at debug level and drops it.
func (j NopJournal) Append(ctx context.Context, record domain.LedgerRecord) error {
	if j.Logger != nil {
		j.Logger.Debug("journal disabled; dropping record", "sequence", record.Sequence, "kind", record.Kind)
	}
	return nil
}

// PostgresJournal appends ledger records to the ledger_journal table.
type PostgresJournal struct {
	db *pgxpool.Pool
}

// NewPostgresJournal creates a journal backed by the given pool.
func NewPostgresJournal(db *pgxpool.Pool) *PostgresJournal {
	return &PostgresJournal{db: db}
}

// EnsureSchema creates the journal table if it does not exist.
func (j *PostgresJournal) EnsureSchema(ctx context.Context) error {
	if j == nil || j.db == nil {
		return ErrJournalUnavailable
	}
	if _, err := j.db.Exec(ctx, journalSchema); err != nil {
		return fmt.Errorf("create journal schema: %w", err)
	}
	return nil
}

// Append inserts one record.
func (j *PostgresJournal) Append(ctx context.Context, record domain.LedgerRecord) error {
	if j == nil || j.db == nil {
		return ErrJournalUnavailable
	}

	args, err := journalArgs(record)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO ledger_journal (id, sequence, kind, event_type, txn_id, event, available_credit, payable_balance, recorded_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	if _, err := j.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("append journal record %d: %w", record.Sequence, err)
	}
	return nil
}

// journalArgs maps a record onto the insert's positional parameters.
func journalArgs(record domain.LedgerRecord) ([]interface{}, error) {
	var (
		eventType *string
		txnID     *string
		payload   []byte
	)
	if record.Event != nil {
		t := string(record.Event.Type)
		eventType = &t
		if record.Event.TxnID != "" {
			id := record.Event.TxnID
			txnID = &id
		}
		encoded, err := json.Marshal(record.Event)
		if err != nil {
			return nil, fmt.Errorf("encode journal event: %w", err)
		}
		payload = encoded
	}

	return []interface{}{
		record.ID,
		record.Sequence,
		record.Kind,
		eventType,
		txnID,
		payload,
		int64(record.AvailableCredit),
		int64(record.PayableBalance),
		record.RecordedAt,
	}, nil
}
