package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/card-ledger-service/internal/domain"
)

func TestJournalArgs_EventRecord(t *testing.T) {
	id := uuid.New()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	record := domain.LedgerRecord{
		ID:              id,
		Sequence:        7,
		Kind:            domain.RecordKindEvent,
		Event:           &domain.Event{Type: domain.EventTxnAuthed, OccurredAt: "2024-05-01T10:00", TxnID: "t1", Amount: domain.AmountOf("20")},
		AvailableCredit: 98000,
		PayableBalance:  0,
		RecordedAt:      now,
	}

	args, err := journalArgs(record)
	if err != nil {
		t.Fatalf("journalArgs returned error: %v", err)
	}
	if len(args) != 9 {
		t.Fatalf("expected 9 args, got %d", len(args))
	}
	if args[0] != id || args[1] != int64(7) || args[2] != domain.RecordKindEvent {
		t.Fatalf("unexpected leading args: %v", args[:3])
	}
	if et, ok := args[3].(*string); !ok || et == nil || *et != "TXN_AUTHED" {
		t.Fatalf("unexpected event type arg: %v", args[3])
	}
	if tid, ok := args[4].(*string); !ok || tid == nil || *tid != "t1" {
		t.Fatalf("unexpected txn id arg: %v", args[4])
	}

	var decoded domain.Event
	if err := json.Unmarshal(args[5].([]byte), &decoded); err != nil {
		t.Fatalf("event payload is not JSON: %v", err)
	}
	if decoded.TxnID != "t1" || decoded.Amount == nil || *decoded.Amount != "20" {
		t.Fatalf("event payload lost fields: %+v", decoded)
	}
	if args[6] != int64(98000) || args[7] != int64(0) || args[8] != now {
		t.Fatalf("unexpected trailing args: %v", args[6:])
	}
}

func TestJournalArgs_ResetRecord(t *testing.T) {
	args, err := journalArgs(domain.LedgerRecord{ID: uuid.New(), Sequence: 3, Kind: domain.RecordKindReset, AvailableCredit: 100000})
	if err != nil {
		t.Fatalf("journalArgs returned error: %v", err)
	}
	if args[3].(*string) != nil || args[4].(*string) != nil || args[5].([]byte) != nil {
		t.Fatalf("expected nil event columns for reset, got %v", args[3:6])
	}
}

func TestPostgresJournal_WithoutPool(t *testing.T) {
	var j *PostgresJournal
	if err := j.Append(context.Background(), domain.LedgerRecord{}); !errors.Is(err, ErrJournalUnavailable) {
		t.Fatalf("expected ErrJournalUnavailable, got %v", err)
	}
	if err := NewPostgresJournal(nil).EnsureSchema(context.Background()); !errors.Is(err, ErrJournalUnavailable) {
		t.Fatalf("expected ErrJournalUnavailable, got %v", err)
	}
}
