package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ymiyake/themis/internal/entities"
)

func sealedRecord(t *testing.T, id, prevHash string) *entities.AuditRecord {
	t.Helper()
	rec := &entities.AuditRecord{
		ID:         id,
		DecisionID: "d-" + id,
		Effect:     entities.EffectDeny,
		Request: entities.Request{
			Subject: "user:alice", Action: "view_library",
			Object: "lib:x", Scope: "lib:x",
		},
		StoreVersion: "1",
		Fingerprint:  "fp",
		CreatedAt:    time.Now().UTC(),
	}
	rec.Seal(prevHash)
	return rec
}

func TestAuditSink_Append(t *testing.T) {
	ctx := context.Background()

	t.Run("appends in chain order", func(t *testing.T) {
		sink := NewAuditSink()

		r1 := sealedRecord(t, "r1", "")
		if err := sink.Append(ctx, r1); err != nil {
			t.Fatalf("Append(r1) error = %v", err)
		}
		r2 := sealedRecord(t, "r2", r1.Hash)
		if err := sink.Append(ctx, r2); err != nil {
			t.Fatalf("Append(r2) error = %v", err)
		}

		records := sink.Records()
		if len(records) != 2 {
			t.Fatalf("Records() = %d records, want 2", len(records))
		}
		if idx := entities.VerifyChain(records); idx != -1 {
			t.Errorf("VerifyChain() = %d, want -1", idx)
		}
	})

	t.Run("rejects a chain break", func(t *testing.T) {
		sink := NewAuditSink()
		if err := sink.Append(ctx, sealedRecord(t, "r1", "")); err != nil {
			t.Fatalf("Append(r1) error = %v", err)
		}
		// PrevHash does not match the sink head
		err := sink.Append(ctx, sealedRecord(t, "r2", "bogus"))
		if !errors.Is(err, entities.ErrAuditUnavailable) {
			t.Errorf("Append() error = %v, want wrapped ErrAuditUnavailable", err)
		}
		if len(sink.Records()) != 1 {
			t.Errorf("rejected record was stored")
		}
	})

	t.Run("LastHash follows the head", func(t *testing.T) {
		sink := NewAuditSink()
		hash, err := sink.LastHash(ctx)
		if err != nil || hash != "" {
			t.Fatalf("LastHash() on empty sink = %q, %v; want empty, nil", hash, err)
		}
		r1 := sealedRecord(t, "r1", "")
		if err := sink.Append(ctx, r1); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		hash, err = sink.LastHash(ctx)
		if err != nil {
			t.Fatalf("LastHash() error = %v", err)
		}
		if hash != r1.Hash {
			t.Errorf("LastHash() = %q, want %q", hash, r1.Hash)
		}
	})
}
