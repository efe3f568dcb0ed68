package entities

import (
	"testing"
	"time"
)

func makeRecord(id, decisionID string) *AuditRecord {
	return &AuditRecord{
		ID:            id,
		DecisionID:    decisionID,
		Actor:         ActorContext{ActorID: "user:ops", Service: "cms"},
		Effect:        EffectAllow,
		MatchedRuleID: "static:builtin-1:0",
		Request: Request{
			Subject: "user:alice",
			Action:  "view_library",
			Object:  "lib:x",
			Scope:   "lib:x",
		},
		StoreVersion: "4",
		Fingerprint:  "abc",
		CreatedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAuditRecord_Seal(t *testing.T) {
	rec := makeRecord("r1", "d1")
	rec.Seal("")

	if rec.PrevHash != "" {
		t.Errorf("Seal() PrevHash = %q, want empty for first record", rec.PrevHash)
	}
	if rec.Hash == "" {
		t.Error("Seal() left Hash empty")
	}
	if rec.Hash != rec.ComputeHash("") {
		t.Error("Seal() Hash does not match ComputeHash")
	}

	// Sealing against a predecessor changes the hash
	other := makeRecord("r1", "d1")
	other.Seal(rec.Hash)
	if other.Hash == rec.Hash {
		t.Error("records with different PrevHash produced identical hashes")
	}
}

func TestVerifyChain(t *testing.T) {
	chain := func() []*AuditRecord {
		r1 := makeRecord("r1", "d1")
		r1.Seal("")
		r2 := makeRecord("r2", "d2")
		r2.Seal(r1.Hash)
		r3 := makeRecord("r3", "d3")
		r3.Seal(r2.Hash)
		return []*AuditRecord{r1, r2, r3}
	}

	t.Run("intact chain", func(t *testing.T) {
		if got := VerifyChain(chain()); got != -1 {
			t.Errorf("VerifyChain() = %d, want -1", got)
		}
	})

	t.Run("empty chain", func(t *testing.T) {
		if got := VerifyChain(nil); got != -1 {
			t.Errorf("VerifyChain(nil) = %d, want -1", got)
		}
	})

	t.Run("tampered payload", func(t *testing.T) {
		records := chain()
		records[1].Effect = EffectDeny
		if got := VerifyChain(records); got != 1 {
			t.Errorf("VerifyChain() = %d, want 1", got)
		}
	})

	t.Run("tampering breaks every later link", func(t *testing.T) {
		records := chain()
		// Recompute record 1's hash after tampering; the chain now breaks at
		// record 2 whose PrevHash no longer matches.
		records[1].Effect = EffectDeny
		records[1].Hash = records[1].ComputeHash(records[1].PrevHash)
		if got := VerifyChain(records); got != 2 {
			t.Errorf("VerifyChain() = %d, want 2", got)
		}
	})

	t.Run("removed record", func(t *testing.T) {
		records := chain()
		truncated := []*AuditRecord{records[0], records[2]}
		if got := VerifyChain(truncated); got != 1 {
			t.Errorf("VerifyChain() = %d, want 1", got)
		}
	})
}
