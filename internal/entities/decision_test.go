package entities

import (
	"testing"
	"time"
)

func testDecision() *Decision {
	return &Decision{
		ID:            "d-1",
		Effect:        EffectAllow,
		MatchedRuleID: "static:builtin-1:3",
		ScopeChain:    []string{"lib:phys-101", "org:science", "instance"},
		EffectiveRoles: []EffectiveRole{
			{Role: "library_admin", SourceScope: "lib:phys-101"},
		},
		AttributesConsulted: map[string]any{"subject": "user:alice"},
		Request: Request{
			Subject: "user:alice",
			Action:  "view_library",
			Object:  "lib:phys-101",
			Scope:   "lib:phys-101",
		},
		StoreVersion: "7",
		EvaluatedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDecision_Allowed(t *testing.T) {
	d := testDecision()
	if !d.Allowed() {
		t.Error("Allowed() = false for allow decision")
	}
	d.Effect = EffectDeny
	if d.Allowed() {
		t.Error("Allowed() = true for deny decision")
	}
}

func TestDecision_Fingerprint(t *testing.T) {
	t.Run("identical outcomes share a fingerprint", func(t *testing.T) {
		a := testDecision()
		b := testDecision()
		// Per-invocation fields differ; the fingerprint must not
		b.ID = "d-2"
		b.EvaluatedAt = b.EvaluatedAt.Add(time.Hour)
		if a.Fingerprint() != b.Fingerprint() {
			t.Error("Fingerprint() differs across replays of the same outcome")
		}
	})

	t.Run("effect changes the fingerprint", func(t *testing.T) {
		a := testDecision()
		b := testDecision()
		b.Effect = EffectDeny
		if a.Fingerprint() == b.Fingerprint() {
			t.Error("Fingerprint() identical despite different effects")
		}
	})

	t.Run("store version changes the fingerprint", func(t *testing.T) {
		a := testDecision()
		b := testDecision()
		b.StoreVersion = "8"
		if a.Fingerprint() == b.Fingerprint() {
			t.Error("Fingerprint() identical despite different store versions")
		}
	})

	t.Run("matched rule changes the fingerprint", func(t *testing.T) {
		a := testDecision()
		b := testDecision()
		b.MatchedRuleID = "static:builtin-1:4"
		if a.Fingerprint() == b.Fingerprint() {
			t.Error("Fingerprint() identical despite different matched rules")
		}
	})
}
