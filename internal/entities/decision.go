package entities

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Decision is the result of evaluating one request. It is immutable once
// produced; the audit recorder owns it after creation.
//
// Replaying the same request against the rule store state identified by
// StoreVersion must yield a decision with an identical Fingerprint.
type Decision struct {
	ID     string
	Effect Effect

	// MatchedRuleID names the rule that decided the outcome. Empty means no
	// rule matched and the default-deny policy applied.
	MatchedRuleID string

	// ScopeChain is the full chain examined during evaluation, most specific
	// first. Kept for explainability even on default-deny.
	ScopeChain []string

	// EffectiveRoles are the role expansions that were in force for the
	// request subject at the request scope.
	EffectiveRoles []EffectiveRole

	// AttributesConsulted records which attribute keys matchers read, and the
	// values they saw, so the decision is independently explainable.
	AttributesConsulted map[string]any

	// Request is a snapshot of the evaluated request.
	Request Request

	// StoreVersion is the rule store version token the candidate set was
	// read at.
	StoreVersion string

	EvaluatedAt time.Time
}

// Allowed reports whether the decision permits the request.
func (d *Decision) Allowed() bool {
	return d.Effect == EffectAllow
}

// fingerprintPayload is the canonical serialized form of a decision used for
// reproducibility checks. ID and EvaluatedAt are excluded: they vary per
// invocation, the outcome must not.
type fingerprintPayload struct {
	Effect              Effect          `json:"effect"`
	MatchedRuleID       string          `json:"matched_rule_id"`
	ScopeChain          []string        `json:"scope_chain"`
	EffectiveRoles      []EffectiveRole `json:"effective_roles"`
	AttributesConsulted map[string]any  `json:"attributes_consulted"`
	Request             Request         `json:"request"`
	StoreVersion        string          `json:"store_version"`
}

// Fingerprint returns a deterministic hash of the decision outcome. Two
// evaluations of the same request against the same store state produce the
// same fingerprint.
func (d *Decision) Fingerprint() string {
	data, _ := json.Marshal(fingerprintPayload{
		Effect:              d.Effect,
		MatchedRuleID:       d.MatchedRuleID,
		ScopeChain:          d.ScopeChain,
		EffectiveRoles:      d.EffectiveRoles,
		AttributesConsulted: d.AttributesConsulted,
		Request:             d.Request,
		StoreVersion:        d.StoreVersion,
	})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
