package entities

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// ActorContext identifies who triggered an enforcement call, for the audit
// trail. Distinct from the request subject: a service may check permissions
// on behalf of a user.
type ActorContext struct {
	ActorID string
	Service string
	TraceID string
}

// AuditRecord is the durable, append-only projection of a decision. Records
// are hash-chained: each record's hash covers the previous record's hash, so
// any in-place tampering breaks the chain.
type AuditRecord struct {
	ID         string
	DecisionID string
	Actor      ActorContext

	Effect        Effect
	MatchedRuleID string
	Request       Request
	StoreVersion  string

	// Fingerprint is the decision's reproducibility fingerprint.
	Fingerprint string

	// PrevHash is the Hash of the preceding record in the chain, empty for
	// the first record.
	PrevHash string

	// Hash is sha256 over PrevHash plus the canonical record payload.
	Hash string

	CreatedAt time.Time
}

type auditHashPayload struct {
	ID            string       `json:"id"`
	DecisionID    string       `json:"decision_id"`
	Actor         ActorContext `json:"actor"`
	Effect        Effect       `json:"effect"`
	MatchedRuleID string       `json:"matched_rule_id"`
	Request       Request      `json:"request"`
	StoreVersion  string       `json:"store_version"`
	Fingerprint   string       `json:"fingerprint"`
	PrevHash      string       `json:"prev_hash"`
	CreatedAt     time.Time    `json:"created_at"`
}

// ComputeHash returns the chain hash for the record given the previous
// record's hash.
func (r *AuditRecord) ComputeHash(prevHash string) string {
	data, _ := json.Marshal(auditHashPayload{
		ID:            r.ID,
		DecisionID:    r.DecisionID,
		Actor:         r.Actor,
		Effect:        r.Effect,
		MatchedRuleID: r.MatchedRuleID,
		Request:       r.Request,
		StoreVersion:  r.StoreVersion,
		Fingerprint:   r.Fingerprint,
		PrevHash:      prevHash,
		CreatedAt:     r.CreatedAt,
	})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Seal sets PrevHash and Hash, linking the record to its predecessor.
func (r *AuditRecord) Seal(prevHash string) {
	r.PrevHash = prevHash
	r.Hash = r.ComputeHash(prevHash)
}

// VerifyChain checks hash-chain integrity over records in append order.
// Returns the index of the first broken record, or -1 if the chain holds.
func VerifyChain(records []*AuditRecord) int {
	prev := ""
	for i, rec := range records {
		if rec.PrevHash != prev || rec.ComputeHash(prev) != rec.Hash {
			return i
		}
		prev = rec.Hash
	}
	return -1
}
