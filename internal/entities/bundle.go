package entities

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// PolicyBundle is a versioned static rule definition set. Bundles are
// consumed at service start; loading the same version twice is a no-op,
// detected by version plus checksum.
type PolicyBundle struct {
	Version string
	Rules   []*Rule
}

// Checksum returns a deterministic hash over the bundle's version and rule
// tuples, used for idempotent loads.
func (b *PolicyBundle) Checksum() string {
	type row struct {
		Type      RuleType `json:"type"`
		Subject   string   `json:"subject"`
		Action    string   `json:"action"`
		Object    string   `json:"object"`
		Role      string   `json:"role"`
		Scope     string   `json:"scope"`
		Effect    Effect   `json:"effect"`
		Matcher   string   `json:"matcher"`
		Condition string   `json:"condition"`
	}
	rows := make([]row, len(b.Rules))
	for i, r := range b.Rules {
		rows[i] = row{
			Type:      r.Type,
			Subject:   r.Subject,
			Action:    r.Action,
			Object:    r.Object,
			Role:      r.Role,
			Scope:     r.Scope,
			Effect:    r.Effect,
			Matcher:   r.Matcher,
			Condition: r.Condition,
		}
	}
	data, _ := json.Marshal(struct {
		Version string `json:"version"`
		Rows    []row  `json:"rows"`
	}{Version: b.Version, Rows: rows})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Validate checks every rule in the bundle. A single malformed row fails the
// whole bundle, identifying the offending row, so loads are all-or-nothing.
func (b *PolicyBundle) Validate() error {
	if b.Version == "" {
		return fmt.Errorf("%w: bundle version is required", ErrMalformedRule)
	}
	for i, r := range b.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("bundle %s row %d: %w", b.Version, i, err)
		}
	}
	return nil
}
