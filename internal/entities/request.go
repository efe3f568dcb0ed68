package entities

import (
	"sort"
)

// Request is an ephemeral subject-action-object-context tuple. It is never
// persisted; the decision carries its own snapshot of the request.
type Request struct {
	Subject string
	Action  string
	Object  string
	Scope   string

	// Context carries optional request attributes consumed by pluggable
	// matchers (e.g. the CEL condition matcher). Nil is equivalent to empty.
	Context map[string]any
}

// Validate rejects requests missing a required S-A-O-C field before any
// evaluation begins.
func (r *Request) Validate() error {
	if r.Subject == "" {
		return NewValidationError("subject", "is required")
	}
	if r.Action == "" {
		return NewValidationError("action", "is required")
	}
	if r.Object == "" {
		return NewValidationError("object", "is required")
	}
	if r.Scope == "" {
		return NewValidationError("scope", "is required")
	}
	return nil
}

// Snapshot returns a deep copy of the request suitable for embedding in an
// immutable decision.
func (r *Request) Snapshot() Request {
	snap := Request{
		Subject: r.Subject,
		Action:  r.Action,
		Object:  r.Object,
		Scope:   r.Scope,
	}
	if len(r.Context) > 0 {
		snap.Context = make(map[string]any, len(r.Context))
		for k, v := range r.Context {
			snap.Context[k] = v
		}
	}
	return snap
}

// ContextKeys returns the request context keys in sorted order.
// Used for deterministic cache keys and decision fingerprints.
func (r *Request) ContextKeys() []string {
	if len(r.Context) == 0 {
		return nil
	}
	keys := make([]string, 0, len(r.Context))
	for k := range r.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
