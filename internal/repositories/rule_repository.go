package repositories

import (
	"context"

	"github.com/ymiyake/themis/internal/entities"
)

// CandidateFilter defines the criteria for fetching candidate permission
// rules. The store matches on action, object pattern and subject set only;
// scope-chain filtering is the decision engine's job, which keeps the store
// scope-agnostic and testable in isolation.
type CandidateFilter struct {
	// Action to match exactly.
	Action string

	// Object is the concrete object key; rules match when their object
	// pattern covers it.
	Object string

	// ObjectType, when set instead of Object, matches rules whose object
	// belongs to the type (used by list-allowed-objects enumeration).
	ObjectType string

	// Subjects is the request subject plus its effective role subjects.
	Subjects []string
}

// RuleRepository is the rule store: versioned policy rules (static and
// dynamic) plus grouping rules. It owns rule lifecycle and performs no
// evaluation. All write operations are atomic with their back-reference
// bookkeeping; a rule can never exist half-applied.
type RuleRepository interface {
	// LoadStaticBundle loads a versioned static bundle. Idempotent per
	// version: reloading an already-applied version with the same checksum is
	// a no-op; the same version with a different checksum fails with
	// ErrImmutableViolation. Any malformed row fails the whole load with
	// ErrMalformedRule and the prior rule set stays in effect.
	LoadStaticBundle(ctx context.Context, bundle *entities.PolicyBundle) (version string, err error)

	// CreateDynamicRule stores a new dynamic rule and returns its ID. Rules
	// carrying an ID that already exists fail with ErrImmutableViolation:
	// change is delete plus recreate, never update.
	CreateDynamicRule(ctx context.Context, rule *entities.Rule) (ruleID string, err error)

	// DeleteDynamicRule removes a dynamic rule. Static rules cannot be
	// deleted through this interface; attempting to fails with
	// ErrImmutableViolation.
	DeleteDynamicRule(ctx context.Context, ruleID string) error

	// FindCandidates returns every permission rule, allow and deny alike,
	// matching the filter regardless of scope-chain position.
	FindCandidates(ctx context.Context, filter *CandidateFilter) ([]*entities.Rule, error)

	// FindAssignments returns the grouping rules binding the subject to
	// roles, across all scopes.
	FindAssignments(ctx context.Context, subject string) ([]*entities.RoleAssignment, error)

	// ListDynamicRules returns all dynamic rules, used by the reconciler.
	ListDynamicRules(ctx context.Context) ([]*entities.Rule, error)

	// Version returns the current store version token. Any write bumps it;
	// the decision cache keys on it for coarse invalidation.
	Version(ctx context.Context) (string, error)
}
