package entities

import (
	"fmt"
	"strings"
	"time"
)

// RuleType distinguishes permission rules from grouping (role assignment) rules.
type RuleType string

const (
	// RuleTypePermission grants or denies an action on an object within a scope.
	RuleTypePermission RuleType = "permission"

	// RuleTypeGrouping binds a subject to a role within a scope.
	RuleTypeGrouping RuleType = "grouping"
)

// Effect is the outcome a permission rule contributes to a decision.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Origin records how a rule entered the store.
type Origin string

const (
	// OriginStatic rules ship with a versioned definition bundle, are loaded
	// once at service start and never mutated afterwards.
	OriginStatic Origin = "static"

	// OriginDynamic rules are created and deleted at runtime through the
	// management interface. A change is a delete plus a recreate; every
	// recreate is a new rule with a new ID and version.
	OriginDynamic Origin = "dynamic"
)

// Namespace prefixes for the keys stored in rules. Subjects, roles and scopes
// share one flat string space, so every key carries its kind up front
// (e.g. "user:alice", "role:library_admin", "course:CS101").
const (
	SubjectNamespace = "user"
	RoleNamespace    = "role"
	KeySeparator     = ":"
)

// RoleSubject returns the subject key under which a role's permission rules
// are stored (e.g. "role:library_admin").
func RoleSubject(role string) string {
	if strings.HasPrefix(role, RoleNamespace+KeySeparator) {
		return role
	}
	return RoleNamespace + KeySeparator + role
}

// IsRoleSubject reports whether the subject key names a role rather than a
// concrete principal.
func IsRoleSubject(subject string) bool {
	return strings.HasPrefix(subject, RoleNamespace+KeySeparator)
}

// ScopeType returns the namespace portion of a scope key ("course:CS101" ->
// "course"). Keys without a separator are their own type (e.g. "instance").
func ScopeType(scope string) string {
	if i := strings.Index(scope, KeySeparator); i >= 0 {
		return scope[:i]
	}
	return scope
}

// Rule is a stored policy entry. Rules are value objects: there is no update
// operation anywhere in the engine, only create and delete, so immutability
// after creation is structural rather than a runtime check.
type Rule struct {
	ID      string
	Type    RuleType
	Subject string // principal or role subject key
	Action  string
	Object  string // concrete object key or pattern ("library:*", "*")
	Role    string // grouping rules only: the role being bound
	Scope   string
	Effect  Effect
	Origin  Origin

	// Matcher selects a registered matcher implementation for this rule.
	// Empty means the default exact matcher.
	Matcher string

	// Condition holds the matcher-specific predicate source (e.g. a CEL
	// expression for the condition matcher). Validated at load time.
	Condition string

	Version   string
	CreatedAt time.Time
}

// Validate checks structural validity of a rule definition. Malformed rules
// are rejected at load/create time so that matching stays total.
func (r *Rule) Validate() error {
	switch r.Type {
	case RuleTypePermission:
		if r.Subject == "" {
			return fmt.Errorf("%w: permission rule requires subject", ErrMalformedRule)
		}
		if r.Action == "" {
			return fmt.Errorf("%w: permission rule requires action", ErrMalformedRule)
		}
		if r.Object == "" {
			return fmt.Errorf("%w: permission rule requires object", ErrMalformedRule)
		}
		if r.Scope == "" {
			return fmt.Errorf("%w: permission rule requires scope", ErrMalformedRule)
		}
		if r.Effect != EffectAllow && r.Effect != EffectDeny {
			return fmt.Errorf("%w: effect must be allow or deny, got %q", ErrMalformedRule, r.Effect)
		}
	case RuleTypeGrouping:
		if r.Subject == "" {
			return fmt.Errorf("%w: grouping rule requires subject", ErrMalformedRule)
		}
		if r.Role == "" {
			return fmt.Errorf("%w: grouping rule requires role", ErrMalformedRule)
		}
		if r.Scope == "" {
			return fmt.Errorf("%w: grouping rule requires scope", ErrMalformedRule)
		}
	default:
		return fmt.Errorf("%w: unknown rule type %q", ErrMalformedRule, r.Type)
	}
	return nil
}

// Assignment converts a grouping rule into its RoleAssignment view.
// Returns nil for permission rules.
func (r *Rule) Assignment() *RoleAssignment {
	if r.Type != RuleTypeGrouping {
		return nil
	}
	return &RoleAssignment{
		Subject: r.Subject,
		Role:    r.Role,
		Scope:   r.Scope,
	}
}

// RoleAssignment binds a subject to a role within one specific scope.
// Assignments never cascade across scopes on their own; any cascade is
// computed by the scope resolver from explicit hierarchy edges.
type RoleAssignment struct {
	Subject string
	Role    string
	Scope   string
}

// MatchObject reports whether a concrete object key matches a rule object
// pattern. Patterns support a trailing "*" segment ("library:*") and the
// bare "*" wildcard; everything else is exact equality.
func MatchObject(object, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(object, strings.TrimSuffix(pattern, "*"))
	}
	return object == pattern
}
