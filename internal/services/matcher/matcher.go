// Package matcher evaluates a single request against a single candidate
// rule. Matching is a pure function: no I/O, no side effects, total for
// well-formed input. Malformed rule predicates are rejected at load time via
// ValidateRule, never at match time.
package matcher

import (
	"fmt"

	"github.com/ymiyake/themis/internal/entities"
)

// Result is the outcome of evaluating one (request, rule) pair.
type Result struct {
	Matched bool

	// Consulted records the attribute keys the matcher read and the values it
	// saw, for audit completeness.
	Consulted map[string]any
}

// Matcher is the capability interface for pluggable rule matching. The
// decision engine selects an implementation per rule by name, which keeps
// attribute logic growth out of the engine itself.
//
// Implementations must be pure predicates over the request and rule, and
// must declare the attribute keys they read via ConsultedKeys.
type Matcher interface {
	Name() string

	// ConsultedKeys reports the attribute keys the matcher will read when
	// evaluating the rule.
	ConsultedKeys(rule *entities.Rule) []string

	// Matches reports whether the rule applies to the request. Subject-set
	// membership and scope-chain position are established by the decision
	// engine before a rule reaches the matcher.
	Matches(req *entities.Request, rule *entities.Rule) (bool, error)

	// ValidateRule checks the rule's matcher-specific predicate. Called at
	// rule load/create time so matching stays total afterwards.
	ValidateRule(rule *entities.Rule) error
}

// Registry holds named matcher implementations. The zero name resolves to
// the exact matcher.
type Registry struct {
	matchers map[string]Matcher
}

// NewRegistry creates a registry with the default exact matcher installed.
func NewRegistry() *Registry {
	r := &Registry{matchers: make(map[string]Matcher)}
	r.Register(NewExactMatcher())
	return r
}

// Register installs a matcher under its name, replacing any previous one.
func (r *Registry) Register(m Matcher) {
	r.matchers[m.Name()] = m
}

// Get returns the matcher a rule selects.
func (r *Registry) Get(rule *entities.Rule) (Matcher, error) {
	name := rule.Matcher
	if name == "" {
		name = ExactMatcherName
	}
	m, ok := r.matchers[name]
	if !ok {
		return nil, fmt.Errorf("%w: rule %s references unknown matcher %q",
			entities.ErrMalformedRule, rule.ID, name)
	}
	return m, nil
}

// ValidateRule checks that the rule's matcher exists and accepts the rule's
// predicate. Load paths call this so evaluation never sees a rule it cannot
// match totally.
func (r *Registry) ValidateRule(rule *entities.Rule) error {
	m, err := r.Get(rule)
	if err != nil {
		return err
	}
	return m.ValidateRule(rule)
}

// Evaluate runs the rule's matcher against the request. Total for rules that
// passed load-time validation; an unknown matcher or a predicate runtime
// failure resolves to no-match rather than an error, keeping the evaluation
// path fail-closed.
func (r *Registry) Evaluate(req *entities.Request, rule *entities.Rule) Result {
	m, err := r.Get(rule)
	if err != nil {
		return Result{Matched: false}
	}

	consulted := make(map[string]any)
	for _, key := range m.ConsultedKeys(rule) {
		consulted[key] = consultedValue(req, key)
	}

	matched, err := m.Matches(req, rule)
	if err != nil {
		return Result{Matched: false, Consulted: consulted}
	}
	return Result{Matched: matched, Consulted: consulted}
}

// consultedValue resolves a declared attribute key against the request. The
// well-known S-A-O-C keys read the tuple itself; anything else reads the
// request context.
func consultedValue(req *entities.Request, key string) any {
	switch key {
	case "subject":
		return req.Subject
	case "action":
		return req.Action
	case "object":
		return req.Object
	case "scope":
		return req.Scope
	default:
		if req.Context == nil {
			return nil
		}
		return req.Context[key]
	}
}
