package matcher

import (
	"github.com/ymiyake/themis/internal/entities"
)

// ExactMatcherName is the registry name of the default matcher.
const ExactMatcherName = "exact"

// ExactMatcher is the default rule matcher: exact equality on the action and
// pattern equality on the object. The candidate fetch has already restricted
// rules to the expanded subject set, and the engine has already placed the
// rule's scope on the request's chain, so those dimensions need no
// re-derivation here; the matcher still consults them for the audit trail.
type ExactMatcher struct{}

// NewExactMatcher creates the default matcher.
func NewExactMatcher() *ExactMatcher {
	return &ExactMatcher{}
}

func (m *ExactMatcher) Name() string { return ExactMatcherName }

func (m *ExactMatcher) ConsultedKeys(rule *entities.Rule) []string {
	return []string{"subject", "action", "object", "scope"}
}

func (m *ExactMatcher) Matches(req *entities.Request, rule *entities.Rule) (bool, error) {
	if rule.Type != entities.RuleTypePermission {
		return false, nil
	}
	if rule.Action != req.Action {
		return false, nil
	}
	return entities.MatchObject(req.Object, rule.Object), nil
}

// ValidateRule accepts any structurally valid permission rule.
func (m *ExactMatcher) ValidateRule(rule *entities.Rule) error {
	return rule.Validate()
}
