// Package memory provides in-process implementations of the repository
// interfaces. They back unit tests and embedded deployments where no
// PostgreSQL instance is available.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ymiyake/themis/internal/entities"
	"github.com/ymiyake/themis/internal/repositories"
)

// RuleRepository is a mutex-guarded in-memory rule store. Reads take the
// read lock and may proceed concurrently; every write applies the rule and
// its back-reference row inside one critical section, so partial application
// is impossible, and bumps the store version token.
type RuleRepository struct {
	mu sync.RWMutex

	rules   map[string]*entities.Rule
	refs    map[string]string // rule ID -> back-referenced object key
	bundles map[string]string // bundle version -> checksum
	version int64
}

// NewRuleRepository creates an empty in-memory rule store.
func NewRuleRepository() *RuleRepository {
	return &RuleRepository{
		rules:   make(map[string]*entities.Rule),
		refs:    make(map[string]string),
		bundles: make(map[string]string),
		version: 1,
	}
}

// LoadStaticBundle implements repositories.RuleRepository.
func (r *RuleRepository) LoadStaticBundle(ctx context.Context, bundle *entities.PolicyBundle) (string, error) {
	if err := bundle.Validate(); err != nil {
		return "", err
	}
	checksum := bundle.Checksum()

	r.mu.Lock()
	defer r.mu.Unlock()

	if applied, ok := r.bundles[bundle.Version]; ok {
		if applied == checksum {
			// Same version, same content: idempotent no-op.
			return bundle.Version, nil
		}
		return "", fmt.Errorf("%w: bundle version %s already applied with different content",
			entities.ErrImmutableViolation, bundle.Version)
	}

	now := time.Now().UTC()
	for i, rule := range bundle.Rules {
		stored := *rule
		stored.ID = staticRuleID(bundle.Version, i)
		stored.Origin = entities.OriginStatic
		stored.Version = bundle.Version
		stored.CreatedAt = now
		r.rules[stored.ID] = &stored
		r.refs[stored.ID] = stored.Object
	}
	r.bundles[bundle.Version] = checksum
	r.version++
	return bundle.Version, nil
}

// staticRuleID derives a stable ID for a static rule from its bundle version
// and row position, so replays against the same bundle reproduce the same
// matched rule IDs.
func staticRuleID(version string, row int) string {
	return "static:" + version + ":" + strconv.Itoa(row)
}

// CreateDynamicRule implements repositories.RuleRepository.
func (r *RuleRepository) CreateDynamicRule(ctx context.Context, rule *entities.Rule) (string, error) {
	if err := rule.Validate(); err != nil {
		return "", err
	}
	if rule.Origin == entities.OriginStatic {
		return "", fmt.Errorf("%w: static rules load only through bundles", entities.ErrImmutableViolation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rule.ID != "" {
		if _, exists := r.rules[rule.ID]; exists {
			return "", fmt.Errorf("%w: rule %s already exists; delete and recreate instead",
				entities.ErrImmutableViolation, rule.ID)
		}
	}

	stored := *rule
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	stored.Origin = entities.OriginDynamic
	stored.Version = strconv.FormatInt(r.version+1, 10)
	stored.CreatedAt = time.Now().UTC()

	r.rules[stored.ID] = &stored
	r.refs[stored.ID] = stored.Object
	r.version++
	return stored.ID, nil
}

// DeleteDynamicRule implements repositories.RuleRepository.
func (r *RuleRepository) DeleteDynamicRule(ctx context.Context, ruleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule, ok := r.rules[ruleID]
	if !ok {
		return fmt.Errorf("%w: %s", entities.ErrRuleNotFound, ruleID)
	}
	if rule.Origin == entities.OriginStatic {
		return fmt.Errorf("%w: static rule %s cannot be deleted at runtime",
			entities.ErrImmutableViolation, ruleID)
	}
	delete(r.rules, ruleID)
	delete(r.refs, ruleID)
	r.version++
	return nil
}

// FindCandidates implements repositories.RuleRepository. Both allow and deny
// rules are returned; scope filtering is left to the decision engine.
func (r *RuleRepository) FindCandidates(ctx context.Context, filter *repositories.CandidateFilter) ([]*entities.Rule, error) {
	subjects := make(map[string]bool, len(filter.Subjects))
	for _, s := range filter.Subjects {
		subjects[s] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*entities.Rule
	for _, rule := range r.rules {
		if rule.Type != entities.RuleTypePermission {
			continue
		}
		if rule.Action != filter.Action {
			continue
		}
		if !subjects[rule.Subject] {
			continue
		}
		if filter.Object != "" && !entities.MatchObject(filter.Object, rule.Object) {
			continue
		}
		if filter.ObjectType != "" && !objectInType(rule.Object, filter.ObjectType) {
			continue
		}
		cp := *rule
		out = append(out, &cp)
	}
	sortRules(out)
	return out, nil
}

// objectInType reports whether a rule object pattern can cover objects of the
// given type: the bare wildcard, a pattern in the type's namespace, or a
// concrete key of the type.
func objectInType(pattern, objectType string) bool {
	if pattern == "*" {
		return true
	}
	return entities.ScopeType(pattern) == objectType
}

// FindAssignments implements repositories.RuleRepository.
func (r *RuleRepository) FindAssignments(ctx context.Context, subject string) ([]*entities.RoleAssignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*entities.RoleAssignment
	for _, rule := range r.rules {
		if rule.Type != entities.RuleTypeGrouping || rule.Subject != subject {
			continue
		}
		out = append(out, rule.Assignment())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Role != out[j].Role {
			return out[i].Role < out[j].Role
		}
		return out[i].Scope < out[j].Scope
	})
	return out, nil
}

// ListDynamicRules implements repositories.RuleRepository.
func (r *RuleRepository) ListDynamicRules(ctx context.Context) ([]*entities.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*entities.Rule
	for _, rule := range r.rules {
		if rule.Origin != entities.OriginDynamic {
			continue
		}
		cp := *rule
		out = append(out, &cp)
	}
	sortRules(out)
	return out, nil
}

// Version implements repositories.RuleRepository.
func (r *RuleRepository) Version(ctx context.Context) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return strconv.FormatInt(r.version, 10), nil
}

// RuleCount returns the number of stored rules. Test helper.
func (r *RuleRepository) RuleCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

func sortRules(rules []*entities.Rule) {
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
}
