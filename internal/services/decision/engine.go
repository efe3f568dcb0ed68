// Package decision orchestrates rule store, scope resolver and matcher into
// auditable allow/deny decisions.
package decision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ymiyake/themis/internal/entities"
	"github.com/ymiyake/themis/internal/infrastructure/metrics"
	"github.com/ymiyake/themis/internal/repositories"
	"github.com/ymiyake/themis/internal/services/matcher"
	"github.com/ymiyake/themis/pkg/cache"
)

// ScopeResolver is the slice of the scope service the engine needs.
// Defined here to allow test doubles without importing the implementation.
type ScopeResolver interface {
	ChainOf(ctx context.Context, scope string) ([]string, error)
	RolesEffectiveAt(ctx context.Context, subject, scope string) ([]entities.EffectiveRole, error)
}

// EngineInterface defines the evaluation contract consumed by the façade.
type EngineInterface interface {
	Evaluate(ctx context.Context, req *entities.Request) (*entities.Decision, error)
	ListCandidateObjects(ctx context.Context, subject, action, objectType string) ([]string, error)
}

// Engine evaluates S-A-O-C requests against the rule store. Evaluation holds
// no locks: candidates are fetched once at the start, so a concurrent write
// never produces a decision mixing old and new rule sets.
type Engine struct {
	rules    repositories.RuleRepository
	scopes   ScopeResolver
	matchers *matcher.Registry

	cache    cache.Cache // optional decision cache
	cacheTTL time.Duration

	metrics *metrics.Metrics // nil-safe
}

// NewEngine creates an Engine without caching.
func NewEngine(rules repositories.RuleRepository, scopes ScopeResolver, matchers *matcher.Registry) *Engine {
	return &Engine{rules: rules, scopes: scopes, matchers: matchers}
}

// NewEngineWithCache creates an Engine with a decision cache. Keys include
// the rule-store version token, so any write coarsely invalidates the whole
// cache class.
func NewEngineWithCache(
	rules repositories.RuleRepository,
	scopes ScopeResolver,
	matchers *matcher.Registry,
	c cache.Cache,
	cacheTTL time.Duration,
	m *metrics.Metrics,
) *Engine {
	return &Engine{
		rules:    rules,
		scopes:   scopes,
		matchers: matchers,
		cache:    c,
		cacheTTL: cacheTTL,
		metrics:  m,
	}
}

// matchedRule pairs a matched candidate with its scope-chain depth.
type matchedRule struct {
	rule  *entities.Rule
	depth int
}

// Evaluate runs the full decision algorithm:
//
//  1. expand the subject into its effective role subjects at the request scope
//  2. fetch the candidate rule snapshot (allow and deny) in one read
//  3. keep candidates whose scope lies on the request's scope chain, run the
//     matcher over each
//  4. combine: most specific scope wins; deny overrides allow at equal
//     depth; no match at all is a deny (default-deny)
//
// Errors indicate the engine could not produce a trustworthy decision
// (store outage, broken hierarchy, cancelled context); callers must treat
// every error as deny.
func (e *Engine) Evaluate(ctx context.Context, req *entities.Request) (*entities.Decision, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	started := time.Now()

	version, err := e.rules.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("read store version: %w", err)
	}

	// Context attributes make results request-unique; only context-free
	// tuples are worth caching.
	useCache := e.cache != nil && len(req.Context) == 0
	var cacheKey string
	if useCache {
		cacheKey = e.cacheKey(req, version)
		if cached, found := e.cache.Get(ctx, cacheKey); found {
			if d, ok := cached.(*entities.Decision); ok {
				e.metrics.RecordCacheHit()
				return d, nil
			}
		}
		e.metrics.RecordCacheMiss()
	}

	chain, err := e.scopes.ChainOf(ctx, req.Scope)
	if err != nil {
		return nil, fmt.Errorf("resolve scope chain: %w", err)
	}
	depthOf := make(map[string]int, len(chain))
	for i, s := range chain {
		depthOf[s] = i
	}

	roles, err := e.scopes.RolesEffectiveAt(ctx, req.Subject, req.Scope)
	if err != nil {
		return nil, fmt.Errorf("expand roles: %w", err)
	}
	subjects := make([]string, 0, len(roles)+1)
	subjects = append(subjects, req.Subject)
	for _, r := range roles {
		subjects = append(subjects, entities.RoleSubject(r.Role))
	}

	// Point-in-time snapshot of the candidate set; everything after this
	// line works on the fetched slice only.
	candidates, err := e.rules.FindCandidates(ctx, &repositories.CandidateFilter{
		Action:   req.Action,
		Object:   req.Object,
		Subjects: subjects,
	})
	if err != nil {
		return nil, fmt.Errorf("find candidates: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	consulted := make(map[string]any)
	var matched []matchedRule
	for _, rule := range candidates {
		depth, onChain := depthOf[rule.Scope]
		if !onChain {
			continue
		}
		result := e.matchers.Evaluate(req, rule)
		for k, v := range result.Consulted {
			consulted[k] = v
		}
		if result.Matched {
			matched = append(matched, matchedRule{rule: rule, depth: depth})
		}
	}

	effect, winner := combine(matched)

	d := &entities.Decision{
		ID:                  uuid.NewString(),
		Effect:              effect,
		ScopeChain:          chain,
		EffectiveRoles:      roles,
		AttributesConsulted: consulted,
		Request:             req.Snapshot(),
		StoreVersion:        version,
		EvaluatedAt:         time.Now().UTC(),
	}
	if winner != nil {
		d.MatchedRuleID = winner.ID
	}

	if useCache {
		_ = e.cache.Set(ctx, cacheKey, d, e.cacheTTL)
	}
	e.metrics.RecordDecision(string(effect))
	e.metrics.RecordDuration(time.Since(started).Seconds())
	return d, nil
}

// combine applies the combination policy over the matched rule set:
// the smallest chain depth with any match decides; at that depth an explicit
// deny beats any allow; no match is the default deny. Same-depth allow/allow
// resolves to allow and deny/deny to deny, with the lexically smallest rule
// ID recorded as the deciding rule for determinism.
func combine(matched []matchedRule) (entities.Effect, *entities.Rule) {
	if len(matched) == 0 {
		return entities.EffectDeny, nil
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].depth != matched[j].depth {
			return matched[i].depth < matched[j].depth
		}
		// Deny sorts before allow at the same depth.
		if matched[i].rule.Effect != matched[j].rule.Effect {
			return matched[i].rule.Effect == entities.EffectDeny
		}
		return matched[i].rule.ID < matched[j].rule.ID
	})

	winner := matched[0].rule
	return winner.Effect, winner
}

// ListCandidateObjects enumerates the distinct concrete objects of a type
// that any candidate rule names for the action, across the subject's direct
// key and every role it holds anywhere. This bounds list-allowed-objects to
// the rule store; there is no external catalog scan. Wildcard-object rules
// cannot be enumerated and are skipped here; they still participate when the
// façade evaluates each candidate object.
func (e *Engine) ListCandidateObjects(ctx context.Context, subject, action, objectType string) ([]string, error) {
	assignments, err := e.rules.FindAssignments(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("find assignments: %w", err)
	}
	subjects := []string{subject}
	seenRole := make(map[string]bool)
	for _, a := range assignments {
		key := entities.RoleSubject(a.Role)
		if !seenRole[key] {
			seenRole[key] = true
			subjects = append(subjects, key)
		}
	}

	candidates, err := e.rules.FindCandidates(ctx, &repositories.CandidateFilter{
		Action:     action,
		ObjectType: objectType,
		Subjects:   subjects,
	})
	if err != nil {
		return nil, fmt.Errorf("find candidates: %w", err)
	}

	seen := make(map[string]bool)
	var objects []string
	for _, rule := range candidates {
		if strings.Contains(rule.Object, "*") {
			continue
		}
		if !seen[rule.Object] {
			seen[rule.Object] = true
			objects = append(objects, rule.Object)
		}
	}
	sort.Strings(objects)
	return objects, nil
}

// cacheKey derives the cache key from the store version and the full request
// tuple, hashed to keep keys short.
func (e *Engine) cacheKey(req *entities.Request, version string) string {
	keyData := fmt.Sprintf("%s:%s:%s:%s:%s",
		version, req.Subject, req.Action, req.Object, req.Scope)
	sum := sha256.Sum256([]byte(keyData))
	return hex.EncodeToString(sum[:])
}
