// Package services hosts the policy management service, the write-side
// counterpart to the read-only evaluation path.
package services

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ymiyake/themis/internal/entities"
	"github.com/ymiyake/themis/internal/repositories"
	"github.com/ymiyake/themis/internal/services/matcher"
)

// PolicyService is the management interface for the rule store and the scope
// hierarchy feed. Every rule passing through here is validated against the
// matcher registry first, so the evaluation path never sees a predicate it
// cannot match totally.
type PolicyService struct {
	rules    repositories.RuleRepository
	scopes   repositories.ScopeRepository
	matchers *matcher.Registry
}

// NewPolicyService creates a PolicyService.
func NewPolicyService(rules repositories.RuleRepository, scopes repositories.ScopeRepository, matchers *matcher.Registry) *PolicyService {
	return &PolicyService{rules: rules, scopes: scopes, matchers: matchers}
}

// bundleFile is the YAML shape of a policy definition file.
type bundleFile struct {
	Version string `yaml:"version"`
	Rules   []struct {
		Type      string `yaml:"type"`
		Subject   string `yaml:"subject"`
		Action    string `yaml:"action"`
		Object    string `yaml:"object"`
		Role      string `yaml:"role"`
		Scope     string `yaml:"scope"`
		Effect    string `yaml:"effect"`
		Matcher   string `yaml:"matcher"`
		Condition string `yaml:"condition"`
	} `yaml:"rules"`
	Hierarchy []struct {
		Child    string `yaml:"child"`
		Parent   string `yaml:"parent"`
		Cascades bool   `yaml:"cascades"`
	} `yaml:"hierarchy"`
}

// ParseBundleFile reads a YAML policy definition file into a bundle and the
// optional hierarchy edges it carries.
func ParseBundleFile(path string) (*entities.PolicyBundle, []entities.ScopeEdge, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read bundle file: %w", err)
	}
	return parseBundle(data)
}

func parseBundle(data []byte) (*entities.PolicyBundle, []entities.ScopeEdge, error) {
	var file bundleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", entities.ErrMalformedRule, err)
	}

	bundle := &entities.PolicyBundle{
		Version: file.Version,
		Rules:   make([]*entities.Rule, 0, len(file.Rules)),
	}
	for _, row := range file.Rules {
		bundle.Rules = append(bundle.Rules, &entities.Rule{
			Type:      entities.RuleType(row.Type),
			Subject:   row.Subject,
			Action:    row.Action,
			Object:    row.Object,
			Role:      row.Role,
			Scope:     row.Scope,
			Effect:    entities.Effect(row.Effect),
			Origin:    entities.OriginStatic,
			Matcher:   row.Matcher,
			Condition: row.Condition,
		})
	}

	edges := make([]entities.ScopeEdge, 0, len(file.Hierarchy))
	for _, e := range file.Hierarchy {
		edges = append(edges, entities.ScopeEdge{
			Child:    e.Child,
			Parent:   e.Parent,
			Cascades: e.Cascades,
		})
	}
	return bundle, edges, nil
}

// LoadBundleFile parses a YAML definition file and applies it: the rules as a
// static bundle, the hierarchy (if present) as a wholesale feed replacement.
// Returns the applied bundle version.
func (s *PolicyService) LoadBundleFile(ctx context.Context, path string) (string, error) {
	bundle, edges, err := ParseBundleFile(path)
	if err != nil {
		return "", err
	}
	if len(edges) > 0 {
		if err := s.ReplaceHierarchy(ctx, edges); err != nil {
			return "", err
		}
	}
	return s.LoadBundle(ctx, bundle)
}

// LoadBundle validates and loads a static bundle. Loading an already-applied
// version with identical content is a no-op; a different content under the
// same version fails with ErrImmutableViolation.
func (s *PolicyService) LoadBundle(ctx context.Context, bundle *entities.PolicyBundle) (string, error) {
	if err := bundle.Validate(); err != nil {
		return "", err
	}
	for i, rule := range bundle.Rules {
		if err := s.matchers.ValidateRule(rule); err != nil {
			return "", fmt.Errorf("bundle %s row %d: %w", bundle.Version, i, err)
		}
	}
	version, err := s.rules.LoadStaticBundle(ctx, bundle)
	if err != nil {
		return "", fmt.Errorf("load bundle %s: %w", bundle.Version, err)
	}
	return version, nil
}

// CreateRule stores a new dynamic rule and returns its ID. The rule's origin
// is forced to dynamic; static rules only ever enter through bundles.
func (s *PolicyService) CreateRule(ctx context.Context, rule *entities.Rule) (string, error) {
	rule.Origin = entities.OriginDynamic
	if err := rule.Validate(); err != nil {
		return "", err
	}
	if err := s.matchers.ValidateRule(rule); err != nil {
		return "", err
	}
	id, err := s.rules.CreateDynamicRule(ctx, rule)
	if err != nil {
		return "", fmt.Errorf("create dynamic rule: %w", err)
	}
	return id, nil
}

// DeleteRule removes a dynamic rule. Deleting a static rule fails with
// ErrImmutableViolation.
func (s *PolicyService) DeleteRule(ctx context.Context, ruleID string) error {
	if ruleID == "" {
		return entities.NewValidationError("rule_id", "is required")
	}
	if err := s.rules.DeleteDynamicRule(ctx, ruleID); err != nil {
		return fmt.Errorf("delete dynamic rule %s: %w", ruleID, err)
	}
	return nil
}

// ReplaceHierarchy swaps in a new scope hierarchy feed after validating it
// for structure and acyclicity.
func (s *PolicyService) ReplaceHierarchy(ctx context.Context, edges []entities.ScopeEdge) error {
	if err := s.scopes.ReplaceHierarchy(ctx, edges); err != nil {
		return fmt.Errorf("replace hierarchy: %w", err)
	}
	return nil
}
