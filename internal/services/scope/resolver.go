// Package scope computes effective scope chains and role expansions from the
// externally authored scope hierarchy.
package scope

import (
	"context"
	"fmt"

	"github.com/ymiyake/themis/internal/entities"
	"github.com/ymiyake/themis/internal/repositories"
)

// MaxChainDepth bounds hierarchy walks. A well-formed deployment has chains a
// handful of levels deep (course -> org -> instance); hitting the bound means
// the feed is malformed even if no edge literally repeats.
const MaxChainDepth = 32

// Resolver answers scope chain and effective-role questions. It only reads
// the hierarchy; the feed is authored and replaced by collaborator services.
type Resolver struct {
	scopeRepo repositories.ScopeRepository
	ruleRepo  repositories.RuleRepository
}

// NewResolver creates a new Resolver.
func NewResolver(scopeRepo repositories.ScopeRepository, ruleRepo repositories.RuleRepository) *Resolver {
	return &Resolver{scopeRepo: scopeRepo, ruleRepo: ruleRepo}
}

// ChainOf returns the scope's ancestor chain ordered most-specific first,
// starting with the scope itself. The walk fails with ErrCycleDetected when
// the hierarchy revisits a scope or exceeds MaxChainDepth.
func (r *Resolver) ChainOf(ctx context.Context, scope string) ([]string, error) {
	chain, _, err := r.chainWithEdges(ctx, scope)
	return chain, err
}

// chainWithEdges walks the chain and also returns the edge traversed at each
// step: edges[i] links chain[i] to chain[i+1].
func (r *Resolver) chainWithEdges(ctx context.Context, scope string) ([]string, []entities.ScopeEdge, error) {
	chain := []string{scope}
	var edges []entities.ScopeEdge
	seen := map[string]bool{scope: true}

	cur := scope
	for {
		edge, ok, err := r.scopeRepo.ParentEdge(ctx, cur)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve parent of %s: %w", cur, err)
		}
		if !ok {
			return chain, edges, nil
		}
		if seen[edge.Parent] {
			return nil, nil, fmt.Errorf("%w: scope %q revisited while resolving %q",
				entities.ErrCycleDetected, edge.Parent, scope)
		}
		if len(chain) >= MaxChainDepth {
			return nil, nil, fmt.Errorf("%w: chain of %q exceeds %d levels",
				entities.ErrCycleDetected, scope, MaxChainDepth)
		}
		seen[edge.Parent] = true
		chain = append(chain, edge.Parent)
		edges = append(edges, edge)
		cur = edge.Parent
	}
}

// RolesEffectiveAt returns the roles effective for the subject at the scope,
// with the scope each underlying assignment was bound at.
//
// An assignment bound at the scope itself is always effective. An assignment
// bound at an ancestor is effective only when every edge between the scope
// and that ancestor is marked cascading: propagation across a scope boundary
// is an explicit opt-in, never an implication of the hierarchy alone.
func (r *Resolver) RolesEffectiveAt(ctx context.Context, subject, scope string) ([]entities.EffectiveRole, error) {
	assignments, err := r.ruleRepo.FindAssignments(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("find assignments for %s: %w", subject, err)
	}
	if len(assignments) == 0 {
		return nil, nil
	}

	chain, edges, err := r.chainWithEdges(ctx, scope)
	if err != nil {
		return nil, err
	}

	// reachable[s] is true when a role bound at scope s propagates down to
	// the request scope: all edges on the way up must cascade.
	reachable := make(map[string]bool, len(chain))
	reachable[chain[0]] = true
	cascading := true
	for i, edge := range edges {
		cascading = cascading && edge.Cascades
		reachable[chain[i+1]] = cascading
	}

	var out []entities.EffectiveRole
	for _, a := range assignments {
		if reachable[a.Scope] {
			out = append(out, entities.EffectiveRole{Role: a.Role, SourceScope: a.Scope})
		}
	}
	return out, nil
}
