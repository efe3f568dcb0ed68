package entities

import "fmt"

// ScopeEdge is one child -> parent link in the scope hierarchy.
// The hierarchy is authored by collaborator services and read-only to the
// engine; edges are revalidated for acyclicity on every load.
type ScopeEdge struct {
	Child  string
	Parent string

	// Cascades opts the edge into role propagation: a role bound at Parent is
	// effective at Child (and below, if further edges cascade) only when this
	// flag is set. Default is non-cascading.
	Cascades bool
}

// Validate checks structural validity of a hierarchy edge.
func (e *ScopeEdge) Validate() error {
	if e.Child == "" {
		return fmt.Errorf("%w: hierarchy edge requires child scope", ErrMalformedRule)
	}
	if e.Parent == "" {
		return fmt.Errorf("%w: hierarchy edge requires parent scope", ErrMalformedRule)
	}
	if e.Child == e.Parent {
		return fmt.Errorf("%w: scope %q links to itself", ErrCycleDetected, e.Child)
	}
	return nil
}

// ValidateHierarchy checks a full edge feed: every edge well formed, at most
// one parent per child, and no cycles anywhere in the graph. Feeds that fail
// are rejected wholesale so the previously loaded hierarchy stays intact.
func ValidateHierarchy(edges []ScopeEdge) error {
	parent := make(map[string]string, len(edges))
	for i := range edges {
		if err := edges[i].Validate(); err != nil {
			return err
		}
		if existing, ok := parent[edges[i].Child]; ok && existing != edges[i].Parent {
			return fmt.Errorf("%w: scope %q has parents %q and %q",
				ErrMalformedRule, edges[i].Child, existing, edges[i].Parent)
		}
		parent[edges[i].Child] = edges[i].Parent
	}

	// Walk each chain; a chain longer than the edge count has revisited a node.
	for child := range parent {
		seen := map[string]bool{child: true}
		cur := child
		for {
			next, ok := parent[cur]
			if !ok {
				break
			}
			if seen[next] {
				return fmt.Errorf("%w: cycle through scope %q", ErrCycleDetected, next)
			}
			seen[next] = true
			cur = next
		}
	}
	return nil
}

// EffectiveRole is a role found effective at a scope, together with the scope
// the underlying assignment was bound at. Decisions keep the source scope so
// a trace can explain where a role came from.
type EffectiveRole struct {
	Role        string
	SourceScope string
}
