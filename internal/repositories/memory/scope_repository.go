package memory

import (
	"context"
	"sync"

	"github.com/ymiyake/themis/internal/entities"
)

// ScopeRepository holds the scope hierarchy feed in memory. Loads validate
// acyclicity before swapping the edge set, so a rejected feed never corrupts
// the hierarchy in use.
type ScopeRepository struct {
	mu    sync.RWMutex
	edges map[string]entities.ScopeEdge // child scope -> edge to parent
}

// NewScopeRepository creates an empty in-memory hierarchy.
func NewScopeRepository() *ScopeRepository {
	return &ScopeRepository{edges: make(map[string]entities.ScopeEdge)}
}

// ReplaceHierarchy implements repositories.ScopeRepository.
func (r *ScopeRepository) ReplaceHierarchy(ctx context.Context, edges []entities.ScopeEdge) error {
	if err := entities.ValidateHierarchy(edges); err != nil {
		return err
	}

	next := make(map[string]entities.ScopeEdge, len(edges))
	for _, e := range edges {
		next[e.Child] = e
	}

	r.mu.Lock()
	r.edges = next
	r.mu.Unlock()
	return nil
}

// ParentEdge implements repositories.ScopeRepository.
func (r *ScopeRepository) ParentEdge(ctx context.Context, scope string) (entities.ScopeEdge, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.edges[scope]
	return e, ok, nil
}

// Edges implements repositories.ScopeRepository.
func (r *ScopeRepository) Edges(ctx context.Context) ([]entities.ScopeEdge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]entities.ScopeEdge, 0, len(r.edges))
	for _, e := range r.edges {
		out = append(out, e)
	}
	return out, nil
}
