package repositories

import (
	"context"

	"github.com/ymiyake/themis/internal/entities"
)

// ScopeRepository holds the scope hierarchy feed supplied by collaborator
// services. The engine only ever reads it; the feed is replaced wholesale and
// revalidated for acyclicity on every load.
type ScopeRepository interface {
	// ReplaceHierarchy atomically swaps in a new edge feed. A feed containing
	// a cycle fails with ErrCycleDetected and leaves the existing hierarchy
	// untouched.
	ReplaceHierarchy(ctx context.Context, edges []entities.ScopeEdge) error

	// ParentEdge returns the edge leading from the scope to its parent,
	// or false when the scope is a root.
	ParentEdge(ctx context.Context, scope string) (entities.ScopeEdge, bool, error)

	// Edges returns the full current hierarchy.
	Edges(ctx context.Context) ([]entities.ScopeEdge, error)
}
