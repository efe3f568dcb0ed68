package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ymiyake/themis/internal/entities"
)

// ScopeRepository stores the scope hierarchy feed in PostgreSQL. The feed is
// replaced wholesale inside one transaction; validation happens before any
// row is touched, so a cyclic feed leaves the loaded hierarchy intact.
type ScopeRepository struct {
	db *sql.DB
}

// NewScopeRepository creates a new PostgreSQL scope repository.
func NewScopeRepository(db *sql.DB) *ScopeRepository {
	return &ScopeRepository{db: db}
}

// ReplaceHierarchy implements repositories.ScopeRepository.
func (r *ScopeRepository) ReplaceHierarchy(ctx context.Context, edges []entities.ScopeEdge) error {
	if err := entities.ValidateHierarchy(edges); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scope_edges`); err != nil {
		return storeErr("clear hierarchy", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO scope_edges (child_scope, parent_scope, cascades, loaded_at)
		VALUES ($1, $2, $3, $4)
	`)
	if err != nil {
		return storeErr("prepare edge insert", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, e := range edges {
		if _, err := stmt.ExecContext(ctx, e.Child, e.Parent, e.Cascades, now); err != nil {
			return storeErr("insert edge", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit hierarchy", err)
	}
	return nil
}

// ParentEdge implements repositories.ScopeRepository.
func (r *ScopeRepository) ParentEdge(ctx context.Context, scope string) (entities.ScopeEdge, bool, error) {
	var e entities.ScopeEdge
	err := r.db.QueryRowContext(ctx, `
		SELECT child_scope, parent_scope, cascades
		FROM scope_edges
		WHERE child_scope = $1
	`, scope).Scan(&e.Child, &e.Parent, &e.Cascades)
	if errors.Is(err, sql.ErrNoRows) {
		return entities.ScopeEdge{}, false, nil
	}
	if err != nil {
		return entities.ScopeEdge{}, false, storeErr("read parent edge", err)
	}
	return e, true, nil
}

// Edges implements repositories.ScopeRepository.
func (r *ScopeRepository) Edges(ctx context.Context) ([]entities.ScopeEdge, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT child_scope, parent_scope, cascades
		FROM scope_edges
		ORDER BY child_scope
	`)
	if err != nil {
		return nil, storeErr("read edges", err)
	}
	defer rows.Close()

	var out []entities.ScopeEdge
	for rows.Next() {
		var e entities.ScopeEdge
		if err := rows.Scan(&e.Child, &e.Parent, &e.Cascades); err != nil {
			return nil, storeErr("scan edge", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate edges", err)
	}
	return out, nil
}
