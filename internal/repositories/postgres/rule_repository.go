// Package postgres implements the repository interfaces on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ymiyake/themis/internal/entities"
	"github.com/ymiyake/themis/internal/repositories"
)

// RuleRepository implements repositories.RuleRepository using PostgreSQL.
// Every write runs in a transaction that also writes the rule's
// back-reference row and bumps the store version, so a rule can never exist
// without its bookkeeping or leave the cache key stale.
type RuleRepository struct {
	db *sql.DB
}

// NewRuleRepository creates a new PostgreSQL rule repository.
func NewRuleRepository(db *sql.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

// LoadStaticBundle implements repositories.RuleRepository.
func (r *RuleRepository) LoadStaticBundle(ctx context.Context, bundle *entities.PolicyBundle) (string, error) {
	if err := bundle.Validate(); err != nil {
		return "", err
	}
	checksum := bundle.Checksum()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", storeErr("begin transaction", err)
	}
	defer tx.Rollback()

	var applied string
	err = tx.QueryRowContext(ctx,
		`SELECT checksum FROM bundles WHERE version = $1 FOR UPDATE`, bundle.Version,
	).Scan(&applied)
	switch {
	case err == nil:
		if applied == checksum {
			// Same version, same content: idempotent no-op.
			return bundle.Version, nil
		}
		return "", fmt.Errorf("%w: bundle version %s already applied with different content",
			entities.ErrImmutableViolation, bundle.Version)
	case errors.Is(err, sql.ErrNoRows):
		// First load of this version.
	default:
		return "", storeErr("read bundle", err)
	}

	insertRule, err := tx.PrepareContext(ctx, `
		INSERT INTO rules (
			id, rule_type, subject, action, object, role, scope, effect,
			origin, matcher, condition, version, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`)
	if err != nil {
		return "", storeErr("prepare rule insert", err)
	}
	defer insertRule.Close()

	now := time.Now().UTC()
	for i, rule := range bundle.Rules {
		id := fmt.Sprintf("static:%s:%d", bundle.Version, i)
		_, err := insertRule.ExecContext(ctx,
			id, rule.Type, rule.Subject, rule.Action, nullable(rule.Object), nullable(rule.Role),
			rule.Scope, nullable(string(rule.Effect)), entities.OriginStatic,
			nullable(rule.Matcher), nullable(rule.Condition), bundle.Version, now,
		)
		if err != nil {
			return "", storeErr("insert static rule", err)
		}
		if err := insertBackRef(ctx, tx, id, rule.Object); err != nil {
			return "", err
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO bundles (version, checksum, loaded_at) VALUES ($1, $2, $3)`,
		bundle.Version, checksum, now,
	)
	if err != nil {
		return "", storeErr("record bundle", err)
	}

	if err := bumpVersion(ctx, tx); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", storeErr("commit bundle load", err)
	}
	return bundle.Version, nil
}

// CreateDynamicRule implements repositories.RuleRepository.
func (r *RuleRepository) CreateDynamicRule(ctx context.Context, rule *entities.Rule) (string, error) {
	if err := rule.Validate(); err != nil {
		return "", err
	}
	if rule.Origin == entities.OriginStatic {
		return "", fmt.Errorf("%w: static rules load only through bundles", entities.ErrImmutableViolation)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", storeErr("begin transaction", err)
	}
	defer tx.Rollback()

	id := rule.ID
	if id == "" {
		id = uuid.NewString()
	} else {
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM rules WHERE id = $1)`, id,
		).Scan(&exists)
		if err != nil {
			return "", storeErr("check rule existence", err)
		}
		if exists {
			return "", fmt.Errorf("%w: rule %s already exists; delete and recreate instead",
				entities.ErrImmutableViolation, id)
		}
	}

	version, err := currentVersion(ctx, tx)
	if err != nil {
		return "", err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rules (
			id, rule_type, subject, action, object, role, scope, effect,
			origin, matcher, condition, version, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		id, rule.Type, rule.Subject, rule.Action, nullable(rule.Object), nullable(rule.Role),
		rule.Scope, nullable(string(rule.Effect)), entities.OriginDynamic,
		nullable(rule.Matcher), nullable(rule.Condition), strconv.FormatInt(version+1, 10), time.Now().UTC(),
	)
	if err != nil {
		return "", storeErr("insert dynamic rule", err)
	}
	if err := insertBackRef(ctx, tx, id, rule.Object); err != nil {
		return "", err
	}
	if err := bumpVersion(ctx, tx); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", storeErr("commit rule create", err)
	}
	return id, nil
}

// DeleteDynamicRule implements repositories.RuleRepository.
func (r *RuleRepository) DeleteDynamicRule(ctx context.Context, ruleID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin transaction", err)
	}
	defer tx.Rollback()

	var origin entities.Origin
	err = tx.QueryRowContext(ctx,
		`SELECT origin FROM rules WHERE id = $1 FOR UPDATE`, ruleID,
	).Scan(&origin)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", entities.ErrRuleNotFound, ruleID)
	}
	if err != nil {
		return storeErr("read rule", err)
	}
	if origin == entities.OriginStatic {
		return fmt.Errorf("%w: static rule %s cannot be deleted at runtime",
			entities.ErrImmutableViolation, ruleID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM rule_refs WHERE rule_id = $1`, ruleID); err != nil {
		return storeErr("delete back-reference", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rules WHERE id = $1`, ruleID); err != nil {
		return storeErr("delete rule", err)
	}
	if err := bumpVersion(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit rule delete", err)
	}
	return nil
}

// FindCandidates implements repositories.RuleRepository. The query matches on
// action, subject set and object pattern only; scope filtering belongs to the
// decision engine.
func (r *RuleRepository) FindCandidates(ctx context.Context, filter *repositories.CandidateFilter) ([]*entities.Rule, error) {
	query := `
		SELECT id, rule_type, subject, action, object, role, scope, effect,
		       origin, matcher, condition, version, created_at
		FROM rules
		WHERE rule_type = $1 AND action = $2 AND subject = ANY($3)
	`
	args := []interface{}{entities.RuleTypePermission, filter.Action, pq.Array(filter.Subjects)}
	argIdx := 4

	if filter.ObjectType != "" {
		// Covers concrete keys of the type, patterns in the type's namespace
		// and the bare wildcard.
		query += fmt.Sprintf(" AND (object = '*' OR object LIKE $%d)", argIdx)
		args = append(args, filter.ObjectType+entities.KeySeparator+"%")
		argIdx++
	}

	query += " ORDER BY id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("find candidates", err)
	}
	defer rows.Close()

	var out []*entities.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		// Object pattern matching stays in one place (entities.MatchObject)
		// rather than being duplicated in SQL.
		if filter.Object != "" && !entities.MatchObject(filter.Object, rule.Object) {
			continue
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate candidates", err)
	}
	return out, nil
}

// FindAssignments implements repositories.RuleRepository.
func (r *RuleRepository) FindAssignments(ctx context.Context, subject string) ([]*entities.RoleAssignment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT subject, role, scope
		FROM rules
		WHERE rule_type = $1 AND subject = $2
		ORDER BY role, scope
	`, entities.RuleTypeGrouping, subject)
	if err != nil {
		return nil, storeErr("find assignments", err)
	}
	defer rows.Close()

	var out []*entities.RoleAssignment
	for rows.Next() {
		var a entities.RoleAssignment
		if err := rows.Scan(&a.Subject, &a.Role, &a.Scope); err != nil {
			return nil, storeErr("scan assignment", err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate assignments", err)
	}
	return out, nil
}

// ListDynamicRules implements repositories.RuleRepository.
func (r *RuleRepository) ListDynamicRules(ctx context.Context) ([]*entities.Rule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, rule_type, subject, action, object, role, scope, effect,
		       origin, matcher, condition, version, created_at
		FROM rules
		WHERE origin = $1
		ORDER BY id
	`, entities.OriginDynamic)
	if err != nil {
		return nil, storeErr("list dynamic rules", err)
	}
	defer rows.Close()

	var out []*entities.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate dynamic rules", err)
	}
	return out, nil
}

// Version implements repositories.RuleRepository.
func (r *RuleRepository) Version(ctx context.Context) (string, error) {
	var version int64
	err := r.db.QueryRowContext(ctx, `SELECT version FROM store_version`).Scan(&version)
	if err != nil {
		return "", storeErr("read store version", err)
	}
	return strconv.FormatInt(version, 10), nil
}

// insertBackRef writes the ownership back-reference row for a rule within the
// caller's transaction.
func insertBackRef(ctx context.Context, tx *sql.Tx, ruleID, object string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO rule_refs (rule_id, object) VALUES ($1, $2)`,
		ruleID, sql.NullString{String: object, Valid: object != ""},
	)
	if err != nil {
		return storeErr("insert back-reference", err)
	}
	return nil
}

// bumpVersion increments the store version token within the caller's
// transaction. The decision cache keys on this token, so committing any write
// invalidates the whole cache class at once.
func bumpVersion(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `UPDATE store_version SET version = version + 1`); err != nil {
		return storeErr("bump store version", err)
	}
	return nil
}

func currentVersion(ctx context.Context, tx *sql.Tx) (int64, error) {
	var version int64
	if err := tx.QueryRowContext(ctx, `SELECT version FROM store_version FOR UPDATE`).Scan(&version); err != nil {
		return 0, storeErr("read store version", err)
	}
	return version, nil
}

func scanRule(rows *sql.Rows) (*entities.Rule, error) {
	var rule entities.Rule
	var object, role, effect, matcher, condition sql.NullString
	err := rows.Scan(
		&rule.ID, &rule.Type, &rule.Subject, &rule.Action, &object, &role,
		&rule.Scope, &effect, &rule.Origin, &matcher, &condition,
		&rule.Version, &rule.CreatedAt,
	)
	if err != nil {
		return nil, storeErr("scan rule", err)
	}
	rule.Object = object.String
	rule.Role = role.String
	rule.Effect = entities.Effect(effect.String)
	rule.Matcher = matcher.String
	rule.Condition = condition.String
	return &rule, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// storeErr wraps database failures as ErrStoreUnavailable so the engine can
// fail closed without inspecting driver error types.
func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", entities.ErrStoreUnavailable, op, err)
}
