package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ymiyake/themis/internal/entities"
)

// AuditSink appends audit records to PostgreSQL. The table is append-only by
// contract: no update or delete statement exists in this package, and the
// hash chain is verified against the latest row inside the insert
// transaction so concurrent appends cannot fork the chain.
type AuditSink struct {
	db *sql.DB
}

// NewAuditSink creates a new PostgreSQL audit sink.
func NewAuditSink(db *sql.DB) *AuditSink {
	return &AuditSink{db: db}
}

// Append implements repositories.AuditSink.
func (s *AuditSink) Append(ctx context.Context, record *entities.AuditRecord) error {
	requestJSON, err := json.Marshal(record.Request)
	if err != nil {
		return fmt.Errorf("%w: marshal request snapshot: %v", entities.ErrAuditUnavailable, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auditErr("begin transaction", err)
	}
	defer tx.Rollback()

	var last sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT hash FROM audit_records ORDER BY seq DESC LIMIT 1 FOR UPDATE`,
	).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return auditErr("read chain head", err)
	}
	if record.PrevHash != last.String {
		return fmt.Errorf("%w: record %s breaks the hash chain", entities.ErrAuditUnavailable, record.ID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_records (
			id, decision_id, actor_id, actor_service, trace_id,
			effect, matched_rule_id, request_json, store_version,
			fingerprint, prev_hash, hash, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		record.ID, record.DecisionID, record.Actor.ActorID, record.Actor.Service,
		record.Actor.TraceID, record.Effect, record.MatchedRuleID, requestJSON,
		record.StoreVersion, record.Fingerprint, record.PrevHash, record.Hash,
		record.CreatedAt,
	)
	if err != nil {
		return auditErr("insert record", err)
	}
	if err := tx.Commit(); err != nil {
		return auditErr("commit record", err)
	}
	return nil
}

// LastHash implements repositories.AuditSink.
func (s *AuditSink) LastHash(ctx context.Context) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT hash FROM audit_records ORDER BY seq DESC LIMIT 1`,
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", auditErr("read chain head", err)
	}
	return hash, nil
}

// auditErr wraps sink failures as ErrAuditUnavailable: the decision path
// never fails on them, the recorder only logs and counts.
func auditErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", entities.ErrAuditUnavailable, op, err)
}
