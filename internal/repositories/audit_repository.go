package repositories

import (
	"context"

	"github.com/ymiyake/themis/internal/entities"
)

// AuditSink is the collaborator-provided append-only store for audit records.
// Records are never updated or deleted here; retention is governed elsewhere.
type AuditSink interface {
	// Append persists one sealed record. The sink must reject records whose
	// PrevHash does not match the hash of its latest record, preserving the
	// tamper-evidence chain.
	Append(ctx context.Context, record *entities.AuditRecord) error

	// LastHash returns the hash of the most recently appended record, empty
	// when the sink holds no records yet.
	LastHash(ctx context.Context) (string, error)
}
