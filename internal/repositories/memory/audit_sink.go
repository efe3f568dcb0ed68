package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ymiyake/themis/internal/entities"
)

// AuditSink is an append-only in-memory audit store. Records can only be
// appended in chain order; there is no update or delete operation.
type AuditSink struct {
	mu      sync.Mutex
	records []*entities.AuditRecord
}

// NewAuditSink creates an empty in-memory audit sink.
func NewAuditSink() *AuditSink {
	return &AuditSink{}
}

// Append implements repositories.AuditSink.
func (s *AuditSink) Append(ctx context.Context, record *entities.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := ""
	if n := len(s.records); n > 0 {
		last = s.records[n-1].Hash
	}
	if record.PrevHash != last {
		return fmt.Errorf("%w: record %s breaks the hash chain", entities.ErrAuditUnavailable, record.ID)
	}
	cp := *record
	s.records = append(s.records, &cp)
	return nil
}

// LastHash implements repositories.AuditSink.
func (s *AuditSink) LastHash(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.records); n > 0 {
		return s.records[n-1].Hash, nil
	}
	return "", nil
}

// Records returns a copy of all appended records in order. Test helper.
func (s *AuditSink) Records() []*entities.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*entities.AuditRecord, len(s.records))
	copy(out, s.records)
	return out
}
