// Package audit projects decisions into the append-only, hash-chained audit
// trail.
package audit

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ymiyake/themis/internal/entities"
	"github.com/ymiyake/themis/internal/infrastructure/metrics"
	"github.com/ymiyake/themis/internal/repositories"
)

// Mode selects how Record delivers to the sink.
type Mode string

const (
	// ModeAsync appends in the background within a bounded time budget.
	// Failures are logged and counted, never surfaced to the caller.
	ModeAsync Mode = "async"

	// ModeSync appends before Record returns and reports sink errors.
	// For deployments where a lost record is worse than added latency.
	ModeSync Mode = "sync"
)

// DefaultBudget bounds one async append attempt.
const DefaultBudget = 2 * time.Second

// Recorder writes one audit record per decision. Appends are serialized so
// the PrevHash chain stays linear even when decisions complete concurrently.
type Recorder struct {
	sink    repositories.AuditSink
	mode    Mode
	budget  time.Duration
	metrics *metrics.Metrics

	// mu orders chain appends; LastHash and Append must not interleave.
	mu sync.Mutex
	wg sync.WaitGroup
}

// NewRecorder creates a Recorder. A zero budget falls back to DefaultBudget.
func NewRecorder(sink repositories.AuditSink, mode Mode, budget time.Duration, m *metrics.Metrics) *Recorder {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Recorder{sink: sink, mode: mode, budget: budget, metrics: m}
}

// Record projects the decision into an audit record and delivers it per the
// recorder's mode. In async mode the error is always nil; the decision path
// never waits on, or fails because of, the audit trail.
func (r *Recorder) Record(ctx context.Context, decision *entities.Decision, actor entities.ActorContext) error {
	record := r.build(decision, actor)

	if r.mode == ModeSync {
		if err := r.append(ctx, record); err != nil {
			r.metrics.RecordAuditFailure()
			return fmt.Errorf("append audit record: %w", err)
		}
		r.metrics.RecordAudit()
		return nil
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		appendCtx, cancel := context.WithTimeout(context.Background(), r.budget)
		defer cancel()
		if err := r.append(appendCtx, record); err != nil {
			r.metrics.RecordAuditFailure()
			log.Printf("audit append failed for decision %s: %v", record.DecisionID, err)
			return
		}
		r.metrics.RecordAudit()
	}()
	return nil
}

// Drain blocks until all in-flight async appends have finished. Called on
// shutdown.
func (r *Recorder) Drain() {
	r.wg.Wait()
}

func (r *Recorder) build(decision *entities.Decision, actor entities.ActorContext) *entities.AuditRecord {
	return &entities.AuditRecord{
		ID:            uuid.NewString(),
		DecisionID:    decision.ID,
		Actor:         actor,
		Effect:        decision.Effect,
		MatchedRuleID: decision.MatchedRuleID,
		Request:       decision.Request,
		StoreVersion:  decision.StoreVersion,
		Fingerprint:   decision.Fingerprint(),
		CreatedAt:     time.Now().UTC(),
	}
}

func (r *Recorder) append(ctx context.Context, record *entities.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prevHash, err := r.sink.LastHash(ctx)
	if err != nil {
		return fmt.Errorf("read chain head: %w", err)
	}
	record.Seal(prevHash)
	return r.sink.Append(ctx, record)
}
