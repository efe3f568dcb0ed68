// Package reconciler removes dynamic rules whose object no longer exists.
// Dynamic rules back-reference the object they were created for; when the
// owning service deletes the object without cleaning up, the rule becomes an
// orphan. The reconciler sweeps those off the store on a timer, off the
// decision hot path.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ymiyake/themis/internal/entities"
	"github.com/ymiyake/themis/internal/infrastructure/metrics"
	"github.com/ymiyake/themis/internal/repositories"
)

// ObjectCatalog answers whether an object key still exists. Implemented by
// the collaborating service that owns the objects.
type ObjectCatalog interface {
	Exists(ctx context.Context, object string) (bool, error)
}

// Reconciler periodically sweeps orphaned dynamic rules.
type Reconciler struct {
	rules    repositories.RuleRepository
	catalog  ObjectCatalog
	interval time.Duration
	metrics  *metrics.Metrics
}

// New creates a Reconciler. interval <= 0 disables Run (Sweep still works).
func New(rules repositories.RuleRepository, catalog ObjectCatalog, interval time.Duration, m *metrics.Metrics) *Reconciler {
	return &Reconciler{rules: rules, catalog: catalog, interval: interval, metrics: m}
}

// Run sweeps on the configured interval until ctx is cancelled. Sweep errors
// are logged and the loop continues; a transient store or catalog outage must
// not kill the job.
func (r *Reconciler) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := r.Sweep(ctx)
			if err != nil {
				log.Printf("reconciler: sweep failed: %v", err)
				continue
			}
			if removed > 0 {
				log.Printf("reconciler: removed %d orphaned dynamic rules", removed)
			}
		}
	}
}

// Sweep examines every dynamic rule once and deletes those whose object is
// gone. Wildcard-object rules are skipped; they are not bound to a single
// object. Returns the number of rules removed.
//
// A catalog error for one object skips that rule rather than deleting it:
// only a definitive "does not exist" answer justifies removal.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	rules, err := r.rules.ListDynamicRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("list dynamic rules: %w", err)
	}

	removed := 0
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		object := ruleObject(rule)
		if object == "" {
			continue
		}
		exists, err := r.catalog.Exists(ctx, object)
		if err != nil {
			log.Printf("reconciler: catalog lookup failed for %s: %v", object, err)
			continue
		}
		if exists {
			continue
		}
		if err := r.rules.DeleteDynamicRule(ctx, rule.ID); err != nil {
			// Already gone is fine; someone deleted it first.
			if errors.Is(err, entities.ErrRuleNotFound) {
				continue
			}
			log.Printf("reconciler: delete rule %s failed: %v", rule.ID, err)
			continue
		}
		removed++
	}

	r.metrics.RecordOrphansRemoved(removed)
	return removed, nil
}

// ruleObject returns the concrete object a rule is bound to, or "" when the
// rule has no single-object binding worth reconciling.
func ruleObject(rule *entities.Rule) string {
	switch rule.Type {
	case entities.RuleTypePermission:
		if rule.Object == "" || hasWildcard(rule.Object) {
			return ""
		}
		return rule.Object
	case entities.RuleTypeGrouping:
		// Grouping rules bind to a scope; treat the scope as the object.
		if rule.Scope == "" || hasWildcard(rule.Scope) {
			return ""
		}
		return rule.Scope
	}
	return ""
}

func hasWildcard(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '*' {
			return true
		}
	}
	return false
}
