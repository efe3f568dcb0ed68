// Package enforcement is the only entry point collaborating services call.
// It wraps the decision engine with fail-closed semantics and routes every
// decision through the audit recorder.
package enforcement

import (
	"context"
	"errors"
	"log"

	"github.com/ymiyake/themis/internal/entities"
	"github.com/ymiyake/themis/internal/services/decision"
)

// Auditor records decisions. Satisfied by audit.Recorder.
type Auditor interface {
	Record(ctx context.Context, d *entities.Decision, actor entities.ActorContext) error
}

// Facade is the enforcement surface. All methods are safe for concurrent use.
type Facade struct {
	engine  decision.EngineInterface
	auditor Auditor
}

// NewFacade creates the enforcement façade. auditor may be nil, in which case
// decisions are not audited.
func NewFacade(engine decision.EngineInterface, auditor Auditor) *Facade {
	return &Facade{engine: engine, auditor: auditor}
}

// IsAllowed answers whether subject may perform action on object at scope.
// An empty scope defaults to the object key itself.
//
// This method never returns an error: malformed input, a store outage, a
// broken hierarchy or an expired deadline all yield false. Callers that need
// to distinguish "denied" from "could not evaluate" use Check.
func (f *Facade) IsAllowed(ctx context.Context, actor entities.ActorContext, subject, action, object, scope string, reqCtx map[string]any) bool {
	d, err := f.evaluate(ctx, actor, subject, action, object, scope, reqCtx)
	if err != nil {
		log.Printf("enforcement: evaluation failed, denying: %v", err)
		return false
	}
	return d.Allowed()
}

// Check evaluates the request and returns the effect together with the
// decision ID, so callers can reference the decision in their own records.
//
// A malformed request surfaces as *entities.ValidationError. Any other
// failure is reported as deny with an empty decision ID and a nil error;
// internal faults are an operator concern, not a caller concern.
func (f *Facade) Check(ctx context.Context, actor entities.ActorContext, subject, action, object, scope string, reqCtx map[string]any) (entities.Effect, string, error) {
	d, err := f.evaluate(ctx, actor, subject, action, object, scope, reqCtx)
	if err != nil {
		var verr *entities.ValidationError
		if errors.As(err, &verr) {
			return entities.EffectDeny, "", err
		}
		log.Printf("enforcement: evaluation failed, denying: %v", err)
		return entities.EffectDeny, "", nil
	}
	return d.Effect, d.ID, nil
}

// ObjectIterator walks the allowed objects of one ListAllowedObjects call.
// The candidate set is fixed up front; each Next evaluates one candidate, so
// callers can stop early without paying for the rest.
type ObjectIterator struct {
	facade     *Facade
	actor      entities.ActorContext
	subject    string
	action     string
	reqCtx     map[string]any
	candidates []string
	pos        int
}

// Next returns the next allowed object. ok is false when the candidates are
// exhausted.
func (it *ObjectIterator) Next(ctx context.Context) (object string, ok bool) {
	for it.pos < len(it.candidates) {
		obj := it.candidates[it.pos]
		it.pos++
		if it.facade.IsAllowed(ctx, it.actor, it.subject, it.action, obj, obj, it.reqCtx) {
			return obj, true
		}
	}
	return "", false
}

// Remaining reports how many candidates have not been examined yet.
func (it *ObjectIterator) Remaining() int {
	return len(it.candidates) - it.pos
}

// ListAllowedObjects returns an iterator over the concrete objects of
// objectType the subject may perform action on. The candidate universe is the
// set of objects named by rules in the store, not an external catalog; each
// candidate is then evaluated individually with its own scope chain. The
// iteration is finite and restartable: call ListAllowedObjects again to start
// over against the current store state.
func (f *Facade) ListAllowedObjects(ctx context.Context, actor entities.ActorContext, subject, action, objectType string, reqCtx map[string]any) (*ObjectIterator, error) {
	if subject == "" {
		return nil, entities.NewValidationError("subject", "is required")
	}
	if action == "" {
		return nil, entities.NewValidationError("action", "is required")
	}
	if objectType == "" {
		return nil, entities.NewValidationError("object_type", "is required")
	}

	candidates, err := f.engine.ListCandidateObjects(ctx, subject, action, objectType)
	if err != nil {
		log.Printf("enforcement: listing candidates failed: %v", err)
		return &ObjectIterator{facade: f}, nil
	}
	return &ObjectIterator{
		facade:     f,
		actor:      actor,
		subject:    subject,
		action:     action,
		reqCtx:     reqCtx,
		candidates: candidates,
	}, nil
}

func (f *Facade) evaluate(ctx context.Context, actor entities.ActorContext, subject, action, object, scope string, reqCtx map[string]any) (*entities.Decision, error) {
	if scope == "" {
		scope = object
	}
	req := &entities.Request{
		Subject: subject,
		Action:  action,
		Object:  object,
		Scope:   scope,
		Context: reqCtx,
	}
	d, err := f.engine.Evaluate(ctx, req)
	if err != nil {
		return nil, err
	}
	if f.auditor != nil {
		if err := f.auditor.Record(ctx, d, actor); err != nil {
			// Sync-mode sink failure. The decision stands; the gap is
			// visible through the audit failure counter and the log.
			log.Printf("enforcement: audit record failed for decision %s: %v", d.ID, err)
		}
	}
	return d, nil
}
