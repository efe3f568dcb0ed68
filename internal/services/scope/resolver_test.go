package scope

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/ymiyake/themis/internal/entities"
	"github.com/ymiyake/themis/internal/repositories/memory"
)

func newResolver(t *testing.T, edges []entities.ScopeEdge, groupings []*entities.Rule) *Resolver {
	t.Helper()
	ctx := context.Background()

	scopeRepo := memory.NewScopeRepository()
	if err := scopeRepo.ReplaceHierarchy(ctx, edges); err != nil {
		t.Fatalf("ReplaceHierarchy() error = %v", err)
	}
	ruleRepo := memory.NewRuleRepository()
	for _, g := range groupings {
		if _, err := ruleRepo.CreateDynamicRule(ctx, g); err != nil {
			t.Fatalf("seed grouping error = %v", err)
		}
	}
	return NewResolver(scopeRepo, ruleRepo)
}

func grouping(subject, role, scope string) *entities.Rule {
	return &entities.Rule{
		Type:    entities.RuleTypeGrouping,
		Subject: subject,
		Role:    role,
		Scope:   scope,
	}
}

func TestResolver_ChainOf(t *testing.T) {
	edges := []entities.ScopeEdge{
		{Child: "lib:phys-101", Parent: "org:science", Cascades: true},
		{Child: "org:science", Parent: "instance", Cascades: true},
	}
	r := newResolver(t, edges, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		scope string
		want  []string
	}{
		{
			name:  "leaf scope walks to root",
			scope: "lib:phys-101",
			want:  []string{"lib:phys-101", "org:science", "instance"},
		},
		{
			name:  "mid scope",
			scope: "org:science",
			want:  []string{"org:science", "instance"},
		},
		{
			name:  "root scope",
			scope: "instance",
			want:  []string{"instance"},
		},
		{
			name:  "unknown scope is its own chain",
			scope: "lib:ghost",
			want:  []string{"lib:ghost"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ChainOf(ctx, tt.scope)
			if err != nil {
				t.Fatalf("ChainOf() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ChainOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolver_ChainOf_CycleDetection(t *testing.T) {
	// The repository validates feeds, so build a resolver over a repo stub
	// that serves a cyclic graph directly.
	r := NewResolver(&cyclicScopeRepo{}, memory.NewRuleRepository())

	_, err := r.ChainOf(context.Background(), "a")
	if !errors.Is(err, entities.ErrCycleDetected) {
		t.Errorf("ChainOf() error = %v, want wrapped ErrCycleDetected", err)
	}
}

// cyclicScopeRepo serves a two-node cycle: a -> b -> a.
type cyclicScopeRepo struct{}

func (r *cyclicScopeRepo) ReplaceHierarchy(ctx context.Context, edges []entities.ScopeEdge) error {
	return nil
}

func (r *cyclicScopeRepo) ParentEdge(ctx context.Context, scope string) (entities.ScopeEdge, bool, error) {
	if scope == "a" {
		return entities.ScopeEdge{Child: "a", Parent: "b"}, true, nil
	}
	return entities.ScopeEdge{Child: "b", Parent: "a"}, true, nil
}

func (r *cyclicScopeRepo) Edges(ctx context.Context) ([]entities.ScopeEdge, error) {
	return nil, nil
}

func TestResolver_RolesEffectiveAt(t *testing.T) {
	edges := []entities.ScopeEdge{
		{Child: "lib:phys-101", Parent: "org:science", Cascades: true},
		{Child: "lib:legacy", Parent: "org:science", Cascades: false},
		{Child: "org:science", Parent: "instance", Cascades: true},
	}

	tests := []struct {
		name      string
		groupings []*entities.Rule
		subject   string
		scope     string
		want      []entities.EffectiveRole
	}{
		{
			name: "role bound at the scope itself",
			groupings: []*entities.Rule{
				grouping("user:alice", "library_admin", "lib:phys-101"),
			},
			subject: "user:alice",
			scope:   "lib:phys-101",
			want: []entities.EffectiveRole{
				{Role: "library_admin", SourceScope: "lib:phys-101"},
			},
		},
		{
			name: "role cascades through cascading edges",
			groupings: []*entities.Rule{
				grouping("user:alice", "library_user", "instance"),
			},
			subject: "user:alice",
			scope:   "lib:phys-101",
			want: []entities.EffectiveRole{
				{Role: "library_user", SourceScope: "instance"},
			},
		},
		{
			name: "non-cascading edge blocks propagation",
			groupings: []*entities.Rule{
				grouping("user:alice", "library_user", "org:science"),
			},
			subject: "user:alice",
			scope:   "lib:legacy",
			want:    nil,
		},
		{
			name: "non-cascading edge blocks roles bound even higher",
			groupings: []*entities.Rule{
				grouping("user:alice", "library_user", "instance"),
			},
			subject: "user:alice",
			scope:   "lib:legacy",
			want:    nil,
		},
		{
			name: "direct binding unaffected by non-cascading parent edge",
			groupings: []*entities.Rule{
				grouping("user:alice", "library_admin", "lib:legacy"),
			},
			subject: "user:alice",
			scope:   "lib:legacy",
			want: []entities.EffectiveRole{
				{Role: "library_admin", SourceScope: "lib:legacy"},
			},
		},
		{
			name: "sibling scope binding never applies",
			groupings: []*entities.Rule{
				grouping("user:alice", "library_admin", "lib:phys-101"),
			},
			subject: "user:alice",
			scope:   "lib:legacy",
			want:    nil,
		},
		{
			name: "no assignments",
			groupings: []*entities.Rule{
				grouping("user:bob", "library_admin", "lib:phys-101"),
			},
			subject: "user:alice",
			scope:   "lib:phys-101",
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newResolver(t, edges, tt.groupings)
			got, err := r.RolesEffectiveAt(context.Background(), tt.subject, tt.scope)
			if err != nil {
				t.Fatalf("RolesEffectiveAt() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("RolesEffectiveAt() = %v, want %v", got, tt.want)
			}
		})
	}
}
