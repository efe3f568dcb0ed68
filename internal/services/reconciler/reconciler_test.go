package reconciler

import (
	"context"
	"errors"
	"testing"

	"github.com/ymiyake/themis/internal/entities"
	"github.com/ymiyake/themis/internal/repositories/memory"
)

// mapCatalog answers existence from a fixed set; keys listed in failing
// return an error instead.
type mapCatalog struct {
	existing map[string]bool
	failing  map[string]bool
}

func (c *mapCatalog) Exists(ctx context.Context, object string) (bool, error) {
	if c.failing[object] {
		return false, errors.New("catalog unavailable")
	}
	return c.existing[object], nil
}

func seedRules(t *testing.T, repo *memory.RuleRepository, rules []*entities.Rule) []string {
	t.Helper()
	ids := make([]string, 0, len(rules))
	for _, rule := range rules {
		id, err := repo.CreateDynamicRule(context.Background(), rule)
		if err != nil {
			t.Fatalf("seed rule error = %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func permission(subject, object string) *entities.Rule {
	return &entities.Rule{
		Type: entities.RuleTypePermission, Subject: subject,
		Action: "view_library", Object: object, Scope: "instance",
		Effect: entities.EffectAllow,
	}
}

func TestReconciler_Sweep(t *testing.T) {
	t.Run("removes rules whose object is gone", func(t *testing.T) {
		repo := memory.NewRuleRepository()
		seedRules(t, repo, []*entities.Rule{
			permission("user:alice", "lib:alive"),
			permission("user:alice", "lib:gone"),
			permission("user:bob", "lib:gone"),
		})
		catalog := &mapCatalog{existing: map[string]bool{"lib:alive": true}}

		r := New(repo, catalog, 0, nil)
		removed, err := r.Sweep(context.Background())
		if err != nil {
			t.Fatalf("Sweep() error = %v", err)
		}
		if removed != 2 {
			t.Errorf("Sweep() removed = %d, want 2", removed)
		}

		remaining, err := repo.ListDynamicRules(context.Background())
		if err != nil {
			t.Fatalf("ListDynamicRules() error = %v", err)
		}
		if len(remaining) != 1 || remaining[0].Object != "lib:alive" {
			t.Errorf("remaining rules = %v, want only lib:alive", remaining)
		}
	})

	t.Run("wildcard objects are never reconciled", func(t *testing.T) {
		repo := memory.NewRuleRepository()
		seedRules(t, repo, []*entities.Rule{
			permission("user:alice", "lib:*"),
			permission("user:alice", "*"),
		})
		catalog := &mapCatalog{existing: map[string]bool{}}

		r := New(repo, catalog, 0, nil)
		removed, err := r.Sweep(context.Background())
		if err != nil {
			t.Fatalf("Sweep() error = %v", err)
		}
		if removed != 0 {
			t.Errorf("Sweep() removed = %d, want 0", removed)
		}
	})

	t.Run("grouping rules reconcile against their scope", func(t *testing.T) {
		repo := memory.NewRuleRepository()
		seedRules(t, repo, []*entities.Rule{
			{Type: entities.RuleTypeGrouping, Subject: "user:alice", Role: "library_admin", Scope: "lib:gone"},
			{Type: entities.RuleTypeGrouping, Subject: "user:bob", Role: "library_admin", Scope: "lib:alive"},
		})
		catalog := &mapCatalog{existing: map[string]bool{"lib:alive": true}}

		r := New(repo, catalog, 0, nil)
		removed, err := r.Sweep(context.Background())
		if err != nil {
			t.Fatalf("Sweep() error = %v", err)
		}
		if removed != 1 {
			t.Errorf("Sweep() removed = %d, want 1", removed)
		}
		remaining, _ := repo.ListDynamicRules(context.Background())
		if len(remaining) != 1 || remaining[0].Scope != "lib:alive" {
			t.Errorf("remaining rules = %v, want only the lib:alive binding", remaining)
		}
	})

	t.Run("catalog error skips the rule instead of deleting it", func(t *testing.T) {
		repo := memory.NewRuleRepository()
		seedRules(t, repo, []*entities.Rule{
			permission("user:alice", "lib:flaky"),
			permission("user:alice", "lib:gone"),
		})
		catalog := &mapCatalog{
			existing: map[string]bool{},
			failing:  map[string]bool{"lib:flaky": true},
		}

		r := New(repo, catalog, 0, nil)
		removed, err := r.Sweep(context.Background())
		if err != nil {
			t.Fatalf("Sweep() error = %v", err)
		}
		if removed != 1 {
			t.Errorf("Sweep() removed = %d, want 1", removed)
		}
		remaining, _ := repo.ListDynamicRules(context.Background())
		if len(remaining) != 1 || remaining[0].Object != "lib:flaky" {
			t.Errorf("remaining rules = %v, want the flaky one kept", remaining)
		}
	})

	t.Run("cancelled context stops the sweep", func(t *testing.T) {
		repo := memory.NewRuleRepository()
		seedRules(t, repo, []*entities.Rule{
			permission("user:alice", "lib:gone"),
		})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		r := New(repo, &mapCatalog{existing: map[string]bool{}}, 0, nil)
		if _, err := r.Sweep(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("Sweep() error = %v, want context.Canceled", err)
		}
	})
}
