package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/ymiyake/themis/internal/entities"
	"github.com/ymiyake/themis/internal/repositories"
)

func testBundle(version string) *entities.PolicyBundle {
	return &entities.PolicyBundle{
		Version: version,
		Rules: []*entities.Rule{
			{
				Type:    entities.RuleTypePermission,
				Subject: "role:library_user",
				Action:  "view_library",
				Object:  "lib:*",
				Scope:   "instance",
				Effect:  entities.EffectAllow,
			},
			{
				Type:    entities.RuleTypeGrouping,
				Subject: "user:alice",
				Role:    "library_admin",
				Scope:   "lib:phys-101",
			},
		},
	}
}

func TestRuleRepository_LoadStaticBundle(t *testing.T) {
	ctx := context.Background()

	t.Run("first load applies all rules", func(t *testing.T) {
		repo := NewRuleRepository()
		version, err := repo.LoadStaticBundle(ctx, testBundle("v1"))
		if err != nil {
			t.Fatalf("LoadStaticBundle() error = %v", err)
		}
		if version != "v1" {
			t.Errorf("LoadStaticBundle() version = %q, want v1", version)
		}
		if repo.RuleCount() != 2 {
			t.Errorf("RuleCount() = %d, want 2", repo.RuleCount())
		}
	})

	t.Run("reload of identical bundle is a no-op", func(t *testing.T) {
		repo := NewRuleRepository()
		if _, err := repo.LoadStaticBundle(ctx, testBundle("v1")); err != nil {
			t.Fatalf("first load error = %v", err)
		}
		before, _ := repo.Version(ctx)
		if _, err := repo.LoadStaticBundle(ctx, testBundle("v1")); err != nil {
			t.Fatalf("second load error = %v", err)
		}
		after, _ := repo.Version(ctx)
		if repo.RuleCount() != 2 {
			t.Errorf("RuleCount() = %d after reload, want 2", repo.RuleCount())
		}
		if before != after {
			t.Errorf("store version bumped by idempotent reload: %s -> %s", before, after)
		}
	})

	t.Run("same version different content is rejected", func(t *testing.T) {
		repo := NewRuleRepository()
		if _, err := repo.LoadStaticBundle(ctx, testBundle("v1")); err != nil {
			t.Fatalf("first load error = %v", err)
		}
		changed := testBundle("v1")
		changed.Rules[0].Effect = entities.EffectDeny
		_, err := repo.LoadStaticBundle(ctx, changed)
		if !errors.Is(err, entities.ErrImmutableViolation) {
			t.Errorf("LoadStaticBundle() error = %v, want wrapped ErrImmutableViolation", err)
		}
	})

	t.Run("malformed row rejects the whole bundle", func(t *testing.T) {
		repo := NewRuleRepository()
		bad := testBundle("v1")
		bad.Rules[1].Role = ""
		_, err := repo.LoadStaticBundle(ctx, bad)
		if !errors.Is(err, entities.ErrMalformedRule) {
			t.Fatalf("LoadStaticBundle() error = %v, want wrapped ErrMalformedRule", err)
		}
		if repo.RuleCount() != 0 {
			t.Errorf("RuleCount() = %d after rejected load, want 0", repo.RuleCount())
		}
	})

	t.Run("new version loads alongside the old", func(t *testing.T) {
		repo := NewRuleRepository()
		if _, err := repo.LoadStaticBundle(ctx, testBundle("v1")); err != nil {
			t.Fatalf("v1 load error = %v", err)
		}
		if _, err := repo.LoadStaticBundle(ctx, testBundle("v2")); err != nil {
			t.Fatalf("v2 load error = %v", err)
		}
		if repo.RuleCount() != 4 {
			t.Errorf("RuleCount() = %d, want 4", repo.RuleCount())
		}
	})
}

func TestRuleRepository_CreateDynamicRule(t *testing.T) {
	ctx := context.Background()

	newRule := func() *entities.Rule {
		return &entities.Rule{
			Type:    entities.RuleTypePermission,
			Subject: "user:bob",
			Action:  "edit_library_content",
			Object:  "lib:chem-201",
			Scope:   "lib:chem-201",
			Effect:  entities.EffectAllow,
		}
	}

	t.Run("assigns an ID and bumps version", func(t *testing.T) {
		repo := NewRuleRepository()
		before, _ := repo.Version(ctx)
		id, err := repo.CreateDynamicRule(ctx, newRule())
		if err != nil {
			t.Fatalf("CreateDynamicRule() error = %v", err)
		}
		if id == "" {
			t.Error("CreateDynamicRule() returned empty ID")
		}
		after, _ := repo.Version(ctx)
		if before == after {
			t.Error("store version unchanged after create")
		}
	})

	t.Run("existing ID is rejected", func(t *testing.T) {
		repo := NewRuleRepository()
		rule := newRule()
		rule.ID = "dyn-1"
		if _, err := repo.CreateDynamicRule(ctx, rule); err != nil {
			t.Fatalf("first create error = %v", err)
		}
		dup := newRule()
		dup.ID = "dyn-1"
		_, err := repo.CreateDynamicRule(ctx, dup)
		if !errors.Is(err, entities.ErrImmutableViolation) {
			t.Errorf("CreateDynamicRule() error = %v, want wrapped ErrImmutableViolation", err)
		}
	})

	t.Run("static origin is rejected", func(t *testing.T) {
		repo := NewRuleRepository()
		rule := newRule()
		rule.Origin = entities.OriginStatic
		_, err := repo.CreateDynamicRule(ctx, rule)
		if !errors.Is(err, entities.ErrImmutableViolation) {
			t.Errorf("CreateDynamicRule() error = %v, want wrapped ErrImmutableViolation", err)
		}
	})

	t.Run("malformed rule is rejected", func(t *testing.T) {
		repo := NewRuleRepository()
		rule := newRule()
		rule.Action = ""
		_, err := repo.CreateDynamicRule(ctx, rule)
		if !errors.Is(err, entities.ErrMalformedRule) {
			t.Errorf("CreateDynamicRule() error = %v, want wrapped ErrMalformedRule", err)
		}
	})
}

func TestRuleRepository_DeleteDynamicRule(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes a dynamic rule", func(t *testing.T) {
		repo := NewRuleRepository()
		id, err := repo.CreateDynamicRule(ctx, &entities.Rule{
			Type:    entities.RuleTypePermission,
			Subject: "user:bob",
			Action:  "view_library",
			Object:  "lib:x",
			Scope:   "lib:x",
			Effect:  entities.EffectAllow,
		})
		if err != nil {
			t.Fatalf("create error = %v", err)
		}
		if err := repo.DeleteDynamicRule(ctx, id); err != nil {
			t.Fatalf("DeleteDynamicRule() error = %v", err)
		}
		if repo.RuleCount() != 0 {
			t.Errorf("RuleCount() = %d after delete, want 0", repo.RuleCount())
		}
	})

	t.Run("unknown rule", func(t *testing.T) {
		repo := NewRuleRepository()
		err := repo.DeleteDynamicRule(ctx, "missing")
		if !errors.Is(err, entities.ErrRuleNotFound) {
			t.Errorf("DeleteDynamicRule() error = %v, want wrapped ErrRuleNotFound", err)
		}
	})

	t.Run("static rule cannot be deleted", func(t *testing.T) {
		repo := NewRuleRepository()
		if _, err := repo.LoadStaticBundle(ctx, testBundle("v1")); err != nil {
			t.Fatalf("load error = %v", err)
		}
		err := repo.DeleteDynamicRule(ctx, staticRuleID("v1", 0))
		if !errors.Is(err, entities.ErrImmutableViolation) {
			t.Errorf("DeleteDynamicRule() error = %v, want wrapped ErrImmutableViolation", err)
		}
	})
}

func TestRuleRepository_FindCandidates(t *testing.T) {
	ctx := context.Background()
	repo := NewRuleRepository()

	seed := []*entities.Rule{
		{
			Type: entities.RuleTypePermission, Subject: "user:alice",
			Action: "view_library", Object: "lib:phys-101", Scope: "lib:phys-101",
			Effect: entities.EffectAllow,
		},
		{
			Type: entities.RuleTypePermission, Subject: "role:library_user",
			Action: "view_library", Object: "lib:*", Scope: "instance",
			Effect: entities.EffectAllow,
		},
		{
			Type: entities.RuleTypePermission, Subject: "role:library_user",
			Action: "view_library", Object: "lib:phys-101", Scope: "org:science",
			Effect: entities.EffectDeny,
		},
		{
			Type: entities.RuleTypePermission, Subject: "user:alice",
			Action: "delete_library", Object: "lib:phys-101", Scope: "lib:phys-101",
			Effect: entities.EffectAllow,
		},
		{
			Type: entities.RuleTypePermission, Subject: "user:carol",
			Action: "view_library", Object: "lib:phys-101", Scope: "lib:phys-101",
			Effect: entities.EffectAllow,
		},
	}
	for _, rule := range seed {
		if _, err := repo.CreateDynamicRule(ctx, rule); err != nil {
			t.Fatalf("seed create error = %v", err)
		}
	}

	t.Run("matches subject set, action and object; both effects returned", func(t *testing.T) {
		got, err := repo.FindCandidates(ctx, &repositories.CandidateFilter{
			Action:   "view_library",
			Object:   "lib:phys-101",
			Subjects: []string{"user:alice", "role:library_user"},
		})
		if err != nil {
			t.Fatalf("FindCandidates() error = %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("FindCandidates() returned %d rules, want 3", len(got))
		}
		denies := 0
		for _, rule := range got {
			if rule.Effect == entities.EffectDeny {
				denies++
			}
		}
		if denies != 1 {
			t.Errorf("FindCandidates() returned %d deny rules, want 1", denies)
		}
	})

	t.Run("different action excluded", func(t *testing.T) {
		got, err := repo.FindCandidates(ctx, &repositories.CandidateFilter{
			Action:   "delete_library",
			Object:   "lib:phys-101",
			Subjects: []string{"user:alice"},
		})
		if err != nil {
			t.Fatalf("FindCandidates() error = %v", err)
		}
		if len(got) != 1 {
			t.Errorf("FindCandidates() returned %d rules, want 1", len(got))
		}
	})

	t.Run("object type filter for enumeration", func(t *testing.T) {
		got, err := repo.FindCandidates(ctx, &repositories.CandidateFilter{
			Action:     "view_library",
			ObjectType: "lib",
			Subjects:   []string{"user:alice", "role:library_user"},
		})
		if err != nil {
			t.Fatalf("FindCandidates() error = %v", err)
		}
		if len(got) != 3 {
			t.Errorf("FindCandidates() returned %d rules, want 3", len(got))
		}
	})

	t.Run("results are sorted by ID", func(t *testing.T) {
		got, err := repo.FindCandidates(ctx, &repositories.CandidateFilter{
			Action:   "view_library",
			Object:   "lib:phys-101",
			Subjects: []string{"user:alice", "role:library_user", "user:carol"},
		})
		if err != nil {
			t.Fatalf("FindCandidates() error = %v", err)
		}
		for i := 1; i < len(got); i++ {
			if got[i-1].ID > got[i].ID {
				t.Errorf("results not sorted: %q before %q", got[i-1].ID, got[i].ID)
			}
		}
	})
}

func TestRuleRepository_FindAssignments(t *testing.T) {
	ctx := context.Background()
	repo := NewRuleRepository()

	groupings := []*entities.Rule{
		{Type: entities.RuleTypeGrouping, Subject: "user:alice", Role: "library_admin", Scope: "lib:phys-101"},
		{Type: entities.RuleTypeGrouping, Subject: "user:alice", Role: "library_user", Scope: "org:science"},
		{Type: entities.RuleTypeGrouping, Subject: "user:bob", Role: "library_user", Scope: "lib:phys-101"},
	}
	for _, rule := range groupings {
		if _, err := repo.CreateDynamicRule(ctx, rule); err != nil {
			t.Fatalf("seed create error = %v", err)
		}
	}

	got, err := repo.FindAssignments(ctx, "user:alice")
	if err != nil {
		t.Fatalf("FindAssignments() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("FindAssignments() returned %d assignments, want 2", len(got))
	}
	if got[0].Role != "library_admin" || got[1].Role != "library_user" {
		t.Errorf("FindAssignments() order = %s, %s; want library_admin, library_user",
			got[0].Role, got[1].Role)
	}
}

func TestRuleRepository_ListDynamicRules(t *testing.T) {
	ctx := context.Background()
	repo := NewRuleRepository()

	if _, err := repo.LoadStaticBundle(ctx, testBundle("v1")); err != nil {
		t.Fatalf("load error = %v", err)
	}
	if _, err := repo.CreateDynamicRule(ctx, &entities.Rule{
		Type: entities.RuleTypePermission, Subject: "user:bob",
		Action: "view_library", Object: "lib:x", Scope: "lib:x",
		Effect: entities.EffectAllow,
	}); err != nil {
		t.Fatalf("create error = %v", err)
	}

	got, err := repo.ListDynamicRules(ctx)
	if err != nil {
		t.Fatalf("ListDynamicRules() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ListDynamicRules() returned %d rules, want 1 (static excluded)", len(got))
	}
	if got[0].Origin != entities.OriginDynamic {
		t.Errorf("ListDynamicRules() origin = %s, want dynamic", got[0].Origin)
	}
}
