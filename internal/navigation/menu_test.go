package navigation

import (
	"testing"

	"github.com/hostelops/gatehouse/internal/authz"
	"github.com/hostelops/gatehouse/internal/catalog"
	"github.com/hostelops/gatehouse/model"
)

func navRegistry(t *testing.T) *catalog.Registry {
	t.Helper()
	frag := model.Catalog{
		Version: "nav-test",
		Routes: []model.RouteDefinition{
			{
				Key: "visitors", Label: "Visitors", Paths: []string{"/visitors", "/visitors/*"},
				Nav: &model.NavEntry{Icon: "user-group", Section: "Front Desk", Order: 10},
			},
			{
				Key: "rooms", Label: "Rooms", Paths: []string{"/rooms/*"},
				Nav: &model.NavEntry{Icon: "building", Section: "Housing", Order: 20},
			},
			{
				Key: "reports", Label: "Reports", Paths: []string{"/reports"},
				Nav: &model.NavEntry{Icon: "chart-bar", Section: "Administration", Order: 30},
			},
			{
				Key: "authz-admin", Label: "Access Control", Paths: []string{"/admin/access/*"},
				Nav: &model.NavEntry{Icon: "shield-check", Section: "Administration", Order: 40},
			},
			// Reachable but unlisted.
			{Key: "profile", Label: "Profile", Paths: []string{"/profile"}},
		},
		Roles: []model.RoleDefaults{
			{Role: "warden", RouteAccess: []string{"visitors", "rooms", "reports", "profile"}},
			{Role: "viewer", RouteAccess: []string{"visitors"}},
		},
		SourceFile: "inline",
	}
	r, err := catalog.NewRegistry([]model.Catalog{frag})
	if err != nil {
		t.Fatalf("NewRegistry error: %v", err)
	}
	return r
}

func evalFor(t *testing.T, reg *catalog.Registry, role string, ov *model.Override) *authz.Evaluator {
	t.Helper()
	snap := reg.Snapshot()
	return authz.NewEvaluator(snap, authz.Merge(snap, role, ov))
}

func TestMenuProvider_Build(t *testing.T) {
	reg := navRegistry(t)
	tree := NewMenuProvider(reg).Build(evalFor(t, reg, "warden", nil))

	if len(tree.Sections) != 3 {
		t.Fatalf("sections = %d, want 3", len(tree.Sections))
	}
	if tree.Sections[0].Label != "Front Desk" {
		t.Errorf("first section = %q, want Front Desk", tree.Sections[0].Label)
	}
	if tree.Sections[2].Label != "Administration" {
		t.Errorf("last section = %q, want Administration", tree.Sections[2].Label)
	}

	admin := tree.Sections[2]
	if len(admin.Items) != 1 || admin.Items[0].Key != "reports" {
		t.Errorf("Administration items = %+v, want reports only (no authz-admin access)", admin.Items)
	}

	front := tree.Sections[0].Items[0]
	if front.Path != "/visitors" {
		t.Errorf("visitors path = %q, want /visitors", front.Path)
	}
	if front.Icon != "user-group" {
		t.Errorf("visitors icon = %q", front.Icon)
	}

	// Routes without nav metadata never appear.
	for _, s := range tree.Sections {
		for _, item := range s.Items {
			if item.Key == "profile" {
				t.Error("nav-less route should not be listed")
			}
		}
	}
}

func TestMenuProvider_Build_respects_overrides(t *testing.T) {
	reg := navRegistry(t)

	ov := model.EmptyOverride("user-1")
	ov.DenyRoutes.Add("rooms")
	ov.AllowRoutes.Add("authz-admin")
	tree := NewMenuProvider(reg).Build(evalFor(t, reg, "warden", &ov))

	var keys []string
	for _, s := range tree.Sections {
		for _, item := range s.Items {
			keys = append(keys, item.Key)
		}
	}
	want := []string{"visitors", "reports", "authz-admin"}
	if len(keys) != len(want) {
		t.Fatalf("menu keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("menu keys = %v, want %v", keys, want)
			break
		}
	}
}

func TestMenuProvider_Build_empty_for_unknown_role(t *testing.T) {
	reg := navRegistry(t)
	tree := NewMenuProvider(reg).Build(evalFor(t, reg, "ghost", nil))
	if len(tree.Sections) != 0 {
		t.Errorf("sections = %d, want 0", len(tree.Sections))
	}
}

func TestPrimaryPath(t *testing.T) {
	tests := []struct {
		patterns []string
		want     string
	}{
		{[]string{"/visitors", "/visitors/*"}, "/visitors"},
		{[]string{"/rooms/*"}, "/rooms"},
		{nil, "/"},
	}
	for _, tt := range tests {
		if got := primaryPath(tt.patterns); got != tt.want {
			t.Errorf("primaryPath(%v) = %q, want %q", tt.patterns, got, tt.want)
		}
	}
}
