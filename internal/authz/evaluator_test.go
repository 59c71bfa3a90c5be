package authz

import (
	"testing"

	"github.com/hostelops/gatehouse/model"
)

func wardenEvaluator(t *testing.T, ov *model.Override) *Evaluator {
	t.Helper()
	snap := testSnapshot(t)
	return NewEvaluator(snap, Merge(snap, "warden", ov))
}

func TestEvaluator_Can(t *testing.T) {
	eval := wardenEvaluator(t, nil)

	if !eval.Can("visitors:list:view") {
		t.Error("Can(visitors:list:view) = false, want true")
	}
	if eval.Can("visitors:record:export") {
		t.Error("Can(visitors:record:export) = true, want false")
	}
	if eval.Can("not:a:capability") {
		t.Error("Can on an unknown key without wildcard should be false")
	}
}

func TestEvaluator_CanAny(t *testing.T) {
	eval := wardenEvaluator(t, nil)

	tests := []struct {
		name string
		keys []string
		want bool
	}{
		{"one granting key", []string{"visitors:list:view"}, true},
		{"granting plus denied", []string{"visitors:record:export", "visitors:list:view"}, true},
		{"all missing", []string{"visitors:record:export", "reports:occupancy:export"}, false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := eval.CanAny(tt.keys...); got != tt.want {
				t.Errorf("CanAny(%v) = %v, want %v", tt.keys, got, tt.want)
			}
		})
	}
}

func TestEvaluator_CanAny_deny_does_not_block_other_grant(t *testing.T) {
	ov := model.EmptyOverride("user-1")
	ov.DenyCapabilities.Add("visitors:list:view")
	ov.AllowCapabilities.Add("visitors:record:export")
	eval := wardenEvaluator(t, &ov)

	// OR semantics: the denied key must not veto the granted one.
	if !eval.CanAny("visitors:list:view", "visitors:record:export") {
		t.Error("CanAny should pass via the still-granted key")
	}
}

func TestEvaluator_CanAll(t *testing.T) {
	eval := wardenEvaluator(t, nil)

	tests := []struct {
		name string
		keys []string
		want bool
	}{
		{"all granted", []string{"visitors:list:view", "rooms:allocation:update"}, true},
		{"one missing", []string{"visitors:list:view", "visitors:record:export"}, false},
		{"empty is vacuously true", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := eval.CanAll(tt.keys...); got != tt.want {
				t.Errorf("CanAll(%v) = %v, want %v", tt.keys, got, tt.want)
			}
		})
	}
}

func TestEvaluator_CanRouteByPath(t *testing.T) {
	eval := wardenEvaluator(t, nil)

	if !eval.CanRouteByPath("/visitors/42/checkins") {
		t.Error("granted route prefix should pass")
	}
	if eval.CanRouteByPath("/reports") {
		t.Error("route outside the role's defaults should be denied")
	}
	// Paths the catalog never claims are outside the policy's authority.
	if !eval.CanRouteByPath("/totally/unmapped") {
		t.Error("unmatched paths must be permitted")
	}
}

func TestEvaluator_CanRoute_unknown_key(t *testing.T) {
	eval := wardenEvaluator(t, nil)
	if eval.CanRoute("laundry") {
		t.Error("CanRoute on an unknown key should be false")
	}
}

func TestEvaluator_Constraint(t *testing.T) {
	eval := wardenEvaluator(t, nil)

	v, ok := eval.Constraint("visitors:export:max_records")
	if !ok || v != float64(2000) {
		t.Errorf("Constraint = %v, %v; want 2000, true", v, ok)
	}
	if _, ok := eval.Constraint("ui:banner:message"); ok {
		t.Error("constraint with no default and no override should be unset")
	}
}

func TestEvaluator_Role(t *testing.T) {
	eval := wardenEvaluator(t, nil)
	if eval.Role() != "warden" {
		t.Errorf("Role() = %q, want warden", eval.Role())
	}
}
