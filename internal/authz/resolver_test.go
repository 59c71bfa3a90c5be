package authz

import (
	"context"
	"testing"
	"time"

	"github.com/hostelops/gatehouse/internal/override"
	"github.com/hostelops/gatehouse/model"
)

func newTestResolver(t *testing.T, ttl time.Duration) (*Resolver, *override.MemoryStore) {
	t.Helper()
	reg := testRegistry(t)
	store := override.NewMemoryStore(reg)
	return NewResolver(reg, store, ttl), store
}

func TestResolver_caches_within_ttl(t *testing.T) {
	r, _ := newTestResolver(t, time.Minute)

	var hits, misses int
	r.Hit = func() { hits++ }
	r.Miss = func() { misses++ }

	ctx := context.Background()
	first, err := r.Resolve(ctx, "user-1", "warden")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	second, err := r.Resolve(ctx, "user-1", "warden")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if first != second {
		t.Error("second Resolve within TTL should return the cached evaluator")
	}
	if hits != 1 || misses != 1 {
		t.Errorf("hits = %d, misses = %d; want 1 and 1", hits, misses)
	}
}

func TestResolver_expired_entry_recomputed(t *testing.T) {
	r, _ := newTestResolver(t, -time.Second)

	ctx := context.Background()
	first, _ := r.Resolve(ctx, "user-1", "warden")
	second, _ := r.Resolve(ctx, "user-1", "warden")
	if first == second {
		t.Error("expired entry should be recomputed")
	}
}

func TestResolver_roles_cached_separately(t *testing.T) {
	r, _ := newTestResolver(t, time.Minute)

	ctx := context.Background()
	asWarden, _ := r.Resolve(ctx, "user-1", "warden")
	asViewer, _ := r.Resolve(ctx, "user-1", "viewer")
	if asWarden == asViewer {
		t.Error("different roles must not share a cache entry")
	}
	if !asWarden.Can("rooms:allocation:update") {
		t.Error("warden evaluation wrong")
	}
	if asViewer.Can("rooms:allocation:update") {
		t.Error("viewer evaluation wrong")
	}
}

func TestResolver_invalidate_gives_read_after_write(t *testing.T) {
	r, store := newTestResolver(t, time.Hour)
	ctx := context.Background()

	before, err := r.Resolve(ctx, "user-1", "warden")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if !before.Can("visitors:list:view") {
		t.Fatal("warden should start with visitors:list:view")
	}

	_, err = store.Apply(ctx, "user-1", model.OverrideDelta{
		DenyCapabilities: []string{"visitors:list:view"},
	}, "restrict", "admin-1")
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	r.Invalidate("user-1")

	after, err := r.Resolve(ctx, "user-1", "warden")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if after.Can("visitors:list:view") {
		t.Error("evaluation after invalidate must reflect the new override")
	}
}

func TestResolver_invalidate_other_user_untouched(t *testing.T) {
	r, _ := newTestResolver(t, time.Hour)
	ctx := context.Background()

	cached, _ := r.Resolve(ctx, "user-2", "warden")
	r.Invalidate("user-1")
	again, _ := r.Resolve(ctx, "user-2", "warden")
	if cached != again {
		t.Error("invalidating one user must not evict another")
	}
}

func TestResolver_user_ids_with_separator_do_not_collide(t *testing.T) {
	r, store := newTestResolver(t, time.Hour)
	ctx := context.Background()

	// "tenant:a" evaluated as viewer and "tenant" would have produced the
	// same joined string key; as distinct users they must cache separately.
	_, err := store.Apply(ctx, "tenant:a", model.OverrideDelta{
		DenyCapabilities: []string{"visitors:list:view"},
	}, "restrict", "admin-1")
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}

	restricted, err := r.Resolve(ctx, "tenant:a", "viewer")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	plain, err := r.Resolve(ctx, "tenant", "viewer")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if restricted.Can("visitors:list:view") {
		t.Error("tenant:a should be denied visitors:list:view")
	}
	if !plain.Can("visitors:list:view") {
		t.Error("tenant must not inherit tenant:a's override")
	}

	cached, _ := r.Resolve(ctx, "tenant:a", "viewer")
	r.Invalidate("tenant")
	again, _ := r.Resolve(ctx, "tenant:a", "viewer")
	if cached != again {
		t.Error("invalidating tenant must not evict tenant:a")
	}
}

func TestResolver_merged_hook_observes_recomputes(t *testing.T) {
	r, store := newTestResolver(t, time.Hour)
	ctx := context.Background()

	var recomputes int
	var anomalies []model.Anomaly
	r.Merged = func(d time.Duration, a []model.Anomaly) {
		recomputes++
		if d < 0 {
			t.Errorf("merge duration = %v, want >= 0", d)
		}
		anomalies = a
	}

	if _, err := r.Resolve(ctx, "user-1", "warden"); err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if _, err := r.Resolve(ctx, "user-1", "warden"); err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if recomputes != 1 {
		t.Errorf("recomputes = %d, want 1 (second call served from cache)", recomputes)
	}

	_, err := store.Apply(ctx, "user-1", model.OverrideDelta{
		AllowCapabilities: []string{"parcels:pickup:view"},
	}, "stale key", "admin-1")
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	r.Invalidate("user-1")
	if _, err := r.Resolve(ctx, "user-1", "warden"); err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if recomputes != 2 {
		t.Fatalf("recomputes = %d, want 2", recomputes)
	}
	if len(anomalies) != 1 || anomalies[0].Key != "parcels:pickup:view" {
		t.Errorf("anomalies = %+v, want one unknown_key for parcels:pickup:view", anomalies)
	}
}
