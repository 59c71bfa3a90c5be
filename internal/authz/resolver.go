package authz

import (
	"context"
	"sync"
	"time"

	"github.com/hostelops/gatehouse/internal/catalog"
	"github.com/hostelops/gatehouse/internal/override"
	"github.com/hostelops/gatehouse/model"
)

// cacheKey is a composite map key. A struct rather than a joined string so
// that user IDs containing the separator can never collide with another
// user's entry.
type cacheKey struct {
	userID   string
	role     string
	checksum string
}

type cacheEntry struct {
	eval    *Evaluator
	expires time.Time
}

// Resolver computes evaluators per user with a TTL cache. Invalidation after
// an override write keeps read-after-write consistency for the affected user;
// everyone else converges within the TTL.
type Resolver struct {
	registry *catalog.Registry
	store    override.Store
	ttl      time.Duration

	mu    sync.RWMutex
	cache map[cacheKey]cacheEntry

	// Hit and Miss are called on each cache lookup when set. Merged observes
	// every recompute with its duration and the anomalies it surfaced.
	Hit    func()
	Miss   func()
	Merged func(d time.Duration, anomalies []model.Anomaly)
}

// NewResolver creates a Resolver over the catalog registry and override
// store with the given cache TTL.
func NewResolver(registry *catalog.Registry, store override.Store, ttl time.Duration) *Resolver {
	return &Resolver{
		registry: registry,
		store:    store,
		ttl:      ttl,
		cache:    make(map[cacheKey]cacheEntry),
	}
}

// Resolve returns the evaluator for one user and role. Results are cached for
// the configured TTL; the catalog checksum is part of the key, so a catalog
// swap naturally starts a fresh cache generation.
func (r *Resolver) Resolve(ctx context.Context, userID, role string) (*Evaluator, error) {
	snap := r.registry.Snapshot()
	key := cacheKey{userID: userID, role: role, checksum: snap.Checksum()}

	r.mu.RLock()
	if entry, ok := r.cache[key]; ok && time.Now().Before(entry.expires) {
		r.mu.RUnlock()
		if r.Hit != nil {
			r.Hit()
		}
		return entry.eval, nil
	}
	r.mu.RUnlock()
	if r.Miss != nil {
		r.Miss()
	}

	ov, err := r.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	eff := Merge(snap, role, &ov)
	if r.Merged != nil {
		r.Merged(time.Since(start), eff.Anomalies)
	}
	eval := NewEvaluator(snap, eff)

	r.mu.Lock()
	r.cache[key] = cacheEntry{eval: eval, expires: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	return eval, nil
}

// Invalidate clears cached evaluations for the given user across all roles
// and catalog versions.
func (r *Resolver) Invalidate(userID string) {
	r.mu.Lock()
	for key := range r.cache {
		if key.userID == userID {
			delete(r.cache, key)
		}
	}
	r.mu.Unlock()
}
