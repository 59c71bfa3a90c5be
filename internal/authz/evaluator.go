package authz

import (
	"github.com/hostelops/gatehouse/internal/catalog"
	"github.com/hostelops/gatehouse/model"
)

// Evaluator is the read surface gating code queries. It wraps one effective
// permission set together with the catalog snapshot it was merged against, so
// a single request sees one consistent policy state. All methods are pure
// lookups and safe for concurrent use.
type Evaluator struct {
	snap *catalog.Snapshot
	eff  *model.EffectivePermissionSet
}

// NewEvaluator creates an Evaluator over an already merged permission set.
// The snapshot must be the one the set was merged from.
func NewEvaluator(snap *catalog.Snapshot, eff *model.EffectivePermissionSet) *Evaluator {
	return &Evaluator{snap: snap, eff: eff}
}

// Can reports whether the user holds the given capability. An explicit deny
// always wins; a wildcard grant covers any key, including keys the catalog
// does not define.
func (e *Evaluator) Can(key string) bool {
	if e.eff.DeniedCaps.Has(key) {
		return false
	}
	if e.eff.Wildcard {
		return true
	}
	return e.eff.Capabilities[key]
}

// CanAny reports whether at least one of the keys evaluates true. Denying one
// key must not block a feature reachable through another granting key.
func (e *Evaluator) CanAny(keys ...string) bool {
	for _, k := range keys {
		if e.Can(k) {
			return true
		}
	}
	return false
}

// CanAll reports whether every key evaluates true. CanAll with no keys is
// vacuously true.
func (e *Evaluator) CanAll(keys ...string) bool {
	for _, k := range keys {
		if !e.Can(k) {
			return false
		}
	}
	return true
}

// CanRoute reports whether the user may access the route with the given
// catalog key. Unknown keys are denied.
func (e *Evaluator) CanRoute(key string) bool {
	return e.eff.RouteAccess[key]
}

// CanRouteByPath resolves a concrete path against the catalog's route
// patterns and evaluates the matching key's route access. Paths that match no
// pattern are permitted: they lie outside the policy's authority and denying
// them would break pages the catalog never claimed to govern.
func (e *Evaluator) CanRouteByPath(path string) bool {
	key, ok := e.snap.MatchRoute(path)
	if !ok {
		return true
	}
	return e.eff.RouteAccess[key]
}

// Constraint returns the effective value for a constraint key and whether one
// is set.
func (e *Evaluator) Constraint(key string) (any, bool) {
	v, ok := e.eff.Constraints[key]
	return v, ok
}

// Role returns the role the permission set was merged for.
func (e *Evaluator) Role() string {
	return e.eff.Role
}

// Effective exposes the underlying permission set for the admin surface,
// which renders the full state rather than asking yes/no questions.
func (e *Evaluator) Effective() *model.EffectivePermissionSet {
	return e.eff
}

// Snapshot returns the catalog snapshot this evaluator was built against.
func (e *Evaluator) Snapshot() *catalog.Snapshot {
	return e.snap
}
