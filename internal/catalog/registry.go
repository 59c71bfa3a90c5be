package catalog

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/hostelops/gatehouse/model"
)

// routePattern is one compiled path pattern belonging to a route key.
// Patterns ending in "/*" match any path with the given prefix; all other
// patterns match exactly.
type routePattern struct {
	routeKey string
	prefix   string
	exact    string
}

func (p routePattern) matches(path string) bool {
	if p.prefix != "" {
		return path == strings.TrimSuffix(p.prefix, "/") || strings.HasPrefix(path, p.prefix)
	}
	return path == p.exact
}

// Snapshot is an immutable view of the merged catalog. All lookups are plain
// map reads; a Snapshot is safe for concurrent use and never mutated after
// construction. Components that need catalog data take a *Snapshot so that a
// whole request is evaluated against one consistent catalog version.
type Snapshot struct {
	version     string
	checksum    string
	routes      map[string]model.RouteDefinition
	routeOrder  []string
	caps        map[string]model.CapabilityDefinition
	capOrder    []string
	constraints map[string]model.ConstraintDefinition
	consOrder   []string
	roles       map[string]model.RoleDefaults
	roleOrder   []string
	patterns    []routePattern
}

// Version returns the catalog version declared by the fragments, or the
// combined checksum when no fragment declared one.
func (s *Snapshot) Version() string { return s.version }

// Checksum returns the combined SHA-256 over all loaded fragments.
func (s *Snapshot) Checksum() string { return s.checksum }

// Route returns the route definition for key.
func (s *Snapshot) Route(key string) (model.RouteDefinition, bool) {
	r, ok := s.routes[key]
	return r, ok
}

// Capability returns the capability definition for key.
func (s *Snapshot) Capability(key string) (model.CapabilityDefinition, bool) {
	c, ok := s.caps[key]
	return c, ok
}

// Constraint returns the constraint definition for key.
func (s *Snapshot) Constraint(key string) (model.ConstraintDefinition, bool) {
	c, ok := s.constraints[key]
	return c, ok
}

// RoleDefaults returns the baseline grants for a role.
func (s *Snapshot) RoleDefaults(role string) (model.RoleDefaults, bool) {
	r, ok := s.roles[role]
	return r, ok
}

// Routes returns all route definitions in declaration order.
func (s *Snapshot) Routes() []model.RouteDefinition {
	out := make([]model.RouteDefinition, 0, len(s.routeOrder))
	for _, k := range s.routeOrder {
		out = append(out, s.routes[k])
	}
	return out
}

// Capabilities returns all capability definitions in declaration order.
func (s *Snapshot) Capabilities() []model.CapabilityDefinition {
	out := make([]model.CapabilityDefinition, 0, len(s.capOrder))
	for _, k := range s.capOrder {
		out = append(out, s.caps[k])
	}
	return out
}

// Constraints returns all constraint definitions in declaration order.
func (s *Snapshot) Constraints() []model.ConstraintDefinition {
	out := make([]model.ConstraintDefinition, 0, len(s.consOrder))
	for _, k := range s.consOrder {
		out = append(out, s.constraints[k])
	}
	return out
}

// Roles returns the names of all roles with declared defaults, sorted.
func (s *Snapshot) Roles() []string {
	out := make([]string, len(s.roleOrder))
	copy(out, s.roleOrder)
	sort.Strings(out)
	return out
}

// MatchRoute resolves a concrete request path to the route key whose pattern
// matches it. Patterns are tried in declaration order and the first match
// wins. The second return value is false when no pattern matches.
func (s *Snapshot) MatchRoute(path string) (string, bool) {
	for _, p := range s.patterns {
		if p.matches(path) {
			return p.routeKey, true
		}
	}
	return "", false
}

// Registry holds the current catalog Snapshot behind an atomic pointer so
// that reads never contend with a reload.
type Registry struct {
	current atomic.Pointer[Snapshot]
}

// NewRegistry builds a Registry from the given catalog fragments. The
// fragments must already have passed Validate.
func NewRegistry(frags []model.Catalog) (*Registry, error) {
	snap, err := buildSnapshot(frags)
	if err != nil {
		return nil, err
	}
	r := &Registry{}
	r.current.Store(snap)
	return r, nil
}

// Snapshot returns the current immutable catalog view.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Constraint looks up a constraint definition in the current snapshot. The
// override stores validate constraint writes through the registry, so a
// catalog reload governs the persistence boundary immediately.
func (r *Registry) Constraint(key string) (model.ConstraintDefinition, bool) {
	return r.Snapshot().Constraint(key)
}

// Replace swaps in a new snapshot built from freshly loaded fragments.
// In-flight requests keep the snapshot they started with.
func (r *Registry) Replace(frags []model.Catalog) error {
	snap, err := buildSnapshot(frags)
	if err != nil {
		return err
	}
	r.current.Store(snap)
	return nil
}

func buildSnapshot(frags []model.Catalog) (*Snapshot, error) {
	snap := &Snapshot{
		routes:      make(map[string]model.RouteDefinition),
		caps:        make(map[string]model.CapabilityDefinition),
		constraints: make(map[string]model.ConstraintDefinition),
		roles:       make(map[string]model.RoleDefaults),
	}

	sum := sha256.New()
	for _, frag := range frags {
		if frag.Version != "" {
			snap.version = frag.Version
		}
		fmt.Fprintf(sum, "%s\n", frag.Checksum)

		for _, route := range frag.Routes {
			if _, dup := snap.routes[route.Key]; dup {
				return nil, fmt.Errorf("duplicate route key %q (in %s)", route.Key, frag.SourceFile)
			}
			snap.routes[route.Key] = route
			snap.routeOrder = append(snap.routeOrder, route.Key)
			for _, pattern := range route.Paths {
				snap.patterns = append(snap.patterns, compilePattern(route.Key, pattern))
			}
		}

		for _, cap := range frag.Capabilities {
			if _, dup := snap.caps[cap.Key]; dup {
				return nil, fmt.Errorf("duplicate capability key %q (in %s)", cap.Key, frag.SourceFile)
			}
			snap.caps[cap.Key] = cap
			snap.capOrder = append(snap.capOrder, cap.Key)
		}

		for _, cons := range frag.Constraints {
			if _, dup := snap.constraints[cons.Key]; dup {
				return nil, fmt.Errorf("duplicate constraint key %q (in %s)", cons.Key, frag.SourceFile)
			}
			if cons.DefaultValue != nil {
				if nv, err := model.ValidateConstraintValue(cons, cons.DefaultValue); err == nil {
					cons.DefaultValue = nv
				}
			}
			snap.constraints[cons.Key] = cons
			snap.consOrder = append(snap.consOrder, cons.Key)
		}

		for _, role := range frag.Roles {
			if _, dup := snap.roles[role.Role]; dup {
				return nil, fmt.Errorf("duplicate role %q (in %s)", role.Role, frag.SourceFile)
			}
			snap.roles[role.Role] = role
			snap.roleOrder = append(snap.roleOrder, role.Role)
		}
	}

	// Role constraint defaults pass through the same typed validation as
	// override values, so an effective set carries one representation per
	// value type no matter where the value came from.
	for name, role := range snap.roles {
		if len(role.Constraints) == 0 {
			continue
		}
		normalized := make(map[string]any, len(role.Constraints))
		for k, v := range role.Constraints {
			if def, ok := snap.constraints[k]; ok {
				if nv, err := model.ValidateConstraintValue(def, v); err == nil {
					normalized[k] = nv
					continue
				}
			}
			normalized[k] = v
		}
		role.Constraints = normalized
		snap.roles[name] = role
	}

	snap.checksum = fmt.Sprintf("%x", sum.Sum(nil))
	if snap.version == "" {
		snap.version = snap.checksum[:12]
	}
	return snap, nil
}

func compilePattern(routeKey, pattern string) routePattern {
	if strings.HasSuffix(pattern, "/*") {
		return routePattern{routeKey: routeKey, prefix: strings.TrimSuffix(pattern, "*")}
	}
	return routePattern{routeKey: routeKey, exact: pattern}
}
