package model

import (
	"encoding/json"
	"sort"
	"time"
)

// KeySet is a set of catalog keys. It JSON-encodes as a sorted array of
// strings; explicit set semantics keep the deny-precedence and
// conflict-detection rules checkable without slice scans.
type KeySet map[string]struct{}

// NewKeySet builds a KeySet from the given keys.
func NewKeySet(keys ...string) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Has reports whether the set contains key.
func (s KeySet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Add inserts key into the set.
func (s KeySet) Add(key string) {
	s[key] = struct{}{}
}

// Remove deletes key from the set.
func (s KeySet) Remove(key string) {
	delete(s, key)
}

// Keys returns the members as a slice in unspecified order.
func (s KeySet) Keys() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	return out
}

// Clone returns a copy of the set.
func (s KeySet) Clone() KeySet {
	out := make(KeySet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// SortedKeys returns the members sorted lexically.
func (s KeySet) SortedKeys() []string {
	out := s.Keys()
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as a sorted JSON array of strings.
func (s KeySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.SortedKeys())
}

// UnmarshalJSON decodes a JSON array of strings into the set.
func (s *KeySet) UnmarshalJSON(data []byte) error {
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	*s = NewKeySet(keys...)
	return nil
}

// ConstraintOverride is a single typed constraint value pinned for one user.
type ConstraintOverride struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Override is the per-user record of explicit permission deltas layered on
// top of role defaults. A user with no stored override evaluates to pure role
// defaults. Keys unknown to the catalog are preserved verbatim for
// forward-compatibility and surfaced as anomalies, never silently dropped.
type Override struct {
	UserID            string               `json:"user_id"`
	AllowRoutes       KeySet               `json:"allow_routes,omitempty"`
	DenyRoutes        KeySet               `json:"deny_routes,omitempty"`
	AllowCapabilities KeySet               `json:"allow_capabilities,omitempty"`
	DenyCapabilities  KeySet               `json:"deny_capabilities,omitempty"`
	Constraints       []ConstraintOverride `json:"constraints,omitempty"`
	Reason            string               `json:"reason,omitempty"`
	UpdatedAt         time.Time            `json:"updated_at"`
	UpdatedBy         string               `json:"updated_by,omitempty"`
}

// EmptyOverride returns the implicit all-empty override for a user that has
// never been edited.
func EmptyOverride(userID string) Override {
	return Override{
		UserID:            userID,
		AllowRoutes:       KeySet{},
		DenyRoutes:        KeySet{},
		AllowCapabilities: KeySet{},
		DenyCapabilities:  KeySet{},
	}
}

// IsEmpty reports whether the override carries no explicit entries, i.e. the
// user is in the Defaulted state.
func (o Override) IsEmpty() bool {
	return len(o.AllowRoutes) == 0 && len(o.DenyRoutes) == 0 &&
		len(o.AllowCapabilities) == 0 && len(o.DenyCapabilities) == 0 &&
		len(o.Constraints) == 0
}

// Constraint returns the override value for key, if one is set.
func (o Override) Constraint(key string) (any, bool) {
	for _, c := range o.Constraints {
		if c.Key == key {
			return c.Value, true
		}
	}
	return nil, false
}

// OverrideDelta is a partial patch applied to a stored Override. Keys listed
// under Allow* move to the allow set (and leave the deny set), Deny* the
// reverse, and Clear* return the key to its role default. Keys not mentioned
// anywhere are left untouched. Constraint entries replace the prior entry for
// the same key.
type OverrideDelta struct {
	AllowRoutes       []string             `json:"allow_routes,omitempty"`
	DenyRoutes        []string             `json:"deny_routes,omitempty"`
	ClearRoutes       []string             `json:"clear_routes,omitempty"`
	AllowCapabilities []string             `json:"allow_capabilities,omitempty"`
	DenyCapabilities  []string             `json:"deny_capabilities,omitempty"`
	ClearCapabilities []string             `json:"clear_capabilities,omitempty"`
	Constraints       []ConstraintOverride `json:"constraints,omitempty"`
	ClearConstraints  []string             `json:"clear_constraints,omitempty"`
}

// IsEmpty reports whether the delta patches nothing.
func (d OverrideDelta) IsEmpty() bool {
	return len(d.AllowRoutes) == 0 && len(d.DenyRoutes) == 0 && len(d.ClearRoutes) == 0 &&
		len(d.AllowCapabilities) == 0 && len(d.DenyCapabilities) == 0 && len(d.ClearCapabilities) == 0 &&
		len(d.Constraints) == 0 && len(d.ClearConstraints) == 0
}

// AuditAction identifies a lifecycle operation recorded in the audit trail.
type AuditAction string

// Audit trail actions.
const (
	AuditActionUpdate AuditAction = "update"
	AuditActionReset  AuditAction = "reset"
)

// AuditEntry records one update or reset of a user's override.
type AuditEntry struct {
	ID      string         `json:"id"`
	UserID  string         `json:"user_id"`
	Action  AuditAction    `json:"action"`
	ActorID string         `json:"actor_id"`
	Reason  string         `json:"reason,omitempty"`
	Delta   *OverrideDelta `json:"delta,omitempty"`
	At      time.Time      `json:"at"`
}

// AnomalyKind classifies an override entry the merge engine could not bind to
// the catalog.
type AnomalyKind string

// Anomaly kinds.
const (
	AnomalyUnknownKey   AnomalyKind = "unknown_key"
	AnomalyInvalidValue AnomalyKind = "invalid_value"
)

// Anomaly flags an override entry that evaluation ignored. Anomalies are
// surfaced to the admin editor for cleanup; the underlying entries stay in
// storage untouched.
type Anomaly struct {
	Kind      AnomalyKind `json:"kind"`
	Dimension string      `json:"dimension"` // "role", "routes", "capabilities", or "constraints"
	Key       string      `json:"key"`
	Detail    string      `json:"detail,omitempty"`
}

// EffectivePermissionSet is the computed result of merging one role's
// defaults with one user's override. It is ephemeral: recomputed whenever the
// override or the role changes, never stored, never mutated.
//
// Callers must not gate on these fields directly; the authz.Evaluator is the
// only supported read surface.
type EffectivePermissionSet struct {
	Role         string          `json:"role"`
	RouteAccess  map[string]bool `json:"route_access"`
	Capabilities map[string]bool `json:"capabilities"`
	Constraints  map[string]any  `json:"constraints"`

	// Wildcard is true when "*" is effectively allowed: every capability
	// check passes except keys explicitly denied by the override.
	Wildcard   bool      `json:"wildcard"`
	DeniedCaps KeySet    `json:"denied_capabilities,omitempty"`
	Anomalies  []Anomaly `json:"anomalies,omitempty"`
}
