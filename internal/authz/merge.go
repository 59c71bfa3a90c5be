// Package authz computes effective permissions by merging role defaults with
// per-user overrides, and serves cached evaluations plus the administrative
// override lifecycle.
package authz

import (
	"fmt"

	"github.com/hostelops/gatehouse/internal/catalog"
	"github.com/hostelops/gatehouse/model"
)

// Merge deterministically computes the effective permission set for one user
// from the catalog snapshot, the user's role, and the user's override. The
// override may be nil, which yields pure role defaults. Merge performs no I/O
// and never fails: unknown keys and invalid constraint values referenced by
// the override are skipped for evaluation and recorded as anomalies.
//
// Precedence per key is deny > allow > role default. A wildcard capability
// grant covers every key except those explicitly denied.
func Merge(snap *catalog.Snapshot, role string, ov *model.Override) *model.EffectivePermissionSet {
	eff := &model.EffectivePermissionSet{
		Role:         role,
		RouteAccess:  make(map[string]bool),
		Capabilities: make(map[string]bool),
		Constraints:  make(map[string]any),
		DeniedCaps:   model.NewKeySet(),
	}

	defaults, roleKnown := snap.RoleDefaults(role)
	if !roleKnown && role != "" {
		eff.Anomalies = append(eff.Anomalies, model.Anomaly{
			Kind:      model.AnomalyUnknownKey,
			Dimension: "role",
			Key:       role,
			Detail:    "role has no declared defaults; all grants default to false",
		})
	}
	if ov == nil {
		empty := model.EmptyOverride("")
		ov = &empty
	}

	for _, route := range snap.Routes() {
		k := route.Key
		switch {
		case ov.DenyRoutes.Has(k):
			eff.RouteAccess[k] = false
		case ov.AllowRoutes.Has(k):
			eff.RouteAccess[k] = true
		default:
			eff.RouteAccess[k] = defaults.HasRoute(k)
		}
	}

	wildcard := defaults.Capabilities[model.WildcardCapability] ||
		ov.AllowCapabilities.Has(model.WildcardCapability)
	if ov.DenyCapabilities.Has(model.WildcardCapability) {
		wildcard = false
	}
	eff.Wildcard = wildcard

	for _, cap := range snap.Capabilities() {
		k := cap.Key
		switch {
		case ov.DenyCapabilities.Has(k):
			eff.Capabilities[k] = false
		case wildcard:
			eff.Capabilities[k] = true
		case ov.AllowCapabilities.Has(k):
			eff.Capabilities[k] = true
		default:
			eff.Capabilities[k] = defaults.Capabilities[k]
		}
	}
	for _, k := range ov.DenyCapabilities.SortedKeys() {
		if k == model.WildcardCapability {
			continue
		}
		eff.DeniedCaps.Add(k)
	}

	for _, def := range snap.Constraints() {
		k := def.Key
		value := def.DefaultValue
		if v, ok := defaults.Constraints[k]; ok {
			value = v
		}
		if raw, ok := ov.Constraint(k); ok {
			normalized, err := model.ValidateConstraintValue(def, raw)
			if err != nil {
				eff.Anomalies = append(eff.Anomalies, model.Anomaly{
					Kind:      model.AnomalyInvalidValue,
					Dimension: "constraints",
					Key:       k,
					Detail:    err.Error(),
				})
			} else {
				value = normalized
			}
		}
		if value != nil {
			eff.Constraints[k] = value
		}
	}

	eff.Anomalies = append(eff.Anomalies, overrideAnomalies(snap, ov)...)
	return eff
}

// overrideAnomalies flags override entries that reference keys absent from the
// catalog. Such entries stay in storage verbatim so that a future catalog can
// revive them, but they contribute nothing to evaluation.
func overrideAnomalies(snap *catalog.Snapshot, ov *model.Override) []model.Anomaly {
	var out []model.Anomaly

	flagRoutes := func(set model.KeySet, detail string) {
		for _, k := range set.SortedKeys() {
			if _, ok := snap.Route(k); !ok {
				out = append(out, model.Anomaly{
					Kind: model.AnomalyUnknownKey, Dimension: "routes", Key: k, Detail: detail,
				})
			}
		}
	}
	flagRoutes(ov.AllowRoutes, "allowed route is not in the catalog")
	flagRoutes(ov.DenyRoutes, "denied route is not in the catalog")

	flagCaps := func(set model.KeySet, detail string) {
		for _, k := range set.SortedKeys() {
			if k == model.WildcardCapability {
				continue
			}
			if _, ok := snap.Capability(k); !ok {
				out = append(out, model.Anomaly{
					Kind: model.AnomalyUnknownKey, Dimension: "capabilities", Key: k, Detail: detail,
				})
			}
		}
	}
	flagCaps(ov.AllowCapabilities, "allowed capability is not in the catalog")
	flagCaps(ov.DenyCapabilities, "denied capability is not in the catalog")

	for _, entry := range ov.Constraints {
		if _, ok := snap.Constraint(entry.Key); !ok {
			out = append(out, model.Anomaly{
				Kind:      model.AnomalyUnknownKey,
				Dimension: "constraints",
				Key:       entry.Key,
				Detail:    fmt.Sprintf("constraint %q is not in the catalog", entry.Key),
			})
		}
	}

	return out
}
