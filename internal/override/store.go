// Package override persists per-user permission overrides and their audit
// trail. Stores re-validate constraint values against the catalog at the
// persistence boundary; callers never get to skip that check.
package override

import (
	"context"
	"time"

	"github.com/hostelops/gatehouse/model"
)

// Definitions is the slice of catalog lookup a store needs to re-validate
// constraint values. A catalog snapshot satisfies it.
type Definitions interface {
	Constraint(key string) (model.ConstraintDefinition, bool)
}

// Store persists per-user overrides.
type Store interface {
	// Get retrieves the override for a user. A user with no stored override
	// is in the Defaulted state and gets an empty override, not an error.
	Get(ctx context.Context, userID string) (model.Override, error)

	// Apply validates delta and merges it into the user's stored override as
	// a partial patch: delta entries replace prior entries for the same key,
	// untouched keys are kept. Concurrent applies for one user are
	// last-write-wins at whole-delta granularity. An audit entry is recorded.
	Apply(ctx context.Context, userID string, delta model.OverrideDelta, reason, actorID string) (model.Override, error)

	// Reset clears all allow/deny/constraint entries for the user, keeping
	// the record and appending the reason as a trailing audit note.
	Reset(ctx context.Context, userID, reason, actorID string) (model.Override, error)

	// History returns the user's audit entries, most recent first. limit <= 0
	// means no limit.
	History(ctx context.Context, userID string, limit int) ([]model.AuditEntry, error)
}

// ValidateDelta checks a delta before it touches storage. It rejects a key
// present in both the allow and deny list of one dimension with
// ConflictingOverride, and rejects constraint values that fail their declared
// type with InvalidConstraintValue, returning the delta with constraint
// values normalized. Keys the catalog does not define are accepted verbatim;
// the merge path flags them as anomalies instead.
func ValidateDelta(defs Definitions, delta model.OverrideDelta) (model.OverrideDelta, error) {
	if key, clash := firstOverlap(delta.AllowRoutes, delta.DenyRoutes); clash {
		return delta, model.NewConflictingOverrideError("routes", key)
	}
	if key, clash := firstOverlap(delta.AllowCapabilities, delta.DenyCapabilities); clash {
		return delta, model.NewConflictingOverrideError("capabilities", key)
	}

	normalized := make([]model.ConstraintOverride, len(delta.Constraints))
	for i, entry := range delta.Constraints {
		normalized[i] = entry
		def, known := defs.Constraint(entry.Key)
		if !known {
			continue
		}
		value, err := model.ValidateConstraintValue(def, entry.Value)
		if err != nil {
			return delta, model.NewInvalidConstraintValueError(entry.Key, def.ValueType, err.Error())
		}
		normalized[i].Value = value
	}
	delta.Constraints = normalized
	return delta, nil
}

// CatalogDefs extends Definitions with route and capability lookups for
// strict delta validation.
type CatalogDefs interface {
	Definitions
	Route(key string) (model.RouteDefinition, bool)
	Capability(key string) (model.CapabilityDefinition, bool)
}

// ValidateDeltaStrict runs ValidateDelta and additionally rejects any key the
// catalog does not define with UnknownCatalogKey. The admin editor uses it to
// check a staged delta before submitting; the write path stays lenient so a
// catalog rollback cannot strand persisted overrides.
func ValidateDeltaStrict(defs CatalogDefs, delta model.OverrideDelta) (model.OverrideDelta, error) {
	normalized, err := ValidateDelta(defs, delta)
	if err != nil {
		return delta, err
	}

	for _, keys := range [][]string{delta.AllowRoutes, delta.DenyRoutes, delta.ClearRoutes} {
		for _, k := range keys {
			if _, ok := defs.Route(k); !ok {
				return delta, model.NewUnknownCatalogKeyError("route", k)
			}
		}
	}
	for _, keys := range [][]string{delta.AllowCapabilities, delta.DenyCapabilities, delta.ClearCapabilities} {
		for _, k := range keys {
			if k == model.WildcardCapability {
				continue
			}
			if _, ok := defs.Capability(k); !ok {
				return delta, model.NewUnknownCatalogKeyError("capability", k)
			}
		}
	}
	for _, entry := range delta.Constraints {
		if _, ok := defs.Constraint(entry.Key); !ok {
			return delta, model.NewUnknownCatalogKeyError("constraint", entry.Key)
		}
	}
	for _, k := range delta.ClearConstraints {
		if _, ok := defs.Constraint(k); !ok {
			return delta, model.NewUnknownCatalogKeyError("constraint", k)
		}
	}
	return normalized, nil
}

func firstOverlap(allow, deny []string) (string, bool) {
	if len(allow) == 0 || len(deny) == 0 {
		return "", false
	}
	denied := make(map[string]struct{}, len(deny))
	for _, k := range deny {
		denied[k] = struct{}{}
	}
	for _, k := range allow {
		if _, ok := denied[k]; ok {
			return k, true
		}
	}
	return "", false
}

// applyDelta merges an already validated delta into base. Clears run first,
// then allows and denies; placing a key in an allow list removes it from the
// opposing deny list of the same dimension, so a stored override can never
// hold a key on both sides.
func applyDelta(base model.Override, delta model.OverrideDelta, reason, actorID string, now time.Time) model.Override {
	out := model.Override{
		UserID:            base.UserID,
		AllowRoutes:       base.AllowRoutes.Clone(),
		DenyRoutes:        base.DenyRoutes.Clone(),
		AllowCapabilities: base.AllowCapabilities.Clone(),
		DenyCapabilities:  base.DenyCapabilities.Clone(),
		Constraints:       append([]model.ConstraintOverride(nil), base.Constraints...),
		Reason:            reason,
		UpdatedAt:         now,
		UpdatedBy:         actorID,
	}

	for _, k := range delta.ClearRoutes {
		out.AllowRoutes.Remove(k)
		out.DenyRoutes.Remove(k)
	}
	for _, k := range delta.AllowRoutes {
		out.AllowRoutes.Add(k)
		out.DenyRoutes.Remove(k)
	}
	for _, k := range delta.DenyRoutes {
		out.DenyRoutes.Add(k)
		out.AllowRoutes.Remove(k)
	}

	for _, k := range delta.ClearCapabilities {
		out.AllowCapabilities.Remove(k)
		out.DenyCapabilities.Remove(k)
	}
	for _, k := range delta.AllowCapabilities {
		out.AllowCapabilities.Add(k)
		out.DenyCapabilities.Remove(k)
	}
	for _, k := range delta.DenyCapabilities {
		out.DenyCapabilities.Add(k)
		out.AllowCapabilities.Remove(k)
	}

	if len(delta.ClearConstraints) > 0 {
		cleared := make(map[string]struct{}, len(delta.ClearConstraints))
		for _, k := range delta.ClearConstraints {
			cleared[k] = struct{}{}
		}
		kept := out.Constraints[:0]
		for _, entry := range out.Constraints {
			if _, drop := cleared[entry.Key]; !drop {
				kept = append(kept, entry)
			}
		}
		out.Constraints = kept
	}
	for _, entry := range delta.Constraints {
		replaced := false
		for i := range out.Constraints {
			if out.Constraints[i].Key == entry.Key {
				out.Constraints[i] = entry
				replaced = true
				break
			}
		}
		if !replaced {
			out.Constraints = append(out.Constraints, entry)
		}
	}

	return out
}

func historyLimit(entries []model.AuditEntry, limit int) []model.AuditEntry {
	if limit > 0 && limit < len(entries) {
		return entries[:limit]
	}
	return entries
}

// validateUserID guards against empty user IDs reaching storage keys.
func validateUserID(userID string) error {
	if userID == "" {
		return model.NewBadRequestError("user id is required")
	}
	return nil
}
