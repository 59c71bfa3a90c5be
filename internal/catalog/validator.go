package catalog

import (
	"fmt"
	"strings"

	"github.com/hostelops/gatehouse/model"
)

// VError describes a single authoring error in a catalog fragment.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks catalog fragments structurally and referentially before
// they are admitted into a Registry snapshot.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all fragments together. Cross-fragment duplicates and
// dangling role references are reported with the source file of the
// offending entry.
func (v *Validator) Validate(frags []model.Catalog) []VError {
	var errs []VError

	routeKeys := make(map[string]string)
	capKeys := make(map[string]string)
	consByKey := make(map[string]model.ConstraintDefinition)
	roleNames := make(map[string]string)
	patterns := make(map[string]string)

	for _, frag := range frags {
		src := frag.SourceFile

		for i, route := range frag.Routes {
			p := fmt.Sprintf("%s: routes[%d]", src, i)
			if route.Key == "" {
				errs = append(errs, VError{Path: p + ".key", Code: "REQUIRED", Message: "route key is required"})
				continue
			}
			if prev, dup := routeKeys[route.Key]; dup {
				errs = append(errs, VError{Path: p + ".key", Code: "DUPLICATE", Message: fmt.Sprintf("route %q already defined in %s", route.Key, prev)})
			}
			routeKeys[route.Key] = src

			if len(route.Paths) == 0 {
				errs = append(errs, VError{Path: p + ".paths", Code: "REQUIRED", Message: "at least one path pattern is required"})
			}
			for j, pattern := range route.Paths {
				pp := fmt.Sprintf("%s.paths[%d]", p, j)
				if !strings.HasPrefix(pattern, "/") {
					errs = append(errs, VError{Path: pp, Code: "INVALID_PATTERN", Message: fmt.Sprintf("path %q must start with /", pattern)})
					continue
				}
				if i := strings.Index(pattern, "*"); i >= 0 && i != len(pattern)-1 {
					errs = append(errs, VError{Path: pp, Code: "INVALID_PATTERN", Message: fmt.Sprintf("wildcard in %q is only allowed as a trailing /*", pattern)})
					continue
				}
				if strings.HasSuffix(pattern, "*") && !strings.HasSuffix(pattern, "/*") {
					errs = append(errs, VError{Path: pp, Code: "INVALID_PATTERN", Message: fmt.Sprintf("wildcard in %q is only allowed as a trailing /*", pattern)})
					continue
				}
				if owner, dup := patterns[pattern]; dup && owner != route.Key {
					errs = append(errs, VError{Path: pp, Code: "AMBIGUOUS_PATTERN", Message: fmt.Sprintf("path %q is already claimed by route %q", pattern, owner)})
				}
				patterns[pattern] = route.Key
			}
		}

		for i, cap := range frag.Capabilities {
			p := fmt.Sprintf("%s: capabilities[%d]", src, i)
			if cap.Key == "" {
				errs = append(errs, VError{Path: p + ".key", Code: "REQUIRED", Message: "capability key is required"})
				continue
			}
			if cap.Key == model.WildcardCapability {
				errs = append(errs, VError{Path: p + ".key", Code: "RESERVED", Message: `"*" is the wildcard grant and cannot be declared as a capability`})
				continue
			}
			if prev, dup := capKeys[cap.Key]; dup {
				errs = append(errs, VError{Path: p + ".key", Code: "DUPLICATE", Message: fmt.Sprintf("capability %q already defined in %s", cap.Key, prev)})
			}
			capKeys[cap.Key] = src
		}

		for i, cons := range frag.Constraints {
			p := fmt.Sprintf("%s: constraints[%d]", src, i)
			if cons.Key == "" {
				errs = append(errs, VError{Path: p + ".key", Code: "REQUIRED", Message: "constraint key is required"})
				continue
			}
			if _, dup := consByKey[cons.Key]; dup {
				errs = append(errs, VError{Path: p + ".key", Code: "DUPLICATE", Message: fmt.Sprintf("constraint %q is already defined", cons.Key)})
			}
			if !cons.ValueType.Valid() {
				errs = append(errs, VError{Path: p + ".value_type", Code: "INVALID_TYPE", Message: fmt.Sprintf("unknown value type %q", cons.ValueType)})
				continue
			}
			if cons.DefaultValue != nil {
				if _, err := model.ValidateConstraintValue(cons, cons.DefaultValue); err != nil {
					errs = append(errs, VError{Path: p + ".default_value", Code: "TYPE_MISMATCH", Message: fmt.Sprintf("default does not satisfy declared type %s: %v", cons.ValueType, err)})
				}
			}
			consByKey[cons.Key] = cons
		}
	}

	// Role defaults are validated after all fragments so that forward
	// references across files resolve.
	for _, frag := range frags {
		src := frag.SourceFile

		for i, role := range frag.Roles {
			p := fmt.Sprintf("%s: roles[%d]", src, i)
			if role.Role == "" {
				errs = append(errs, VError{Path: p + ".role", Code: "REQUIRED", Message: "role name is required"})
				continue
			}
			if prev, dup := roleNames[role.Role]; dup {
				errs = append(errs, VError{Path: p + ".role", Code: "DUPLICATE", Message: fmt.Sprintf("role %q already defined in %s", role.Role, prev)})
			}
			roleNames[role.Role] = src

			for j, key := range role.RouteAccess {
				if _, ok := routeKeys[key]; !ok {
					errs = append(errs, VError{Path: fmt.Sprintf("%s.route_access[%d]", p, j), Code: "UNKNOWN_KEY", Message: fmt.Sprintf("route %q is not defined", key)})
				}
			}
			for key := range role.Capabilities {
				if key == model.WildcardCapability {
					continue
				}
				if _, ok := capKeys[key]; !ok {
					errs = append(errs, VError{Path: p + ".capabilities", Code: "UNKNOWN_KEY", Message: fmt.Sprintf("capability %q is not defined", key)})
				}
			}
			for key, value := range role.Constraints {
				def, ok := consByKey[key]
				if !ok {
					errs = append(errs, VError{Path: p + ".constraints", Code: "UNKNOWN_KEY", Message: fmt.Sprintf("constraint %q is not defined", key)})
					continue
				}
				if _, err := model.ValidateConstraintValue(def, value); err != nil {
					errs = append(errs, VError{Path: p + ".constraints", Code: "TYPE_MISMATCH", Message: fmt.Sprintf("value for %q does not satisfy declared type %s: %v", key, def.ValueType, err)})
				}
			}
		}
	}

	return errs
}
