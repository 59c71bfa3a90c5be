package model

// WildcardCapability is the reserved capability key meaning "all capabilities
// granted". It is never declared as an ordinary CapabilityDefinition; it only
// appears in role defaults and override allow/deny lists.
const WildcardCapability = "*"

// RouteDefinition identifies a navigable route family by one or more URL path
// patterns. Keys are unique within a catalog and immutable once deployed:
// renaming a key orphans every override that references it.
type RouteDefinition struct {
	Key   string   `yaml:"key"   json:"key"`
	Label string   `yaml:"label" json:"label"`
	Paths []string `yaml:"paths" json:"paths"`

	// Navigation metadata used to render the sidebar entry for this route.
	Nav *NavEntry `yaml:"nav" json:"nav,omitempty"`
}

// NavEntry describes how a route appears in the navigation sidebar.
// Routes without a NavEntry are reachable but never listed.
type NavEntry struct {
	Icon    string `yaml:"icon"    json:"icon,omitempty"`
	Section string `yaml:"section" json:"section,omitempty"`
	Order   int    `yaml:"order"   json:"order"`
}

// CapabilityDefinition represents a single permissible action, such as
// "visitors:list:view" or "rooms:allocation:update".
type CapabilityDefinition struct {
	Key         string `yaml:"key"         json:"key"`
	Label       string `yaml:"label"       json:"label"`
	Description string `yaml:"description" json:"description,omitempty"`
}

// ValueType enumerates the declared types a constraint value may take.
type ValueType string

// Constraint value types.
const (
	TypeBoolean     ValueType = "boolean"
	TypeNumber      ValueType = "number"
	TypeString      ValueType = "string"
	TypeStringArray ValueType = "string_array"
	TypeNumberArray ValueType = "number_array"
	TypeObject      ValueType = "object"
	TypeAny         ValueType = "any"
)

// Valid reports whether vt is one of the recognized constraint value types.
func (vt ValueType) Valid() bool {
	switch vt {
	case TypeBoolean, TypeNumber, TypeString, TypeStringArray,
		TypeNumberArray, TypeObject, TypeAny:
		return true
	}
	return false
}

// ConstraintDefinition represents a parameterized limit (e.g. maximum visitor
// records per export, allowed hostel blocks) rather than a yes/no gate.
// DefaultValue must itself satisfy ValueType.
type ConstraintDefinition struct {
	Key          string    `yaml:"key"           json:"key"`
	Label        string    `yaml:"label"         json:"label"`
	ValueType    ValueType `yaml:"value_type"    json:"value_type"`
	DefaultValue any       `yaml:"default_value" json:"default_value"`
}

// RoleDefaults is the baseline permission set for every user of one role,
// absent any override. Every key referenced must exist in the catalog.
type RoleDefaults struct {
	Role         string          `yaml:"role"         json:"role"`
	RouteAccess  []string        `yaml:"route_access" json:"route_access"`
	Capabilities map[string]bool `yaml:"capabilities" json:"capabilities"`
	Constraints  map[string]any  `yaml:"constraints"  json:"constraints,omitempty"`
}

// HasRoute reports whether the role grants the given route key by default.
func (rd RoleDefaults) HasRoute(key string) bool {
	for _, k := range rd.RouteAccess {
		if k == key {
			return true
		}
	}
	return false
}

// Catalog is the static set of all known route, capability, and constraint
// definitions for one deployment, plus the per-role defaults. It is seeded at
// deployment time and treated as immutable at runtime.
type Catalog struct {
	Version      string                 `yaml:"version"      json:"version"`
	Routes       []RouteDefinition      `yaml:"routes"       json:"routes"`
	Capabilities []CapabilityDefinition `yaml:"capabilities" json:"capabilities"`
	Constraints  []ConstraintDefinition `yaml:"constraints"  json:"constraints"`
	Roles        []RoleDefaults         `yaml:"roles"        json:"roles"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}
