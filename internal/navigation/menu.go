// Package navigation builds the sidebar tree from catalog route definitions,
// filtered through a user's effective permissions.
package navigation

import (
	"sort"
	"strings"

	"github.com/hostelops/gatehouse/internal/authz"
	"github.com/hostelops/gatehouse/internal/catalog"
)

// Node is one sidebar entry.
type Node struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Icon  string `json:"icon,omitempty"`
	Path  string `json:"path"`
	Order int    `json:"order"`
}

// Section groups sidebar entries under a heading.
type Section struct {
	Label string `json:"label"`
	Items []Node `json:"items"`
}

// Tree is the full sidebar for one user.
type Tree struct {
	Sections []Section `json:"sections"`
}

// MenuProvider builds navigation trees from the catalog registry.
type MenuProvider struct {
	registry *catalog.Registry
}

// NewMenuProvider creates a MenuProvider backed by the catalog registry.
func NewMenuProvider(registry *catalog.Registry) *MenuProvider {
	return &MenuProvider{registry: registry}
}

// Build returns the sidebar for the user behind eval. Routes without nav
// metadata are reachable but never listed; routes the user cannot access are
// dropped. Sections order by their lowest item order.
func (p *MenuProvider) Build(eval *authz.Evaluator) Tree {
	snap := p.registry.Snapshot()

	sections := make(map[string][]Node)
	for _, route := range snap.Routes() {
		if route.Nav == nil {
			continue
		}
		if !eval.CanRoute(route.Key) {
			continue
		}
		sections[route.Nav.Section] = append(sections[route.Nav.Section], Node{
			Key:   route.Key,
			Label: route.Label,
			Icon:  route.Nav.Icon,
			Path:  primaryPath(route.Paths),
			Order: route.Nav.Order,
		})
	}

	out := Tree{}
	for label, items := range sections {
		sort.Slice(items, func(i, j int) bool { return items[i].Order < items[j].Order })
		out.Sections = append(out.Sections, Section{Label: label, Items: items})
	}
	sort.Slice(out.Sections, func(i, j int) bool {
		return out.Sections[i].Items[0].Order < out.Sections[j].Items[0].Order
	})
	return out
}

// primaryPath is the concrete path a sidebar entry links to: the first
// pattern with any trailing wildcard stripped.
func primaryPath(patterns []string) string {
	if len(patterns) == 0 {
		return "/"
	}
	path := strings.TrimSuffix(patterns[0], "/*")
	if path == "" {
		return "/"
	}
	return path
}
