package transport

import (
	"net/http"

	"github.com/hostelops/gatehouse/internal/authz"
	"github.com/hostelops/gatehouse/internal/catalog"
	"github.com/hostelops/gatehouse/model"
)

// catalogResponse is the admin-editor view of the loaded catalog.
type catalogResponse struct {
	Version      string                       `json:"version"`
	Checksum     string                       `json:"checksum"`
	Routes       []model.RouteDefinition      `json:"routes"`
	Capabilities []model.CapabilityDefinition `json:"capabilities"`
	Constraints  []model.ConstraintDefinition `json:"constraints"`
	Roles        []model.RoleDefaults         `json:"roles"`
}

func handleCatalog(registry *catalog.Registry, onDeny func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eval := EvaluatorFrom(r.Context())
		if eval == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		if !eval.CanAny(authz.CapManageView, authz.CapManageUpdate) {
			if onDeny != nil {
				onDeny()
			}
			WriteForbidden(w, "viewing the permission catalog requires "+authz.CapManageView)
			return
		}

		snap := registry.Snapshot()
		roles := make([]model.RoleDefaults, 0, len(snap.Roles()))
		for _, role := range snap.Roles() {
			if rd, ok := snap.RoleDefaults(role); ok {
				roles = append(roles, rd)
			}
		}

		WriteJSON(w, http.StatusOK, catalogResponse{
			Version:      snap.Version(),
			Checksum:     snap.Checksum(),
			Routes:       snap.Routes(),
			Capabilities: snap.Capabilities(),
			Constraints:  snap.Constraints(),
			Roles:        roles,
		})
	}
}
