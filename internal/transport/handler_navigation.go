package transport

import (
	"net/http"

	"github.com/hostelops/gatehouse/internal/navigation"
	"github.com/hostelops/gatehouse/model"
)

func handleNavigation(menu *navigation.MenuProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eval := EvaluatorFrom(r.Context())
		if eval == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		tree := menu.Build(eval)
		WriteJSON(w, http.StatusOK, tree)
	}
}
