package transport

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hostelops/gatehouse/internal/authz"
	"github.com/hostelops/gatehouse/model"
)

// updateAuthzRequest is the PATCH body for an override update.
type updateAuthzRequest struct {
	Delta  model.OverrideDelta `json:"delta"`
	Reason string              `json:"reason"`
}

// resetAuthzRequest is the POST body for an override reset.
type resetAuthzRequest struct {
	Reason string `json:"reason"`
}

func handleGetUserAuthz(svc *authz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eval := EvaluatorFrom(r.Context())
		if eval == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		userID := chi.URLParam(r, "userID")

		result, err := svc.GetUserAuthz(r.Context(), eval, userID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, result)
	}
}

func handleUpdateUserAuthz(svc *authz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eval := EvaluatorFrom(r.Context())
		rctx := model.RequestContextFrom(r.Context())
		if eval == nil || rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		userID := chi.URLParam(r, "userID")

		var req updateAuthzRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		idemKey := r.Header.Get("X-Idempotency-Key")

		result, err := svc.UpdateUserAuthz(r.Context(), eval, rctx.SubjectID, userID, req.Delta, req.Reason, idemKey)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, result)
	}
}

func handleResetUserAuthz(svc *authz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eval := EvaluatorFrom(r.Context())
		rctx := model.RequestContextFrom(r.Context())
		if eval == nil || rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		userID := chi.URLParam(r, "userID")

		// The reset body is optional; an empty body means no reason.
		var req resetAuthzRequest
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}

		result, err := svc.ResetUserAuthz(r.Context(), eval, rctx.SubjectID, userID, req.Reason)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, result)
	}
}

// checkAuthzRequest is the POST body for a dry-run delta check.
type checkAuthzRequest struct {
	Delta model.OverrideDelta `json:"delta"`
}

// checkAuthzResponse reports the outcome of a dry-run check. A delta that
// fails validation is reported through the error envelope instead.
type checkAuthzResponse struct {
	Valid bool `json:"valid"`
}

func handleCheckDelta(svc *authz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eval := EvaluatorFrom(r.Context())
		if eval == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var req checkAuthzRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		if err := svc.CheckDelta(eval, req.Delta); err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, checkAuthzResponse{Valid: true})
	}
}

func handleAuthzHistory(svc *authz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eval := EvaluatorFrom(r.Context())
		if eval == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		userID := chi.URLParam(r, "userID")

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				WriteError(w, model.NewBadRequestError("limit must be a non-negative integer"))
				return
			}
			limit = n
		}

		entries, err := svc.History(r.Context(), eval, userID, limit)
		if err != nil {
			WriteError(w, err)
			return
		}

		type historyResponse struct {
			UserID  string             `json:"user_id"`
			Entries []model.AuditEntry `json:"entries"`
		}
		if entries == nil {
			entries = []model.AuditEntry{}
		}
		WriteJSON(w, http.StatusOK, historyResponse{UserID: userID, Entries: entries})
	}
}
