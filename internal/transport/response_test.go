package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hostelops/gatehouse/model"
)

func decodeErrorEnvelope(t *testing.T, w *httptest.ResponseRecorder) model.ErrorEnvelope {
	t.Helper()
	var resp struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return resp.Error
}

func TestWriteJSON_headersAndBody(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusOK, map[string]string{"area": "visitors"})

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	wantHeaders := map[string]string{
		"Content-Type":           "application/json; charset=utf-8",
		"X-Content-Type-Options": "nosniff",
	}
	for name, want := range wantHeaders {
		if got := w.Header().Get(name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["area"] != "visitors" {
		t.Errorf("body = %v", body)
	}
}

func TestWriteError_wrapsEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, model.NewNotFoundError("no such user"))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	env := decodeErrorEnvelope(t, w)
	if env.Code != model.ErrNotFound {
		t.Errorf("code = %q, want %q", env.Code, model.ErrNotFound)
	}
	if env.Message != "no such user" {
		t.Errorf("message = %q", env.Message)
	}
}

func TestWriteError_plainErrorBecomesInternal(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, fmt.Errorf("store unreachable"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 for a plain error", w.Code)
	}
}

func TestWriteShorthands(t *testing.T) {
	notFound := httptest.NewRecorder()
	WriteNotFound(notFound, "override record missing")
	if notFound.Code != http.StatusNotFound {
		t.Errorf("WriteNotFound status = %d, want 404", notFound.Code)
	}

	forbidden := httptest.NewRecorder()
	WriteForbidden(forbidden, "You do not have access to this area")
	if forbidden.Code != http.StatusForbidden {
		t.Errorf("WriteForbidden status = %d, want 403", forbidden.Code)
	}

	invalid := httptest.NewRecorder()
	WriteValidationError(invalid, []model.FieldError{
		{Field: "delta", Code: "REQUIRED", Message: "delta patches nothing"},
	})
	if invalid.Code != http.StatusUnprocessableEntity {
		t.Errorf("WriteValidationError status = %d, want 422", invalid.Code)
	}
}

func TestWriteError_statusPerCode(t *testing.T) {
	codes := map[string]int{
		model.ErrBadRequest:             http.StatusBadRequest,
		model.ErrUnauthorized:           http.StatusUnauthorized,
		model.ErrForbidden:              http.StatusForbidden,
		model.ErrNotFound:               http.StatusNotFound,
		model.ErrConflict:               http.StatusConflict,
		model.ErrConflictingOverride:    http.StatusConflict,
		model.ErrValidationError:        http.StatusUnprocessableEntity,
		model.ErrUnknownCatalogKey:      http.StatusUnprocessableEntity,
		model.ErrInvalidConstraintValue: http.StatusUnprocessableEntity,
		model.ErrRateLimited:            http.StatusTooManyRequests,
		model.ErrInternalError:          http.StatusInternalServerError,
	}
	for code, status := range codes {
		t.Run(code, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, &model.ErrorEnvelope{Code: code, Message: "boom"})
			if w.Code != status {
				t.Errorf("status for %s = %d, want %d", code, w.Code, status)
			}
		})
	}
}
