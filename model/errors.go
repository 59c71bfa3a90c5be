package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest      = "BAD_REQUEST"
	ErrUnauthorized    = "UNAUTHORIZED"
	ErrForbidden       = "FORBIDDEN"
	ErrNotFound        = "NOT_FOUND"
	ErrConflict        = "CONFLICT"
	ErrValidationError = "VALIDATION_ERROR"
	ErrRateLimited     = "RATE_LIMITED"
	ErrInternalError   = "INTERNAL_ERROR"
)

// Authorization-specific error codes.
const (
	ErrUnknownCatalogKey      = "UNKNOWN_CATALOG_KEY"
	ErrInvalidConstraintValue = "INVALID_CONSTRAINT_VALUE"
	ErrConflictingOverride    = "CONFLICTING_OVERRIDE"
)

// ErrorEnvelope is the standard error response envelope returned by the
// service. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewInvalidConstraintValueError returns an INVALID_CONSTRAINT_VALUE error
// naming the failing constraint key and the type its definition expects.
func NewInvalidConstraintValueError(key string, expected ValueType, detail string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInvalidConstraintValue,
		Message: fmt.Sprintf("Constraint %q requires a %s value", key, expected),
		Details: []FieldError{{
			Field:   key,
			Code:    ErrInvalidConstraintValue,
			Message: detail,
		}},
	}
}

// NewConflictingOverrideError returns a CONFLICTING_OVERRIDE error for a key
// that appears in more than one list of the same dimension in a single delta.
// The write path refuses to persist such a delta; deny-wins resolution is
// reserved for already-persisted malformed state.
func NewConflictingOverrideError(dimension, key string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrConflictingOverride,
		Message: fmt.Sprintf("Key %q appears in conflicting %s lists", key, dimension),
		Details: []FieldError{{
			Field:   key,
			Code:    ErrConflictingOverride,
			Message: fmt.Sprintf("resolve the %s conflict before saving", dimension),
		}},
	}
}

// NewUnknownCatalogKeyError returns an UNKNOWN_CATALOG_KEY error. Unknown
// keys are non-fatal at evaluation time; this error is only used when the
// admin editor asks for strict validation of a staged delta.
func NewUnknownCatalogKeyError(dimension, key string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrUnknownCatalogKey,
		Message: fmt.Sprintf("%s key %q is not defined in the catalog", dimension, key),
	}
}
