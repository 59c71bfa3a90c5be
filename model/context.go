package model

import (
	"context"
	"errors"
)

// RequestContext is the identity and tracing envelope attached to every
// authenticated request. Middleware builds it once from the verified token;
// nothing mutates it afterwards, so concurrent reads need no locking.
type RequestContext struct {
	SubjectID     string
	Email         string
	Role          string
	Claims        map[string]any
	SessionID     string
	DeviceID      string
	CorrelationID string
	TraceID       string
	SpanID        string
	Locale        string
	Timezone      string
}

// Validate checks the mandatory fields. Only SubjectID is required; a
// roleless subject evaluates against empty role defaults, which is a valid
// (all-deny) state rather than an error.
func (rc *RequestContext) Validate() error {
	if rc.SubjectID == "" {
		return errors.New("SubjectID is required")
	}
	return nil
}

// Claim returns the raw token claim for key, or nil when absent.
func (rc *RequestContext) Claim(key string) any {
	return rc.Claims[key]
}

type contextKey struct{}

// WithRequestContext stores rctx on ctx for downstream handlers.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom returns the stored RequestContext, or nil when the
// request never passed through authentication.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}

// MustRequestContext is RequestContextFrom for handlers mounted behind the
// authentication middleware, where a missing context is a programming error.
func MustRequestContext(ctx context.Context) *RequestContext {
	rctx := RequestContextFrom(ctx)
	if rctx == nil {
		panic("model: RequestContext not found in context")
	}
	return rctx
}
