package transport

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hostelops/gatehouse/internal/authz"
	"github.com/hostelops/gatehouse/internal/config"
	"github.com/hostelops/gatehouse/model"
)

// Context keys for values injected along the middleware chain.
type (
	correlationIDKey struct{}
	claimsKey        struct{}
	evaluatorKey     struct{}
)

// CorrelationIDFrom extracts the correlation ID from the request context.
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// WithClaims stores JWT claims in the context. Used by the auth middleware.
func WithClaims(ctx context.Context, claims map[string]any) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFrom extracts JWT claims from the context.
func ClaimsFrom(ctx context.Context) map[string]any {
	claims, _ := ctx.Value(claimsKey{}).(map[string]any)
	return claims
}

// EvaluatorFrom extracts the caller's permission evaluator from the context.
func EvaluatorFrom(ctx context.Context) *authz.Evaluator {
	eval, _ := ctx.Value(evaluatorKey{}).(*authz.Evaluator)
	return eval
}

// Recovery converts a downstream panic into a logged 500 JSON response so a
// single bad request cannot take the process down.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			slog.Error("panic recovered",
				"error", rec,
				"method", r.Method,
				"path", r.URL.Path,
			)
			WriteError(w, model.NewInternalError())
		}()
		next.ServeHTTP(w, r)
	})
}

// CORS answers cross-origin requests for the origins named in cfg. Origins
// outside the allowlist get no Access-Control headers at all.
func CORS(cfg config.CORSConfig) func(http.Handler) http.Handler {
	origins := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		origins[o] = true
	}
	allowHeaders := map[string]string{
		"Access-Control-Allow-Methods":  strings.Join(cfg.AllowedMethods, ", "),
		"Access-Control-Allow-Headers":  strings.Join(cfg.AllowedHeaders, ", "),
		"Access-Control-Max-Age":        strconv.Itoa(cfg.MaxAge),
		"Access-Control-Expose-Headers": "X-Correlation-Id",
		"Vary":                          "Origin",
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && origins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				for name, value := range allowHeaders {
					w.Header().Set(name, value)
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequestID propagates the caller's X-Correlation-Id, minting one when the
// header is absent, and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-Id")
		if id == "" {
			id = generateID()
		}
		ctx := context.WithValue(r.Context(), correlationIDKey{}, id)
		w.Header().Set("X-Correlation-Id", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SecurityHeaders stamps the baseline security headers on every response.
func SecurityHeaders(next http.Handler) http.Handler {
	headers := map[string]string{
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"X-XSS-Protection":          "0",
		"Cache-Control":             "no-store",
		"Referrer-Policy":           "strict-origin-when-cross-origin",
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for name, value := range headers {
			w.Header().Set(name, value)
		}
		next.ServeHTTP(w, r)
	})
}

// BuildRequestContext returns middleware that constructs a
// model.RequestContext from JWT claims (stored in context by the auth
// middleware) and standard request headers. claimPaths maps the logical
// fields "subject_id", "email", and "role" to provider-specific claim names.
func BuildRequestContext(claimPaths map[string]string) func(http.Handler) http.Handler {
	path := func(field, fallback string) string {
		if p, ok := claimPaths[field]; ok && p != "" {
			return p
		}
		return fallback
	}
	subClaim := path("subject_id", "sub")
	emailClaim := path("email", "email")
	roleClaim := path("role", "role")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFrom(r.Context())
			rctx := &model.RequestContext{
				SubjectID:     extractClaimString(claims, subClaim),
				Email:         extractClaimString(claims, emailClaim),
				Role:          extractClaimString(claims, roleClaim),
				Claims:        claims,
				SessionID:     extractClaimString(claims, "sid"),
				DeviceID:      r.Header.Get("X-Device-Id"),
				Timezone:      r.Header.Get("X-Timezone"),
				Locale:        r.Header.Get("Accept-Language"),
				CorrelationID: CorrelationIDFrom(r.Context()),
			}
			ctx := model.WithRequestContext(r.Context(), rctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ResolveAuthorization returns middleware that computes the caller's
// effective permissions and stores the evaluator in the context. Requests
// without an authenticated subject are rejected.
func ResolveAuthorization(svc *authz.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rctx := model.RequestContextFrom(r.Context())
			if rctx == nil || rctx.SubjectID == "" {
				WriteError(w, model.NewUnauthorizedError("Missing authenticated subject"))
				return
			}

			eval, err := svc.EvaluatorFor(r.Context(), rctx.SubjectID, rctx.Role)
			if err != nil {
				slog.Warn("authorization resolution failed",
					"error", err,
					"subject_id", rctx.SubjectID,
				)
				WriteError(w, model.NewInternalError())
				return
			}

			ctx := context.WithValue(r.Context(), evaluatorKey{}, eval)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GuardRoutes returns middleware that rejects requests to paths the caller's
// effective permissions deny. Paths matching no catalog route pattern pass
// through; capability checks inside handlers still apply. onDeny, when not
// nil, is called once per rejected request.
func GuardRoutes(onDeny func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			eval := EvaluatorFrom(r.Context())
			if eval != nil && !eval.CanRouteByPath(r.URL.Path) {
				if onDeny != nil {
					onDeny()
				}
				WriteForbidden(w, "You do not have access to this area")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HandlerTimeout puts a deadline on the request context. A non-positive d
// disables the timeout.
func HandlerTimeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogging emits one line per request with method, path, status,
// duration, and correlation ID.
func RequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.status,
			"duration", time.Since(start),
			"correlation_id", CorrelationIDFrom(r.Context()),
		)
	})
}

// --- helpers ---

// statusWriter records the first status code written to the response.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}

// extractClaimString resolves a claim path with dot notation for nested
// claims (e.g. "realm_access.role"). Missing segments yield the empty string.
func extractClaimString(claims map[string]any, path string) string {
	v := extractClaim(claims, path)
	s, _ := v.(string)
	return s
}

func extractClaim(claims map[string]any, path string) any {
	if claims == nil || path == "" {
		return nil
	}
	var current any = claims
	for _, seg := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return current
}

func generateID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
