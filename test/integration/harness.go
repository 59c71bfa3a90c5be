package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hostelops/gatehouse/internal/authz"
	"github.com/hostelops/gatehouse/internal/catalog"
	"github.com/hostelops/gatehouse/internal/config"
	"github.com/hostelops/gatehouse/internal/navigation"
	"github.com/hostelops/gatehouse/internal/observability"
	"github.com/hostelops/gatehouse/internal/override"
	"github.com/hostelops/gatehouse/internal/transport"
)

// TestHarness wires a full server instance against in-memory stores and a
// test identity provider, exposed over an httptest server.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	Registry         *catalog.Registry
	Store            *override.MemoryStore
	IdempotencyStore *authz.MemoryIdempotencyStore
	Service          *authz.Service

	cfg *config.Config
}

// HarnessOption customizes harness construction.
type HarnessOption func(*harnessOptions)

type harnessOptions struct {
	catalogDirs    []string
	usersFile      string
	handlerTimeout time.Duration
}

// WithCatalogDirs overrides the catalog directories loaded at startup.
func WithCatalogDirs(dirs ...string) HarnessOption {
	return func(o *harnessOptions) { o.catalogDirs = dirs }
}

// WithUsersFile overrides the user directory file loaded at startup.
func WithUsersFile(path string) HarnessOption {
	return func(o *harnessOptions) { o.usersFile = path }
}

// WithHandlerTimeout overrides the per-request handler deadline.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(o *harnessOptions) { o.handlerTimeout = d }
}

// NewTestHarness builds the full stack: catalog from testdata, memory
// override and idempotency stores, a real JWKS server with signed tokens,
// and the complete router.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	options := &harnessOptions{
		catalogDirs:    []string{filepath.Join(testdataDir(t), "catalog")},
		usersFile:      filepath.Join(testdataDir(t), "users.yaml"),
		handlerTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(options)
	}

	issuer := newTokenIssuer(t)

	cfg := config.Defaults()
	cfg.Identity.Issuer = issuer.Issuer()
	cfg.Identity.Audience = issuer.Audience()
	cfg.Identity.JWKSURL = issuer.JWKSURL()
	cfg.Catalog.Directories = options.catalogDirs
	cfg.Directory.File = options.usersFile
	cfg.Server.HandlerTimeout = options.handlerTimeout
	cfg.Server.CORS.AllowedOrigins = []string{"https://app.test.hostelops.dev"}

	loader := catalog.NewLoader()
	frags, err := loader.LoadAll(cfg.Catalog.Directories)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if verrs := catalog.NewValidator().Validate(frags); len(verrs) > 0 {
		t.Fatalf("catalog validation: %v", verrs)
	}
	registry, err := catalog.NewRegistry(frags)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	store := override.NewMemoryStore(registry)
	idemStore := authz.NewMemoryIdempotencyStore()

	directory, err := authz.NewStaticDirectory(cfg.Directory.File)
	if err != nil {
		t.Fatalf("load user directory: %v", err)
	}

	resolver := authz.NewResolver(registry, store, cfg.Authz.Cache.TTL)
	svc := authz.NewService(registry, store, resolver, directory, zap.NewNop()).
		WithIdempotency(idemStore, time.Hour)

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL)

	checks := observability.ReadinessChecks{
		CatalogLoaded: func() bool { return len(registry.Snapshot().Roles()) > 0 },
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
		Service:      svc,
		Registry:     registry,
		Menu:         navigation.NewMenuProvider(registry),
		Health:       observability.HandleHealth(),
		Ready:        observability.HandleReady(checks),
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &TestHarness{
		t:                t,
		server:           server,
		issuer:           issuer,
		Registry:         registry,
		Store:            store,
		IdempotencyStore: idemStore,
		Service:          svc,
		cfg:              cfg,
	}
}

// URL returns the base URL of the running test server.
func (h *TestHarness) URL() string {
	return h.server.URL
}

// Token returns a valid signed JWT for the given claims.
func (h *TestHarness) Token(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// ExpiredToken returns a signed JWT that expired an hour ago.
func (h *TestHarness) ExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// WardenClaims returns claims for the warden fixture user.
func WardenClaims() TestClaims {
	return TestClaims{SubjectID: "user-amara", Email: "amara@hostelops.dev", Role: "warden"}
}

// ViewerClaims returns claims for the read-only fixture user.
func ViewerClaims() TestClaims {
	return TestClaims{SubjectID: "user-chen", Email: "chen@hostelops.dev", Role: "viewer"}
}

// AdminClaims returns claims for the admin fixture user.
func AdminClaims() TestClaims {
	return TestClaims{SubjectID: "user-dayo", Email: "dayo@hostelops.dev", Role: "admin"}
}

// GET performs an authenticated GET request against the test server.
func (h *TestHarness) GET(path, token string, headers ...map[string]string) *http.Response {
	return h.doRequest(http.MethodGet, path, token, nil, headers...)
}

// PATCH performs an authenticated PATCH request with a JSON body.
func (h *TestHarness) PATCH(path, token string, body any, headers ...map[string]string) *http.Response {
	return h.doRequest(http.MethodPatch, path, token, body, headers...)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path, token string, body any, headers ...map[string]string) *http.Response {
	return h.doRequest(http.MethodPost, path, token, body, headers...)
}

func (h *TestHarness) doRequest(method, path, token string, body any, headers ...map[string]string) *http.Response {
	h.t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, h.server.URL+path, reader)
	if err != nil {
		h.t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, hdrs := range headers {
		for k, v := range hdrs {
			req.Header.Set(k, v)
		}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	h.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// ParseJSON decodes the response body into the given target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		h.t.Fatalf("decode response body: %v", err)
	}
}

// ReadBody returns the full response body as a string.
func (h *TestHarness) ReadBody(resp *http.Response) string {
	h.t.Helper()
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return string(buf)
}

// AssertStatus fails the test if the response status differs from want.
func (h *TestHarness) AssertStatus(resp *http.Response, want int) {
	h.t.Helper()
	if resp.StatusCode != want {
		h.t.Errorf("%s %s: status = %d, want %d", resp.Request.Method,
			resp.Request.URL.Path, resp.StatusCode, want)
	}
}

// ErrorCode decodes the error envelope and returns its code field.
func (h *TestHarness) ErrorCode(resp *http.Response) string {
	h.t.Helper()
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	h.ParseJSON(resp, &envelope)
	return envelope.Error.Code
}

func testdataDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("resolve testdata directory")
	}
	return filepath.Join(filepath.Dir(file), "testdata")
}
