/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Prometheus request counters (when configured)
  5. CORS:       Cross-origin requests for browser clients

ROUTE GROUPS:
  /healthz              Liveness (no auth)
  /metrics              Prometheus scrape (no auth, when configured)
  /api/entries/*        Entry create/list/get/update/delete
  /api/totals/*         Point, range, grouped and trailing reads
  /api/export           Entry export stream
  /api/admin/*          Reconciliation and sink exports
  /mcp                  MCP tool calls

AUTHENTICATION:
  /api/* and /mcp sit behind an AuthFunc gate. The default gate compares the
  X-API-Key header to the configured key and is open when no key is set.

SEE ALSO:
  - handlers.go: Handler implementations
  - mcp.go: Tool dispatch
  - cmd/server/main.go: Server startup
*/
package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// APIKeyHeader carries the shared secret checked by APIKeyAuth.
const APIKeyHeader = "X-API-Key"

// AuthFunc decides whether a request may proceed.
type AuthFunc func(r *http.Request) bool

// APIKeyAuth accepts requests whose X-API-Key matches key. An empty key
// accepts everything.
func APIKeyAuth(key string) AuthFunc {
	if key == "" {
		return func(*http.Request) bool { return true }
	}
	want := []byte(key)
	return func(r *http.Request) bool {
		got := []byte(r.Header.Get(APIKeyHeader))
		return subtle.ConstantTimeCompare(got, want) == 1
	}
}

// RequireAuth rejects requests the gate refuses with 401.
func RequireAuth(auth AuthFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth != nil && !auth(r) {
				writeError(w, http.StatusUnauthorized, "Missing or invalid API key", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RouterOptions carries the cross-cutting pieces of the router.
type RouterOptions struct {
	AllowedOrigins []string
	Auth           AuthFunc

	// Metrics, when set, wraps every route and serves /metrics.
	Metrics interface {
		Middleware(http.Handler) http.Handler
		Handler() http.Handler
	}
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", APIKeyHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", Healthz)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(opts.Auth))

		r.Post("/mcp", h.HandleMCP)

		// API routes
		r.Route("/api", func(r chi.Router) {
			// Entry routes
			r.Route("/entries", func(r chi.Router) {
				r.Get("/", h.ListEntries)
				r.Post("/", h.LogEntries)
				r.Get("/{id}", h.GetEntry)
				r.Patch("/{id}", h.UpdateEntry)
				r.Delete("/{id}", h.DeleteEntry)
			})

			// Totals routes
			r.Route("/totals", func(r chi.Router) {
				r.Get("/", h.GetRangeTotals)
				r.Get("/recent", h.GetRecentTotals)
				r.Get("/{date}", h.GetDayTotal)
			})

			r.Get("/export", h.StreamExport)

			// Admin routes
			r.Route("/admin", func(r chi.Router) {
				r.Post("/reconcile", h.Reconcile)
				r.Post("/export", h.WriteExport)
			})
		})
	})

	return r
}
