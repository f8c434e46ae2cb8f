// Package httpapi is the HTTP surface: routing, middleware, request
// validation and the translation of domain errors into the JSON envelope.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clearproof/preflight/internal/admin"
	"github.com/clearproof/preflight/internal/audit"
	"github.com/clearproof/preflight/internal/auth"
	"github.com/clearproof/preflight/internal/cache"
	"github.com/clearproof/preflight/internal/config"
	"github.com/clearproof/preflight/internal/database"
	"github.com/clearproof/preflight/internal/evaluate"
	"github.com/clearproof/preflight/internal/match"
	"github.com/clearproof/preflight/internal/metrics"
	"github.com/clearproof/preflight/internal/ratelimit"
	"github.com/clearproof/preflight/internal/workflow"
)

// Server wires every service into the router. All dependencies are explicit
// fields; nothing is resolved ambiently at request time.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *database.Store
	cache   *cache.Client
	auth    *auth.Authenticator
	users   *auth.UserService
	jwt     *auth.JWTManager
	limiter *ratelimit.Limiter
	audit   *audit.Logger
	metrics *metrics.Metrics
	eval    *evaluate.Orchestrator
	matcher *match.Matcher
	wf      *workflow.Client
	admin   *admin.Service

	http *http.Server
}

// Deps collects the constructor arguments.
type Deps struct {
	Config        *config.Config
	Logger        *slog.Logger
	Store         *database.Store
	Cache         *cache.Client
	Authenticator *auth.Authenticator
	Users         *auth.UserService
	JWT           *auth.JWTManager
	Limiter       *ratelimit.Limiter
	Audit         *audit.Logger
	Metrics       *metrics.Metrics
	Orchestrator  *evaluate.Orchestrator
	Matcher       *match.Matcher
	Workflow      *workflow.Client
	Admin         *admin.Service
}

// NewServer builds the router and the underlying http.Server.
func NewServer(d Deps) *Server {
	s := &Server{
		cfg:     d.Config,
		logger:  d.Logger,
		store:   d.Store,
		cache:   d.Cache,
		auth:    d.Authenticator,
		users:   d.Users,
		jwt:     d.JWT,
		limiter: d.Limiter,
		audit:   d.Audit,
		metrics: d.Metrics,
		eval:    d.Orchestrator,
		matcher: d.Matcher,
		wf:      d.Workflow,
		admin:   d.Admin,
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", d.Config.APIHost, d.Config.APIPort),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// routes assembles the middleware chain and the route table. The outermost
// layers run on every request; the rate limiter guards /v1, /admin and
// /auth ahead of auth enforcement, so unauthenticated traffic is throttled
// by IP before any credential work.
func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.recoverPanic, s.bodyLimit, securityHeaders, requestID, s.observe)

	// Unauthenticated surface.
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Data plane: rate limit first, then API-key enforcement.
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(s.rateLimit, s.authenticate)
	v1.HandleFunc("/evaluate", s.handleEvaluate).Methods(http.MethodPost)
	v1.HandleFunc("/evaluate/async", s.handleEvaluateAsync).Methods(http.MethodPost)
	v1.HandleFunc("/workflows/{id}", s.handleWorkflowResult).Methods(http.MethodGet)
	v1.HandleFunc("/templates", s.handleCreateTemplate).Methods(http.MethodPost)
	v1.HandleFunc("/templates", s.handleListTemplates).Methods(http.MethodGet)
	v1.HandleFunc("/templates/{id}", s.handleGetTemplate).Methods(http.MethodGet)
	v1.HandleFunc("/templates/{id}", s.handleUpdateTemplate).Methods(http.MethodPut)
	v1.HandleFunc("/templates/{id}/status", s.handleTemplateStatus).Methods(http.MethodPatch)
	v1.HandleFunc("/templates/{id}/activate", s.handleActivateTemplate).Methods(http.MethodPost)
	v1.HandleFunc("/templates/{id}", s.handleDeleteTemplate).Methods(http.MethodDelete)
	v1.HandleFunc("/evaluations", s.handleListEvaluations).Methods(http.MethodGet)
	v1.HandleFunc("/evaluations/{id}", s.handleGetEvaluation).Methods(http.MethodGet)
	v1.HandleFunc("/providers", s.handleListProviders).Methods(http.MethodGet)
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	// Control plane: admin scope on top of key auth.
	adm := r.PathPrefix("/admin").Subrouter()
	adm.Use(s.rateLimit, s.authenticate, s.requireAdmin)
	adm.HandleFunc("/tenants", s.handleCreateTenant).Methods(http.MethodPost)
	adm.HandleFunc("/tenants", s.handleListTenants).Methods(http.MethodGet)
	adm.HandleFunc("/tenants/{id}", s.handleGetTenant).Methods(http.MethodGet)
	adm.HandleFunc("/tenants/{id}/keys", s.handleCreateKey).Methods(http.MethodPost)
	adm.HandleFunc("/tenants/{id}/keys", s.handleListKeys).Methods(http.MethodGet)
	adm.HandleFunc("/keys/{id}", s.handleRevokeKey).Methods(http.MethodDelete)
	adm.HandleFunc("/keys/{id}/rotate", s.handleRotateKey).Methods(http.MethodPost)
	adm.HandleFunc("/audit-logs", s.handleAuditLogs).Methods(http.MethodGet)

	// Dashboard auth: signup and login are open but IP-limited, the rest
	// carry a token.
	ua := r.PathPrefix("/auth").Subrouter()
	ua.Use(s.rateLimit)
	ua.HandleFunc("/signup", s.handleSignup).Methods(http.MethodPost)
	ua.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	ua.HandleFunc("/me", s.withToken(s.handleMe)).Methods(http.MethodGet)
	ua.HandleFunc("/logout", s.withToken(s.handleLogout)).Methods(http.MethodPost)
	ua.HandleFunc("/refresh", s.withToken(s.handleRefresh)).Methods(http.MethodPost)
	ua.HandleFunc("/change-password", s.withToken(s.handleChangePassword)).Methods(http.MethodPost)

	return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }
