package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aigency/internal/agent"
	"aigency/internal/auth"
	"aigency/internal/billing"
	"aigency/internal/facebook"
	"aigency/internal/metrics"
	"aigency/internal/repo"
	"aigency/internal/seal"
)

// Handlers groups optional HTTP handlers to mount.
type Handlers struct {
	StripeWebhook http.Handler
}

// NonceStore marks one-shot values as used.
type NonceStore interface {
	SetOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Dependencies exposes core dependencies to handlers that need them.
type Dependencies struct {
	Repository repo.Repository
	Auth       *auth.Service
	Agent      *agent.Agent
	Billing    *billing.Service
	Facebook   *facebook.Client
	// FacebookOAuth is nil when no Facebook app is configured.
	FacebookOAuth *facebook.OAuthConfig
	Nonces        NonceStore
	Sealer        *seal.Sealer
	// AppURL is the public origin used for redirects and OAuth callbacks.
	AppURL        string
	SecureCookies bool
}

// Server wraps an http.Server with predefined routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *metrics.Metrics
	handlers   Handlers
	deps       Dependencies
	basePath   string
	handler    http.Handler
}

// New creates a new HTTP server listening on addr with the API, health and metrics endpoints.
func New(addr string, logger *slog.Logger, metricRegistry *metrics.Metrics, handlers Handlers, deps Dependencies, basePath string) *Server {
	deps.AppURL = strings.TrimRight(deps.AppURL, "/")
	server := &Server{
		logger:   logger.With("component", "http"),
		metrics:  metricRegistry,
		handlers: handlers,
		deps:     deps,
		basePath: normaliseBasePath(basePath),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", server.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	if handlers.StripeWebhook != nil {
		mux.Handle("POST /api/stripe/webhook", handlers.StripeWebhook)
	}
	server.routes(mux)

	server.handler = mountWithBasePath(server.basePath, server.withRequestID(server.instrument(mux)))

	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           server.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if server.basePath != "" {
		server.logger.Info("http server configured with base path", "base_path", server.basePath)
	}

	return server
}

func (s *Server) routes(mux *http.ServeMux) {
	// Auth endpoints are public.
	mux.HandleFunc("POST /api/auth/sign-up/email", s.handleSignUp)
	mux.HandleFunc("POST /api/auth/sign-in/email", s.handleSignIn)
	mux.HandleFunc("POST /api/auth/sign-out", s.handleSignOut)
	mux.HandleFunc("GET /api/auth/session", s.handleSession)
	mux.HandleFunc("GET /api/auth/sign-in/facebook", s.handleFacebookLogin)
	mux.HandleFunc("GET /api/auth/callback/facebook", s.handleFacebookLoginCallback)
	mux.Handle("GET /api/auth/link/facebook-ads", s.protected(s.handleLinkFacebookAds))
	mux.Handle("GET /api/auth/callback/facebook-ads", s.protected(s.handleLinkFacebookAdsCallback))

	mux.Handle("GET /api/projects", s.protected(s.handleListProjects))
	mux.Handle("POST /api/projects", s.protected(s.handleCreateProject))
	mux.Handle("GET /api/projects/{projectId}", s.protected(s.handleGetProject))
	mux.Handle("PATCH /api/projects/{projectId}", s.protected(s.handleUpdateProject))
	mux.Handle("DELETE /api/projects/{projectId}", s.protected(s.handleDeleteProject))
	mux.Handle("GET /api/projects/{projectId}/conversations", s.protected(s.handleListConversations))
	mux.Handle("POST /api/projects/{projectId}/conversations", s.protected(s.handleCreateCampaignConversation))
	mux.Handle("GET /api/projects/{projectId}/artifacts", s.protected(s.handleListArtifacts))
	mux.Handle("POST /api/projects/{projectId}/artifacts/{artifactId}/publish", s.protected(s.handlePublishCampaign))
	mux.Handle("GET /api/projects/{projectId}/brief", s.protected(s.handleGetBrief))
	mux.Handle("PUT /api/projects/{projectId}/brief", s.protected(s.handleUpdateBrief))
	mux.Handle("GET /api/artifacts/{artifactId}", s.protected(s.handleGetArtifact))
	mux.Handle("GET /api/conversations/{conversationId}/messages", s.protected(s.handleListMessages))
	mux.Handle("POST /api/conversations/{conversationId}/messages", s.protected(s.handleCreateMessage))

	mux.Handle("POST /api/chat", s.protected(s.handleChat))

	mux.Handle("GET /api/facebook/connect", s.protected(s.handleFacebookConnect))
	mux.Handle("GET /api/facebook/callback", s.protected(s.handleFacebookCallback))
	mux.Handle("GET /api/facebook/post-connect", s.protected(s.handleFacebookPostConnect))
	mux.Handle("GET /api/facebook/pending-accounts", s.protected(s.handlePendingAccounts))
	mux.Handle("POST /api/facebook/select-account", s.protected(s.handleSelectAccount))
	mux.Handle("GET /api/facebook/accounts", s.protected(s.handleListAdAccounts))
	mux.Handle("POST /api/facebook/accounts", s.protected(s.handleSetAdAccount))
	mux.Handle("GET /api/facebook/connection", s.protected(s.handleGetConnection))
	mux.Handle("DELETE /api/facebook/connection", s.protected(s.handleDeleteConnection))
	mux.Handle("GET /api/facebook/campaigns/{campaignId}/insights", s.protected(s.handleCampaignInsights))
	mux.Handle("POST /api/facebook/campaigns/{campaignId}/pause", s.protected(s.handlePauseCampaign))

	mux.Handle("GET /api/credits/packages", s.protected(s.handleCreditPackages))
	mux.Handle("GET /api/credits/balance", s.protected(s.handleCreditBalance))
	mux.Handle("POST /api/credits/checkout", s.protected(s.handleCheckout))
}

func (s *Server) protected(h http.HandlerFunc) http.Handler {
	return auth.Middleware(s.deps.Auth, s.logger)(h)
}

// Handler returns the root handler, including base path and middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.deps.Repository != nil {
		if err := s.deps.Repository.Ping(r.Context()); err != nil {
			s.logger.Warn("health check database ping failed", "error", err)
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]string{"status": status})
}

func mountWithBasePath(basePath string, handler http.Handler) http.Handler {
	if basePath == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, basePath) {
			http.NotFound(w, r)
			return
		}
		if len(r.URL.Path) > len(basePath) && r.URL.Path[len(basePath)] != '/' {
			http.NotFound(w, r)
			return
		}
		trimmed := strings.TrimPrefix(r.URL.Path, basePath)
		if trimmed == "" {
			trimmed = "/"
		}
		r.URL.Path = trimmed
		if r.URL.RawPath != "" {
			rawTrimmed := strings.TrimPrefix(r.URL.RawPath, basePath)
			if rawTrimmed == "" {
				rawTrimmed = "/"
			}
			r.URL.RawPath = rawTrimmed
		}
		handler.ServeHTTP(w, r)
	})
}

func normaliseBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return ""
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimSuffix(base, "/")
}
