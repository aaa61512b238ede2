package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/deliberatorium/deliberatorium/pkg/agent"
	"github.com/deliberatorium/deliberatorium/pkg/agent/anthropic"
	"github.com/deliberatorium/deliberatorium/pkg/agent/gemini"
	"github.com/deliberatorium/deliberatorium/pkg/canvas"
	"github.com/deliberatorium/deliberatorium/pkg/gateway/auth"
	"github.com/deliberatorium/deliberatorium/pkg/gateway/config"
	"github.com/deliberatorium/deliberatorium/pkg/gateway/handlers"
	"github.com/deliberatorium/deliberatorium/pkg/gateway/lifecycle"
	"github.com/deliberatorium/deliberatorium/pkg/gateway/metrics"
	"github.com/deliberatorium/deliberatorium/pkg/gateway/mw"
	"github.com/deliberatorium/deliberatorium/pkg/gateway/ratelimit"
	"github.com/deliberatorium/deliberatorium/pkg/gateway/sessions"
	"github.com/deliberatorium/deliberatorium/pkg/store"
	"github.com/deliberatorium/deliberatorium/pkg/transcribe"
	"github.com/deliberatorium/deliberatorium/pkg/workspace"
)

// Server wires storage, the agent, transcription, and the HTTP surface.
type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	sessions     *auth.Sessions
	limiter      *ratelimit.Limiter
	lifecycle    *lifecycle.Lifecycle
	liveSessions *sessions.Tracker
	metrics      *metrics.Metrics

	workspaces *workspace.Service
	canvases   *canvas.Service
	agent      *agent.Orchestrator
	tokens     *transcribe.APITokenSource
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	canvases := canvas.NewService(st)
	orchestrator, err := newOrchestrator(ctx, cfg, canvases)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:          cfg,
		logger:       logger,
		mux:          http.NewServeMux(),
		sessions:     auth.NewSessions(cfg.SharedPassword, cfg.SessionSecret, cfg.SessionTTL),
		lifecycle:    &lifecycle.Lifecycle{},
		liveSessions: sessions.NewTracker(),
		metrics:      metrics.New(""),
		workspaces:   workspace.NewService(st),
		canvases:     canvases,
		agent:        orchestrator,
		tokens: &transcribe.APITokenSource{
			APIKey:     cfg.AssemblyAIKey,
			BaseURL:    cfg.AssemblyAIBaseURL,
			TTLSeconds: cfg.AssemblyAITokenTTL,
		},
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                   cfg.LimitRPS,
			Burst:                 cfg.LimitBurst,
			MaxConcurrentRequests: cfg.LimitMaxConcurrentRequests,
			MaxLiveSessions:       cfg.LiveMaxSessionsPerPrincipal,
		}),
	}

	s.routes()
	return s, nil
}

func newOrchestrator(ctx context.Context, cfg config.Config, canvases *canvas.Service) (*agent.Orchestrator, error) {
	var provider agent.Provider
	switch cfg.AgentProvider {
	case config.ProviderAnthropic:
		opts := []anthropic.Option{}
		if cfg.AgentModel != "" {
			opts = append(opts, anthropic.WithModel(cfg.AgentModel))
		}
		provider = anthropic.New(cfg.AnthropicAPIKey, opts...)
	case config.ProviderGemini:
		p, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.AgentModel)
		if err != nil {
			return nil, fmt.Errorf("init gemini provider: %w", err)
		}
		provider = p
	case config.ProviderNone:
	}
	return agent.NewOrchestrator(provider, canvases), nil
}

func (s *Server) routes() {
	s.mux.Handle("/", handlers.NotFoundHandler{})
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.lifecycle})
	s.mux.Handle("/metrics", s.metrics.Handler())

	s.mux.Handle("/v1/auth/login", handlers.LoginHandler{
		Config:     s.cfg,
		Sessions:   s.sessions,
		Workspaces: s.workspaces,
	})
	s.mux.Handle("/v1/assemblyai/token", handlers.AssemblyAITokenHandler{
		APIKeyConfigured: s.cfg.AssemblyAIKey != "",
		Tokens:           s.tokens,
	})
	s.mux.Handle("/v1/profile", handlers.ProfileHandler{Config: s.cfg, Workspaces: s.workspaces})
	s.mux.Handle("/v1/workspace", handlers.WorkspaceHandler{Config: s.cfg, Workspaces: s.workspaces})

	readings := handlers.ReadingsHandler{Config: s.cfg, Workspaces: s.workspaces}
	s.mux.Handle("/v1/readings", readings)
	s.mux.Handle("/v1/readings/", readings)

	canvases := handlers.CanvasHandler{
		Config:     s.cfg,
		Canvases:   s.canvases,
		Workspaces: s.workspaces,
		Agent:      s.agent,
		Metrics:    s.metrics,
	}
	s.mux.Handle("/v1/canvas/", canvases)

	s.mux.Handle("/v1/live/", handlers.LiveHandler{
		Config:       s.cfg,
		Logger:       s.logger,
		Agent:        s.agent,
		Tokens:       s.tokens,
		Metrics:      s.metrics,
		Limiter:      s.limiter,
		Lifecycle:    s.lifecycle,
		LiveSessions: s.liveSessions,
	})
}

// Handler returns the mux wrapped in the middleware chain. Login stays
// reachable without a token; everything else under /v1 requires one when a
// shared password is configured.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.limiter, h)
	h = s.withAuth(h)
	h = mw.Metrics(s.metrics, h)
	h = mw.CORS(s.cfg.CORSAllowedOrigins, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	authed := mw.Auth(s.sessions, next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz", "/readyz", "/metrics", "/v1/auth/login":
			next.ServeHTTP(w, r)
		default:
			authed.ServeHTTP(w, r)
		}
	})
}

// Drain flips readiness, warns live sessions, and waits up to the grace
// period for them to finish before cancelling the stragglers.
func (s *Server) Drain(ctx context.Context) {
	s.lifecycle.SetDraining(true)
	if n := s.liveSessions.WarnAll("draining", "server is shutting down"); n > 0 {
		s.logger.Info("warned live sessions", "count", n)
	}

	waitCtx := ctx
	if s.cfg.ShutdownGracePeriod > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownGracePeriod)
		defer cancel()
	}
	if !s.liveSessions.Wait(waitCtx) {
		n := s.liveSessions.CancelAll()
		s.logger.Warn("cancelled live sessions after grace period", "count", n)
	}
}

// HTTPServer builds the net/http server with the configured timeouts.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		// Live sessions stream for minutes; no write timeout here, the
		// websocket layer enforces per-frame deadlines.
		IdleTimeout: 90 * time.Second,
	}
}
