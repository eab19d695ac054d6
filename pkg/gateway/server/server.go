// Package server wires the gateway's handlers and middleware into one
// http.Handler.
package server

import (
	"log/slog"
	"net/http"

	"github.com/sitedesk/foreman/pkg/gateway/auth"
	"github.com/sitedesk/foreman/pkg/gateway/billing"
	"github.com/sitedesk/foreman/pkg/gateway/config"
	"github.com/sitedesk/foreman/pkg/gateway/handlers"
	"github.com/sitedesk/foreman/pkg/gateway/lifecycle"
	"github.com/sitedesk/foreman/pkg/gateway/mw"
	"github.com/sitedesk/foreman/pkg/gateway/ratelimit"
	"github.com/sitedesk/foreman/pkg/gateway/tools"
	"github.com/sitedesk/foreman/pkg/gateway/upstream"
)

// Deps carries the collaborators the server routes to. Store types are the
// narrowed interfaces so tests can supply fakes.
type Deps struct {
	ChatStore  handlers.ChatStore
	VoiceStore handlers.VoiceStore
	DB         handlers.Pinger
	Backend    upstream.ModelBackend
	Minter     handlers.SessionMinter
	Executor   tools.Executor
	Reporter   billing.Reporter
	Verifier   auth.TokenVerifier
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	deps      Deps
	limiter   *ratelimit.Limiter
	lifecycle *lifecycle.Lifecycle
}

func New(cfg config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Reporter == nil {
		deps.Reporter = billing.NoopReporter{}
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		deps:      deps,
		lifecycle: &lifecycle.Lifecycle{},
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                   cfg.RateRPS,
			Burst:                 cfg.RateBurst,
			MaxConcurrentRequests: cfg.MaxConcurrentRequests,
			MaxConcurrentStreams:  cfg.MaxConcurrentStreams,
		}),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, DB: s.deps.DB, Lifecycle: s.lifecycle})

	s.mux.Handle("/chat", handlers.ChatHandler{
		Config:   s.cfg,
		Store:    s.deps.ChatStore,
		Backend:  s.deps.Backend,
		Executor: s.deps.Executor,
		Logger:   s.logger,
	})
	s.mux.Handle("/chat/stream", mw.StreamLimit(s.limiter, handlers.ChatStreamHandler{
		Config:    s.cfg,
		Store:     s.deps.ChatStore,
		Backend:   s.deps.Backend,
		Executor:  s.deps.Executor,
		Logger:    s.logger,
		Lifecycle: s.lifecycle,
	}))

	s.mux.Handle("/voice/session", handlers.VoiceSessionHandler{
		Config: s.cfg,
		Store:  s.deps.VoiceStore,
		Minter: s.deps.Minter,
		Logger: s.logger,
	})
	s.mux.Handle("/voice/session/end", handlers.VoiceSessionEndHandler{
		Config:   s.cfg,
		Store:    s.deps.VoiceStore,
		Reporter: s.deps.Reporter,
		Logger:   s.logger,
	})
	s.mux.Handle("/voice/tool", handlers.VoiceToolHandler{
		Config:   s.cfg,
		Executor: s.deps.Executor,
		Logger:   s.logger,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

// SetDraining flips readiness to failing and rejects new streams so a
// load balancer stops routing here during shutdown.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.limiter, h)
	h = mw.Auth(s.cfg, s.deps.Verifier, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
