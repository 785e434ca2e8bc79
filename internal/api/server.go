package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"autoblog/internal/automation"
	"autoblog/internal/errlog"
	"autoblog/internal/runner"
	"autoblog/internal/usage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Runner is the trigger surface of the run executor.
type Runner interface {
	RunNow(ctx context.Context, id string) (runner.Result, error)
	RetryLast(ctx context.Context) (runner.RetryOutcome, error)
}

// Deps are the components the API reads and drives.
type Deps struct {
	Store  *automation.Store
	Runner Runner
	Usage  *usage.Meter
	Errors *errlog.Log
	Runs   *runner.RunLog
	// MCP is mounted at /mcp behind the same token when set.
	MCP http.Handler
	Now func() time.Time
}

// Server holds the HTTP server state.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	deps       Deps
	logger     zerolog.Logger
	authToken  string
}

// NewServer constructs the HTTP API server.
func NewServer(addr string, authToken string, deps Deps, logger zerolog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Server{
		router:    router,
		deps:      deps,
		logger:    logger.With().Str("component", "api").Logger(),
		authToken: authToken,
	}
	router.Use(s.requestLogger)
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	if s.deps.MCP != nil {
		s.router.Group(func(r chi.Router) {
			if s.authToken != "" {
				r.Use(AuthMiddleware(s.authToken))
			}
			r.Handle("/mcp", s.deps.MCP)
		})
	}

	s.router.Route("/v1", func(r chi.Router) {
		if s.authToken != "" {
			r.Use(AuthMiddleware(s.authToken))
		}

		r.Route("/automations", func(r chi.Router) {
			r.Get("/", s.handleListAutomations)
			r.Post("/", s.handleCreateAutomation)
			r.Get("/due", s.handleDueAutomations)

			r.Route("/{automationID}", func(r chi.Router) {
				r.Get("/", s.handleGetAutomation)
				r.Patch("/", s.handleUpdateAutomation)
				r.Delete("/", s.handleDeleteAutomation)
				r.Post("/status", s.handleSetStatus)
				r.Post("/run", s.handleRunAutomation)
				r.Get("/runs", s.handleAutomationRuns)
			})
		})

		r.Get("/runs", s.handleListRuns)
		r.Get("/usage", s.handleUsage)

		r.Route("/errors", func(r chi.Router) {
			r.Get("/", s.handleListErrors)
			r.Delete("/", s.handleClearErrors)
			r.Post("/retry-last", s.handleRetryLast)
		})

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
