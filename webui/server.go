// Package webui serves the DreamLines browser interface: the credential
// gate, the book form with live progress, the gallery, the PDF download and
// the chat widget.
package webui

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"dreamlines/book"
	"dreamlines/chat"
	"dreamlines/credential"
	"dreamlines/logging"
	"dreamlines/metrics"
	"dreamlines/pdfassembler"
	"dreamlines/shutdown"
	"dreamlines/webui/static"
)

// ServerConfig configures the Server.
type ServerConfig struct {
	Host string
	Port int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// WorkspaceTTL is how long an idle browser workspace is kept.
	WorkspaceTTL time.Duration
	// DocumentTTL is how long an assembled PDF stays cached.
	DocumentTTL time.Duration

	// PageInterval paces the five image calls of a run.
	PageInterval time.Duration
	// ChatTimeout bounds one chat turn.
	ChatTimeout time.Duration

	Broadcaster BroadcasterConfig

	// StaticCacheMaxAge is the asset max-age in seconds; 0 disables caching.
	StaticCacheMaxAge int
	LogSkipPaths      []string
	Version           string
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:              "localhost",
		Port:              3000,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		WorkspaceTTL:      DefaultWorkspaceTTL,
		DocumentTTL:       30 * time.Minute,
		ChatTimeout:       2 * time.Minute,
		Broadcaster:       DefaultBroadcasterConfig(),
		StaticCacheMaxAge: 3600,
		LogSkipPaths:      []string{"/health"},
		Version:           "dev",
	}
}

// Dependencies are the domain components the server drives.
type Dependencies struct {
	Gate      *credential.Gate
	Generator book.PageGenerator
	Sessions  chat.SessionFactory
	Assembler *pdfassembler.Assembler

	// Recorder receives every finished run. Optional.
	Recorder book.Recorder
	// Metrics also receives every finished run and is reported on /health.
	// Optional.
	Metrics metrics.Collector
	// Tracker counts running books for graceful shutdown. Optional.
	Tracker *shutdown.OperationTracker
}

// Server is the HTTP organism. It wires together:
//   - chi router with recoverer and access logging
//   - WorkspaceStore holding one orchestrator and assistant per browser
//   - a Broadcaster per workspace for /ws progress
//   - a PDF cache keyed by run ID
//   - the embedded page template and assets
type Server struct {
	config     ServerConfig
	deps       Dependencies
	recorder   book.Recorder
	logger     *logging.Logger
	router     chi.Router
	httpServer *http.Server
	workspaces *WorkspaceStore
	documents  *cache.Cache
	page       *template.Template

	// runs outlive their HTTP request but not the server
	lifetime context.Context
	stopRuns context.CancelFunc
}

// NewServer validates deps and builds the router.
func NewServer(config ServerConfig, deps Dependencies, logger *logging.Logger) (*Server, error) {
	if deps.Gate == nil {
		return nil, errors.New("webui: credential gate is required")
	}
	if deps.Generator == nil {
		return nil, errors.New("webui: page generator is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("webui: chat session factory is required")
	}
	if deps.Assembler == nil {
		return nil, errors.New("webui: document assembler is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if config.DocumentTTL <= 0 {
		config.DocumentTTL = 30 * time.Minute
	}

	page, err := template.New("index.html").Funcs(templateFuncs).ParseFS(static.GetFS(), "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("webui: failed to parse page template: %w", err)
	}

	lifetime, stop := context.WithCancel(context.Background())
	s := &Server{
		config:    config,
		deps:      deps,
		recorder:  metrics.Tee(deps.Metrics, deps.Recorder),
		logger:    logger.Named("webui"),
		documents: cache.New(config.DocumentTTL, config.DocumentTTL),
		page:      page,
		lifetime:  lifetime,
		stopRuns:  stop,
	}
	s.workspaces = NewWorkspaceStore(config.WorkspaceTTL, s.newWorkspace, logger)
	s.router = s.routes()

	addr := net.JoinHostPort(config.Host, fmt.Sprint(config.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	s.logger.Info("WebUI server created", zap.String("addr", addr))
	return s, nil
}

func (s *Server) newWorkspace(id string) (*Workspace, error) {
	log := s.logger.With(zap.String("workspace", id[:8]))

	orchestrator, err := book.NewOrchestrator(s.deps.Generator, log, book.Config{
		Interval: s.config.PageInterval,
		Recorder: s.recorder,
	})
	if err != nil {
		return nil, err
	}
	assistant, err := chat.NewAssistant(s.deps.Sessions, log, chat.Options{Timeout: s.config.ChatTimeout})
	if err != nil {
		return nil, err
	}
	return NewWorkspace(id, orchestrator, assistant, NewBroadcaster(s.config.Broadcaster, log)), nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.CleanPath)
	r.Use(NewLoggingMiddleware(s.logger, s.config.LogSkipPaths...).Handler)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)
	r.Handle("/static/*", http.StripPrefix("/static", NewStaticAssetHandler(s.config.StaticCacheMaxAge)))

	r.Route("/api", func(r chi.Router) {
		r.Get("/credential", s.handleCredentialState)
		r.Post("/credential/check", s.handleCredentialCheck)
		r.Post("/credential/select", s.handleCredentialSelect)

		r.Group(func(r chi.Router) {
			r.Use(s.requireCredential)

			r.Post("/books", s.handleStartBook)
			r.Get("/books/current", s.handleCurrentBook)
			r.Get("/books/current/pages/{id}", s.handlePageImage)
			r.Get("/books/current/pdf", s.handleDownloadPDF)

			r.Get("/chat", s.handleChatTranscript)
			r.Post("/chat/open", s.handleChatOpen)
			r.Post("/chat", s.handleChatSend)
		})
	})
	return r
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Workspaces exposes the workspace store.
func (s *Server) Workspaces() *WorkspaceStore {
	return s.workspaces
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("WebUI server starting", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, cancels running books and closes
// every workspace.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down WebUI server")

	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}

	err := s.httpServer.Shutdown(ctx)
	s.stopRuns()
	s.workspaces.Close()
	s.documents.Flush()
	if err != nil {
		return fmt.Errorf("http shutdown error: %w", err)
	}
	return nil
}
