package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"dreamlines/book"
	"dreamlines/chat"
	"dreamlines/core"
	"dreamlines/credential"
	"dreamlines/db"
	"dreamlines/imagegen"
	"dreamlines/logging"
	"dreamlines/metrics"
	"dreamlines/pdfassembler"
	"dreamlines/shutdown"
	"dreamlines/webui"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Shutdown priorities, lowest first.
const (
	priorityHTTP          = 0
	priorityHistoryWriter = 20
	priorityHistoryDB     = 30
	priorityLogger        = 40
)

// loadEnvironment reads the dotenv file into the process environment.
// A missing file is not an error: the credential gate reports it later.
func loadEnvironment(envFile string) error {
	if envFile == "" {
		envFile = core.DefaultEnvFile
	}
	if _, err := os.Stat(envFile); err != nil {
		return core.ErrEnvFileMissing(envFile)
	}
	return godotenv.Load(envFile)
}

// newLogger builds the application logger from configuration. LOG_LEVEL
// overrides the level implied by DEV_MODE. A nil console means stdout.
func newLogger(cfg *core.Config, console io.Writer) (*logging.Logger, error) {
	def := zapcore.InfoLevel
	if cfg.DevMode {
		def = zapcore.DebugLevel
	}
	level := logging.ParseLogLevel("LOG_LEVEL", def)
	return logging.NewLoggerWithOptions(logging.Options{
		Development: cfg.DevMode,
		FilePath:    cfg.LogFile,
		Level:       &level,
		File:        logging.DefaultFileWriterConfig(),
		Console:     console,
	})
}

// App holds the components shared by every command:
//   - the credential gate over the env host
//   - the page generator and chat sessions for the configured providers
//   - the PDF assembler
//   - the optional run history
type App struct {
	cfg    *core.Config
	logger *logging.Logger

	host      *credential.EnvHost
	gate      *credential.Gate
	generator *imagegen.PageGenerator
	sessions  chat.SessionFactory
	assembler *pdfassembler.Assembler

	history *db.Database
	runs    *db.Repository
}

// NewApp wires the components and resolves the credential gate once.
func NewApp(ctx context.Context, cfg *core.Config, logger *logging.Logger) (*App, error) {
	host := credential.NewEnvHost(cfg.EnvFile)
	a := &App{
		cfg:    cfg,
		logger: logger,
		host:   host,
		gate:   credential.NewGate(host, credential.Options{Reverify: cfg.CredentialReverify}, logger),
		assembler: pdfassembler.NewAssembler(pdfassembler.Config{
			MaxImagePixels: cfg.MaxImagePixels,
			Author:         "DreamLines",
		}, logger),
	}

	provider, err := newImageProvider(cfg, host, logger)
	if err != nil {
		return nil, err
	}
	a.generator, err = imagegen.NewPageGenerator(provider, logger, imagegen.GeneratorConfig{Timeout: cfg.RequestTimeout})
	if err != nil {
		return nil, err
	}
	a.sessions, err = newSessionFactory(cfg, host, logger)
	if err != nil {
		return nil, err
	}
	logProviders(logger, cfg)

	if cfg.HistoryEnabled {
		if err := a.openHistory(); err != nil {
			return nil, err
		}
	}

	state := a.gate.Check(ctx)
	logger.Info("Credential gate resolved",
		zap.String("status", string(state.Status)),
		zap.Bool("environment_detected", state.EnvironmentDetected))
	return a, nil
}

func (a *App) openHistory() error {
	database, err := db.Open(a.cfg.HistoryPath())
	if err != nil {
		return fmt.Errorf("failed to open run history: %w", err)
	}
	a.history = database
	a.runs = db.NewRepository(database)
	a.logger.Info("Run history opened", zap.String("path", database.Path()))
	return nil
}

// recorder returns the history repository, or nil when history is off.
func (a *App) recorder() book.Recorder {
	if a.runs == nil {
		return nil
	}
	return a.runs
}

// Close releases the history database.
func (a *App) Close() error {
	if a.history == nil {
		return nil
	}
	return a.history.Close()
}

// serverConfig maps configuration onto the web UI settings.
func (a *App) serverConfig(host string, port int) webui.ServerConfig {
	sc := webui.DefaultServerConfig()
	sc.Host = a.cfg.WebUIHost
	sc.Port = a.cfg.WebUIPort
	if host != "" {
		sc.Host = host
	}
	if port != 0 {
		sc.Port = port
	}
	sc.WorkspaceTTL = a.cfg.WorkspaceTTL
	sc.PageInterval = a.cfg.PageInterval
	sc.ChatTimeout = a.cfg.RequestTimeout
	sc.Version = version
	if a.cfg.DevMode {
		sc.StaticCacheMaxAge = 0
	}
	return sc
}

// Serve runs the web UI until ctx ends or a signal arrives, then shuts down
// in priority order: HTTP, history writer, history database, logger.
func (a *App) Serve(ctx context.Context, host string, port int) error {
	manager := shutdown.NewManager(a.logger, shutdown.WithParent(ctx))

	var recorder book.Recorder
	var async *db.AsyncRecorder
	if a.runs != nil {
		async = db.NewAsyncRecorder(a.runs, db.DefaultChannelCapacity, a.logger)
		async.Start()
		recorder = async
	}

	server, err := webui.NewServer(a.serverConfig(host, port), webui.Dependencies{
		Gate:      a.gate,
		Generator: a.generator,
		Sessions:  a.sessions,
		Assembler: a.assembler,
		Recorder:  recorder,
		Metrics:   metrics.NewStore(metrics.DefaultHistoryCapacity, time.Now()),
		Tracker:   manager.Tracker(),
	}, a.logger)
	if err != nil {
		return err
	}

	manager.Register("http", priorityHTTP, server.Shutdown)
	if async != nil {
		manager.Register("history-writer", priorityHistoryWriter, func(ctx context.Context) error {
			if !async.Close(ctx) {
				return errors.New("run history did not drain")
			}
			return nil
		})
		manager.Register("history-db", priorityHistoryDB, func(context.Context) error {
			return a.Close()
		})
	}
	manager.Register("logger", priorityLogger, func(context.Context) error {
		// stdout cannot be synced on every platform
		_ = a.logger.Sync()
		return nil
	})
	manager.Start()

	a.logger.Info("DreamLines web UI listening",
		zap.String("url", "http://"+server.Addr()),
		zap.String("version", version))

	g, gctx := errgroup.WithContext(manager.Context())
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		return manager.Shutdown()
	})
	return g.Wait()
}
