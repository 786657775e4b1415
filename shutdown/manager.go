package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"dreamlines/core"
	"dreamlines/logging"
)

// DefaultTimeout bounds the whole shutdown sequence.
const DefaultTimeout = 30 * time.Second

type handler struct {
	name     string
	priority int
	fn       core.ShutdownFunc
}

// Manager coordinates graceful shutdown. It composes:
//   - OperationTracker: in-flight book runs
//   - an ordered list of cleanup handlers
//   - signal handling where a second signal forces exit
//
// Usage:
//
//	manager := shutdown.NewManager(logger)
//	manager.Register("history", 30, func(ctx context.Context) error {
//	    return database.Close()
//	})
//	manager.Start()
//	<-manager.Context().Done()
//	manager.Shutdown()
type Manager struct {
	logger  *logging.Logger
	timeout time.Duration
	tracker *OperationTracker

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	handlers []handler
	started  bool
	done     bool
	signals  int
	sigChan  chan os.Signal
	forceFn  func(code int)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTimeout sets the shutdown timeout.
func WithTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		m.timeout = timeout
	}
}

// WithParent derives the managed context from parent instead of Background.
func WithParent(parent context.Context) ManagerOption {
	return func(m *Manager) {
		m.ctx, m.cancel = context.WithCancel(parent)
	}
}

// NewManager creates a Manager. A nil logger discards output.
func NewManager(logger *logging.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		logger:  logger.Named("shutdown"),
		timeout: DefaultTimeout,
		tracker: NewOperationTracker(),
		sigChan: make(chan os.Signal, 1),
		forceFn: os.Exit,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ctx == nil {
		m.ctx, m.cancel = context.WithCancel(context.Background())
	}
	return m
}

// Context is cancelled when shutdown begins.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Tracker returns the tracker guarding in-flight operations.
func (m *Manager) Tracker() *OperationTracker {
	return m.tracker
}

// Register adds a cleanup handler. Lower priority runs first:
//   - 0-9: stop accepting work (HTTP server)
//   - 10-29: drain workers and broadcasters
//   - 30-39: close storage
//   - 40+: flush logs
func (m *Manager) Register(name string, priority int, fn core.ShutdownFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done {
		return
	}
	m.handlers = append(m.handlers, handler{name: name, priority: priority, fn: fn})
	m.logger.Debug("Registered shutdown handler",
		zap.String("name", name),
		zap.Int("priority", priority))
}

// Start listens for SIGINT and SIGTERM. The first signal cancels Context;
// the second exits immediately with the signal's exit code.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return
	}
	m.started = true

	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range m.sigChan {
			m.handleSignal(sig)
		}
	}()
}

func (m *Manager) handleSignal(sig os.Signal) {
	m.mu.Lock()
	m.signals++
	count := m.signals
	m.mu.Unlock()

	if count == 1 {
		m.logger.Info("Received shutdown signal, initiating graceful shutdown",
			zap.String("signal", sig.String()))
		m.cancel()
		return
	}

	code := core.ExitCodeSIGINT
	if sig == syscall.SIGTERM {
		code = core.ExitCodeSIGTERM
	}
	m.logger.Warn("Received second signal, forcing exit",
		zap.String("exit", core.ExitCodeName(code)))
	m.forceFn(code)
}

// Shutdown cancels Context, stops new operations, waits for in-flight ones
// and then runs the handlers in priority order. Every handler runs even if
// an earlier one fails. Later calls are no-ops.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return nil
	}
	m.done = true
	handlers := append([]handler(nil), m.handlers...)
	started := m.started
	m.mu.Unlock()

	m.cancel()
	if started {
		signal.Stop(m.sigChan)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.tracker.Close()
	if active := m.tracker.ActiveCount(); active > 0 {
		m.logger.Info("Waiting for in-flight runs", zap.Int64("active", active))
	}
	if err := m.tracker.Wait(ctx); err != nil {
		m.logger.Warn("Timed out waiting for in-flight runs",
			zap.Int64("remaining", m.tracker.ActiveCount()))
	}

	// handlers always get at least a second, even after a slow drain
	hctx := ctx
	if deadline, _ := ctx.Deadline(); time.Until(deadline) < time.Second {
		var hcancel context.CancelFunc
		hctx, hcancel = context.WithTimeout(context.Background(), time.Second)
		defer hcancel()
	}

	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].priority < handlers[j].priority
	})

	var failed int
	for _, h := range handlers {
		if err := h.fn(hctx); err != nil {
			failed++
			m.logger.Error("Shutdown handler failed",
				zap.String("name", h.name),
				zap.Error(err))
		}
	}

	if failed > 0 {
		return fmt.Errorf("shutdown: %d of %d handlers failed", failed, len(handlers))
	}
	m.logger.Info("Graceful shutdown completed", zap.Duration("duration", time.Since(start)))
	return nil
}

// HandlerNames lists registered handlers in execution order.
func (m *Manager) HandlerNames() []string {
	m.mu.Lock()
	handlers := append([]handler(nil), m.handlers...)
	m.mu.Unlock()

	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].priority < handlers[j].priority
	})
	names := make([]string, len(handlers))
	for i, h := range handlers {
		names[i] = h.name
	}
	return names
}
