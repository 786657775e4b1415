package book

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dreamlines/imagegen"
	"dreamlines/logging"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PageGenerator produces one page per call.
type PageGenerator interface {
	Generate(ctx context.Context, theme string, quality imagegen.Quality) (*imagegen.Page, error)
}

// ProgressObserver receives a snapshot after every transition.
type ProgressObserver interface {
	OnProgress(run Run)
}

// ObserverFunc adapts a function to ProgressObserver.
type ObserverFunc func(run Run)

// OnProgress calls f.
func (f ObserverFunc) OnProgress(run Run) { f(run) }

// Recorder stores finished runs for operators. Failures are logged and
// never affect the run.
type Recorder interface {
	RecordRun(ctx context.Context, run Run) error
}

// Config holds orchestrator settings.
type Config struct {
	// Interval is the minimum pause between consecutive page calls.
	Interval time.Duration

	// Recorder receives every finished run (optional).
	Recorder Recorder
}

// Orchestrator owns one live Run. Every change goes through transition.
//
// Thread-Safety: all methods are safe for concurrent use. Only one run can
// be active at a time; a second Start returns ErrRunInProgress.
type Orchestrator struct {
	generator PageGenerator
	logger    *logging.Logger
	config    Config

	mu        sync.Mutex
	run       Run
	observers map[int]ProgressObserver
	nextObsID int
	done      chan struct{}

	now   func() time.Time
	newID func() string
}

// NewOrchestrator creates an orchestrator in the Idle state.
func NewOrchestrator(generator PageGenerator, logger *logging.Logger, config Config) (*Orchestrator, error) {
	if generator == nil {
		return nil, fmt.Errorf("book: generator cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("book: logger cannot be nil")
	}
	if config.Interval < 0 {
		return nil, fmt.Errorf("book: interval must not be negative")
	}

	closed := make(chan struct{})
	close(closed)

	return &Orchestrator{
		generator: generator,
		logger:    logger.Named("book"),
		config:    config,
		run:       Run{Status: StatusIdle, RequestedPages: PageCount},
		observers: make(map[int]ProgressObserver),
		done:      closed,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

// Snapshot returns a copy of the current run.
func (o *Orchestrator) Snapshot() Run {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.run.clone()
}

// Subscribe registers obs and returns a function that removes it.
func (o *Orchestrator) Subscribe(obs ProgressObserver) func() {
	o.mu.Lock()
	id := o.nextObsID
	o.nextObsID++
	o.observers[id] = obs
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.observers, id)
		o.mu.Unlock()
	}
}

// Run starts a run and blocks until it finishes. The returned error is the
// generation failure, if any; the Run carries the same message.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Run, error) {
	started, err := o.begin(req)
	if err != nil {
		return started, err
	}
	return o.execute(ctx, started)
}

// Start begins a run in the background and returns the Running snapshot.
// Use Wait, Snapshot or an observer to follow it.
func (o *Orchestrator) Start(ctx context.Context, req Request) (Run, error) {
	started, err := o.begin(req)
	if err != nil {
		return started, err
	}
	go func() {
		_, _ = o.execute(ctx, started)
	}()
	return started, nil
}

// Wait blocks until the current run is no longer Running.
func (o *Orchestrator) Wait(ctx context.Context) (Run, error) {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()

	select {
	case <-done:
		return o.Snapshot(), nil
	case <-ctx.Done():
		return o.Snapshot(), ctx.Err()
	}
}

func (o *Orchestrator) begin(req Request) (Run, error) {
	if err := req.Validate(); err != nil {
		return o.Snapshot(), err
	}
	return o.transition(event{kind: evStart, at: o.now(), id: o.newID(), request: req})
}

// execute generates the pages strictly one after another.
func (o *Orchestrator) execute(ctx context.Context, run Run) (Run, error) {
	log := o.logger.With(
		zap.String("run_id", run.ID),
		zap.String("quality", string(run.Request.Quality)),
	)
	log.Info("Book run started", zap.String("theme", run.Request.Theme))

	limit := rate.Inf
	if o.config.Interval > 0 {
		limit = rate.Every(o.config.Interval)
	}
	limiter := rate.NewLimiter(limit, 1)

	pages := make([]imagegen.Page, 0, run.RequestedPages)
	for i := 0; i < run.RequestedPages; i++ {
		if _, err := o.transition(event{kind: evPageStarted, index: i}); err != nil {
			return o.fail(ctx, log, err)
		}
		if err := limiter.Wait(ctx); err != nil {
			return o.fail(ctx, log, fmt.Errorf("book: waiting for page %d: %w", i+1, err))
		}

		page, err := o.generator.Generate(ctx, run.Request.Theme, run.Request.Quality)
		if err != nil {
			log.Error("Page failed, aborting run", zap.Int("page", i+1), zap.Error(err))
			return o.fail(ctx, log, err)
		}
		if page == nil {
			return o.fail(ctx, log, fmt.Errorf("book: page %d: %w", i+1, imagegen.ErrNoImage))
		}
		page.SourceTheme = run.Request.Theme
		pages = append(pages, *page)
		log.Debug("Page finished", zap.Int("page", i+1), zap.String("page_id", page.ID))
	}

	final, err := o.transition(event{kind: evSucceed, at: o.now(), pages: pages})
	if err != nil {
		return o.fail(ctx, log, err)
	}
	log.Info("Book run succeeded", zap.Duration("elapsed", final.Duration()))
	o.record(ctx, log, final)
	return final, nil
}

func (o *Orchestrator) fail(ctx context.Context, log *logging.Logger, cause error) (Run, error) {
	final, err := o.transition(event{kind: evFail, at: o.now(), message: failureMessage(cause)})
	if err != nil {
		log.Error("Could not record failure", zap.Error(err))
		return final, errors.Join(cause, err)
	}
	log.Warn("Book run failed", zap.String("error", final.Error))
	o.record(ctx, log, final)
	return final, cause
}

func (o *Orchestrator) record(ctx context.Context, log *logging.Logger, run Run) {
	if o.config.Recorder == nil {
		return
	}
	if err := o.config.Recorder.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		log.Warn("Failed to record run history", zap.Error(err))
	}
}

// transition is the single mutation entry point for the run. Observers are
// notified outside the lock, in transition order, since only the running
// goroutine transitions after a start.
func (o *Orchestrator) transition(ev event) (Run, error) {
	o.mu.Lock()
	nextRun, err := next(o.run, ev)
	if err != nil {
		snap := o.run.clone()
		o.mu.Unlock()
		return snap, err
	}

	o.run = nextRun
	switch {
	case ev.kind == evStart:
		o.done = make(chan struct{})
	case nextRun.Status.Terminal():
		close(o.done)
	}

	snap := nextRun.clone()
	observers := make([]ProgressObserver, 0, len(o.observers))
	for _, obs := range o.observers {
		observers = append(observers, obs)
	}
	o.mu.Unlock()

	for _, obs := range observers {
		obs.OnProgress(snap.clone())
	}
	return snap, nil
}

// failureMessage is the text shown to the user for a failed run.
func failureMessage(err error) string {
	if err == nil {
		return DefaultFailureMessage
	}
	return err.Error()
}
