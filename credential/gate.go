package credential

import (
	"context"
	"errors"
	"sync"

	"dreamlines/logging"

	"go.uber.org/zap"
)

// Status is the gate's position in its state machine.
type Status string

const (
	StatusChecking        Status = "checking"
	StatusNeedsCredential Status = "needs_credential"
	StatusReady           Status = "ready"
)

// NoEnvironmentNote is shown instead of a selection action when the host
// cannot select keys.
const NoEnvironmentNote = "AI Studio environment not detected."

// State is an immutable snapshot of the gate.
type State struct {
	Status              Status `json:"status"`
	EnvironmentDetected bool   `json:"environmentDetected"`
	Note                string `json:"note,omitempty"`
	Error               string `json:"error,omitempty"`
}

// Ready reports whether generation features may be used.
func (s State) Ready() bool {
	return s.Status == StatusReady
}

type eventKind int

const (
	evCheckStarted eventKind = iota
	evKeyFound
	evKeyMissing
	evNoEnvironment
	evSelectFailed
	evSelected
)

type event struct {
	kind eventKind
	err  error
}

// Options configure a Gate.
type Options struct {
	// Reverify re-checks the host after a successful selection instead of
	// assuming the key is now present.
	Reverify bool
}

// Gate tracks whether a credential is selected. It starts in Checking and
// only changes through apply.
type Gate struct {
	host   Host
	opts   Options
	logger *logging.Logger

	mu    sync.RWMutex
	state State
}

// NewGate creates a gate in the Checking state. Call Check to resolve it.
func NewGate(host Host, opts Options, logger *logging.Logger) *Gate {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Gate{
		host:   host,
		opts:   opts,
		logger: logger.Named("credential"),
		state:  State{Status: StatusChecking, EnvironmentDetected: true},
	}
}

// State returns the current snapshot.
func (g *Gate) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Require returns ErrCredentialMissing unless the gate is Ready.
func (g *Gate) Require() error {
	if !g.State().Ready() {
		return ErrCredentialMissing
	}
	return nil
}

// Check asks the host whether a key is already selected. A selected key
// resolves the gate to Ready without running the selection flow.
func (g *Gate) Check(ctx context.Context) State {
	g.apply(event{kind: evCheckStarted})

	if !g.host.Available() {
		return g.apply(event{kind: evNoEnvironment})
	}

	hasKey, err := g.host.HasSelectedKey(ctx)
	if err != nil {
		g.logger.Warn("Credential check failed", zap.Error(err))
		return g.apply(event{kind: evKeyMissing, err: err})
	}
	if hasKey {
		return g.apply(event{kind: evKeyFound})
	}
	return g.apply(event{kind: evKeyMissing})
}

// Select runs the host selection flow. On success the gate becomes Ready,
// or re-checks the host first when Options.Reverify is set.
func (g *Gate) Select(ctx context.Context) (State, error) {
	if !g.host.Available() {
		return g.apply(event{kind: evNoEnvironment}), ErrNoEnvironment
	}

	if err := g.host.OpenSelectKey(ctx); err != nil {
		g.logger.Error("Key selection failed", zap.Error(err))
		return g.apply(event{kind: evSelectFailed, err: err}), err
	}

	if g.opts.Reverify {
		hasKey, err := g.host.HasSelectedKey(ctx)
		if err != nil || !hasKey {
			if err == nil {
				err = ErrCredentialMissing
			}
			g.logger.Warn("Key still missing after selection", zap.Error(err))
			return g.apply(event{kind: evKeyMissing, err: err}), err
		}
	}

	return g.apply(event{kind: evSelected}), nil
}

// apply is the only place the gate's state changes.
func (g *Gate) apply(ev event) State {
	g.mu.Lock()
	defer g.mu.Unlock()

	prev := g.state.Status
	next := g.state

	switch ev.kind {
	case evCheckStarted:
		next = State{Status: StatusChecking, EnvironmentDetected: true}
	case evKeyFound, evSelected:
		next = State{Status: StatusReady, EnvironmentDetected: true}
	case evKeyMissing:
		next = State{Status: StatusNeedsCredential, EnvironmentDetected: true, Error: errorText(ev.err)}
	case evNoEnvironment:
		next = State{Status: StatusNeedsCredential, EnvironmentDetected: false, Note: NoEnvironmentNote}
	case evSelectFailed:
		// Selection failures never leave Ready if a key was already in use.
		if prev != StatusReady {
			next = State{Status: StatusNeedsCredential, EnvironmentDetected: true, Error: errorText(ev.err)}
		}
	}

	g.state = next
	if prev != next.Status {
		g.logger.Info("Credential gate changed",
			zap.String("from", string(prev)),
			zap.String("to", string(next.Status)))
	}
	return next
}

func errorText(err error) string {
	if err == nil || errors.Is(err, ErrCredentialMissing) {
		return ""
	}
	return err.Error()
}
