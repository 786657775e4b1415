package webui

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"dreamlines/book"
	"dreamlines/chat"
	"dreamlines/core"
	"dreamlines/logging"
)

// WorkspaceCookie names the cookie carrying a browser's workspace ID.
const WorkspaceCookie = "dreamlines_workspace"

// DefaultWorkspaceTTL is how long an idle workspace is kept.
const DefaultWorkspaceTTL = 2 * time.Hour

// ErrWorkspaceNotFound is returned for unknown or expired workspace IDs.
var ErrWorkspaceNotFound = errors.New("webui: workspace not found")

// Workspace is everything one browser owns: its book run, its chat widget
// and the websockets following the run. The two workflows share nothing.
type Workspace struct {
	ID          string
	Book        *book.Orchestrator
	Chat        *chat.Assistant
	Broadcaster *Broadcaster

	unsubscribe func()
	closeOnce   sync.Once
}

// NewWorkspace wires run transitions to the broadcaster. A failed run is
// also pushed as an error message.
func NewWorkspace(id string, orchestrator *book.Orchestrator, assistant *chat.Assistant, broadcaster *Broadcaster) *Workspace {
	ws := &Workspace{
		ID:          id,
		Book:        orchestrator,
		Chat:        assistant,
		Broadcaster: broadcaster,
	}
	ws.unsubscribe = orchestrator.Subscribe(book.ObserverFunc(func(run book.Run) {
		broadcaster.Broadcast(NewRunUpdateMessage(run))
		if run.Status == book.StatusFailed {
			broadcaster.Broadcast(NewErrorMessage(ErrorCodeRunFailed, run.Error))
		}
	}))
	return ws
}

// Close detaches the broadcaster and disconnects its clients. A run in
// progress keeps going and is still recorded.
func (w *Workspace) Close() {
	w.closeOnce.Do(func() {
		w.unsubscribe()
		w.Broadcaster.Close()
	})
}

// WorkspaceFactory builds the components of a new workspace.
type WorkspaceFactory func(id string) (*Workspace, error)

// WorkspaceStore keeps workspaces in memory with a sliding expiry. Nothing
// in it survives a restart.
type WorkspaceStore struct {
	items   *cache.Cache
	factory WorkspaceFactory
	ttl     time.Duration
	logger  *logging.Logger
}

// NewWorkspaceStore creates a store. Expired workspaces are closed.
func NewWorkspaceStore(ttl time.Duration, factory WorkspaceFactory, logger *logging.Logger) *WorkspaceStore {
	if ttl <= 0 {
		ttl = DefaultWorkspaceTTL
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	items := cache.New(ttl, ttl/2)
	s := &WorkspaceStore{
		items:   items,
		factory: factory,
		ttl:     ttl,
		logger:  logger.Named("workspaces"),
	}
	items.OnEvicted(func(id string, v any) {
		if ws, ok := v.(*Workspace); ok {
			ws.Close()
		}
		s.logger.Debug("Workspace expired", zap.Int("remaining", items.ItemCount()))
	})
	return s
}

// Get returns the workspace and extends its lifetime.
func (s *WorkspaceStore) Get(id string) (*Workspace, error) {
	if id == "" {
		return nil, ErrWorkspaceNotFound
	}
	v, ok := s.items.Get(id)
	if !ok {
		return nil, ErrWorkspaceNotFound
	}
	ws := v.(*Workspace)
	s.items.SetDefault(id, ws)
	return ws, nil
}

// Create builds and stores a workspace under a fresh random ID.
func (s *WorkspaceStore) Create() (*Workspace, error) {
	id, err := core.GenerateWorkspaceID()
	if err != nil {
		return nil, err
	}
	ws, err := s.factory(id)
	if err != nil {
		return nil, fmt.Errorf("webui: failed to create workspace: %w", err)
	}
	s.items.SetDefault(id, ws)
	s.logger.Debug("Workspace created", zap.Int("total", s.items.ItemCount()))
	return ws, nil
}

// Resolve returns the workspace named by the request cookie, creating one
// and setting the cookie when it is missing or expired.
func (s *WorkspaceStore) Resolve(w http.ResponseWriter, r *http.Request) (*Workspace, error) {
	if c, err := r.Cookie(WorkspaceCookie); err == nil {
		if ws, err := s.Get(c.Value); err == nil {
			return ws, nil
		}
	}

	ws, err := s.Create()
	if err != nil {
		return nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     WorkspaceCookie,
		Value:    ws.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.ttl.Seconds()),
	})
	return ws, nil
}

// Count returns the number of live workspaces.
func (s *WorkspaceStore) Count() int {
	return s.items.ItemCount()
}

// Close closes every workspace and empties the store.
func (s *WorkspaceStore) Close() {
	for _, item := range s.items.Items() {
		if ws, ok := item.Object.(*Workspace); ok {
			ws.Close()
		}
	}
	s.items.Flush()
}
