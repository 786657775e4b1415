package book

import (
	"errors"
	"fmt"
	"time"

	"dreamlines/imagegen"
)

// PageCount is the number of pages in every book.
const PageCount = 5

// DefaultFailureMessage is shown when a failure carries no message.
const DefaultFailureMessage = "Failed to generate coloring book. Please try again."

var (
	// ErrRunInProgress is returned when a run is started while one is running.
	ErrRunInProgress = errors.New("book: a run is already in progress")

	// ErrInvalidTransition is returned for an event the current status cannot accept.
	ErrInvalidTransition = errors.New("book: invalid state transition")
)

// Status is the lifecycle position of a run.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further events are expected.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Run is a snapshot of one generation run. Pages holds exactly
// RequestedPages entries when Status is Succeeded and is empty otherwise.
type Run struct {
	ID             string          `json:"id,omitempty"`
	Request        Request         `json:"request"`
	RequestedPages int             `json:"requestedPages"`
	Status         Status          `json:"status"`
	Progress       int             `json:"progress"`
	Pages          []imagegen.Page `json:"pages"`
	Error          string          `json:"error,omitempty"`
	StartedAt      time.Time       `json:"startedAt,omitzero"`
	FinishedAt     time.Time       `json:"finishedAt,omitzero"`
}

// Duration is the wall time of a finished run, or zero.
func (r Run) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// CurrentPage is the 1-based page being generated, capped at RequestedPages.
func (r Run) CurrentPage() int {
	if r.RequestedPages == 0 {
		return 0
	}
	page := r.Progress*r.RequestedPages/100 + 1
	if page > r.RequestedPages {
		page = r.RequestedPages
	}
	return page
}

// Page finds a page by ID.
func (r Run) Page(id string) (imagegen.Page, bool) {
	for _, p := range r.Pages {
		if p.ID == id {
			return p, true
		}
	}
	return imagegen.Page{}, false
}

// clone returns a copy that shares no slice with r.
func (r Run) clone() Run {
	if r.Pages != nil {
		pages := make([]imagegen.Page, len(r.Pages))
		copy(pages, r.Pages)
		r.Pages = pages
	}
	return r
}

type eventKind int

const (
	evStart eventKind = iota
	evPageStarted
	evFail
	evSucceed
)

func (k eventKind) String() string {
	switch k {
	case evStart:
		return "start"
	case evPageStarted:
		return "page_started"
	case evFail:
		return "fail"
	case evSucceed:
		return "succeed"
	}
	return "unknown"
}

type event struct {
	kind    eventKind
	at      time.Time
	id      string
	request Request
	index   int
	pages   []imagegen.Page
	message string
}

// progressFor is floor(100*i/n).
func progressFor(i, n int) int {
	if n <= 0 {
		return 0
	}
	return 100 * i / n
}

// next computes the state after ev. It never mutates cur.
func next(cur Run, ev event) (Run, error) {
	invalid := func() (Run, error) {
		return cur, fmt.Errorf("%w: %s while %s", ErrInvalidTransition, ev.kind, cur.Status)
	}

	switch ev.kind {
	case evStart:
		if cur.Status == StatusRunning {
			return cur, ErrRunInProgress
		}
		return Run{
			ID:             ev.id,
			Request:        ev.request,
			RequestedPages: PageCount,
			Status:         StatusRunning,
			StartedAt:      ev.at,
		}, nil

	case evPageStarted:
		if cur.Status != StatusRunning || ev.index < 0 || ev.index >= cur.RequestedPages {
			return invalid()
		}
		progress := progressFor(ev.index, cur.RequestedPages)
		if progress < cur.Progress {
			return invalid()
		}
		out := cur.clone()
		out.Progress = progress
		return out, nil

	case evFail:
		if cur.Status != StatusRunning {
			return invalid()
		}
		out := cur.clone()
		out.Status = StatusFailed
		out.Pages = nil
		out.Error = ev.message
		if out.Error == "" {
			out.Error = DefaultFailureMessage
		}
		out.FinishedAt = ev.at
		return out, nil

	case evSucceed:
		if cur.Status != StatusRunning || len(ev.pages) != cur.RequestedPages {
			return invalid()
		}
		out := cur.clone()
		out.Status = StatusSucceeded
		out.Progress = 100
		out.Pages = make([]imagegen.Page, len(ev.pages))
		copy(out.Pages, ev.pages)
		out.FinishedAt = ev.at
		return out, nil
	}

	return invalid()
}
