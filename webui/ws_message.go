package webui

import (
	"fmt"
	"time"

	"dreamlines/book"
	"dreamlines/credential"
)

// Message types pushed over /ws.
const (
	// MessageTypeInitial carries the workspace state right after connecting.
	MessageTypeInitial = "initial"

	// MessageTypeRunUpdate carries a run snapshot after every transition.
	MessageTypeRunUpdate = "run_update"

	// MessageTypeError carries a server-side problem the page should show.
	MessageTypeError = "error"
)

// WSMessage is the envelope for every websocket message.
type WSMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// NewWSMessage stamps a message with the current time.
func NewWSMessage(msgType string, data any) WSMessage {
	return WSMessage{Type: msgType, Timestamp: time.Now(), Data: data}
}

// PageView is a gallery entry. Image bytes are fetched from URL.
type PageView struct {
	ID     string `json:"id"`
	Number int    `json:"number"`
	Label  string `json:"label"`
	URL    string `json:"url"`
}

// RunView is the browser-facing projection of a book.Run. It never carries
// image payloads.
type RunView struct {
	ID             string     `json:"id,omitempty"`
	Status         string     `json:"status"`
	Progress       int        `json:"progress"`
	ProgressLabel  string     `json:"progressLabel,omitempty"`
	RequestedPages int        `json:"requestedPages"`
	Theme          string     `json:"theme,omitempty"`
	RecipientName  string     `json:"recipientName,omitempty"`
	Quality        string     `json:"quality,omitempty"`
	QualityLabel   string     `json:"qualityLabel,omitempty"`
	Error          string     `json:"error,omitempty"`
	Duration       string     `json:"duration,omitempty"`
	Pages          []PageView `json:"pages"`
	PDFURL         string     `json:"pdfUrl,omitempty"`
}

// NewRunView projects run for the page.
func NewRunView(run book.Run) RunView {
	view := RunView{
		ID:             run.ID,
		Status:         string(run.Status),
		Progress:       run.Progress,
		RequestedPages: run.RequestedPages,
		Theme:          run.Request.Theme,
		RecipientName:  run.Request.RecipientName,
		Error:          run.Error,
		Pages:          []PageView{},
	}
	if run.Request.Quality != "" {
		view.Quality = string(run.Request.Quality)
		view.QualityLabel = run.Request.Quality.Label()
	}
	if run.Status == book.StatusRunning {
		view.ProgressLabel = ProgressLabel(run)
	}
	if d := run.Duration(); d > 0 {
		view.Duration = FormatDuration(d)
	}
	for i, p := range run.Pages {
		view.Pages = append(view.Pages, PageView{
			ID:     p.ID,
			Number: i + 1,
			Label:  fmt.Sprintf("Page %d", i+1),
			URL:    "/api/books/current/pages/" + p.ID,
		})
	}
	if run.Status == book.StatusSucceeded {
		view.PDFURL = "/api/books/current/pdf"
	}
	return view
}

// ProgressLabel is the text shown under the progress bar.
//
// Example:
//
//	ProgressLabel(run) // "Generating Page 3 of 5..."
func ProgressLabel(run book.Run) string {
	return fmt.Sprintf("Generating Page %d of %d...", run.CurrentPage(), run.RequestedPages)
}

// InitialData is the snapshot sent when a websocket connects.
type InitialData struct {
	Credential credential.State `json:"credential"`
	Run        RunView          `json:"run"`
}

// NewRunUpdateMessage wraps a run snapshot.
func NewRunUpdateMessage(run book.Run) WSMessage {
	return NewWSMessage(MessageTypeRunUpdate, NewRunView(run))
}

// NewInitialMessage wraps the connect-time snapshot.
func NewInitialMessage(data InitialData) WSMessage {
	return NewWSMessage(MessageTypeInitial, data)
}

// ErrorCodeRunFailed marks an error message for a book run that failed.
const ErrorCodeRunFailed = "run_failed"

// ErrorData is the payload of an error message.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorMessage creates an error message.
func NewErrorMessage(code, message string) WSMessage {
	return NewWSMessage(MessageTypeError, ErrorData{Code: code, Message: message})
}
