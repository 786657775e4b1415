package webui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"dreamlines/book"
	"dreamlines/chat"
	"dreamlines/credential"
	"dreamlines/imagegen"
	"dreamlines/pdfassembler"
	"dreamlines/shutdown"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

var templateFuncs = template.FuncMap{
	"isUser": func(s chat.Speaker) bool { return s == chat.SpeakerUser },
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// decodeBody reads a JSON body, or form fields when the request is a plain
// HTML form post.
func decodeBody(r *http.Request, dst any, formFields func(get func(string) string)) error {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" || ct == "multipart/form-data" {
		if err := r.ParseForm(); err != nil {
			return err
		}
		formFields(r.PostForm.Get)
		return nil
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func isFormPost(r *http.Request) bool {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return ct == "application/x-www-form-urlencoded" || ct == "multipart/form-data"
}

// requireCredential answers 412 while the gate is not Ready.
func (s *Server) requireCredential(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.deps.Gate.Require(); err != nil {
			s.writeError(w, http.StatusPreconditionFailed, "credential_required",
				"Select an API key before using DreamLines.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) workspace(w http.ResponseWriter, r *http.Request) (*Workspace, bool) {
	ws, err := s.workspaces.Resolve(w, r)
	if err != nil {
		s.logger.Error("Failed to resolve workspace", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "workspace_error", "Could not open a workspace.")
		return nil, false
	}
	return ws, true
}

type qualityOption struct {
	Value    string
	Label    string
	Selected bool
}

type pageData struct {
	Credential credential.State
	Run        RunView
	Transcript []chat.Message
	Qualities  []qualityOption
	Version    string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}

	run := ws.Book.Snapshot()
	selected := run.Request.Quality
	if selected == "" {
		selected = imagegen.QualityLow
	}
	options := make([]qualityOption, 0, len(imagegen.Qualities))
	for _, q := range imagegen.Qualities {
		options = append(options, qualityOption{Value: string(q), Label: q.Label(), Selected: q == selected})
	}

	data := pageData{
		Credential: s.deps.Gate.State(),
		Run:        NewRunView(run),
		Transcript: ws.Chat.Transcript(),
		Qualities:  options,
		Version:    s.config.Version,
	}

	var buf bytes.Buffer
	if err := s.page.ExecuteTemplate(&buf, "index.html", data); err != nil {
		s.logger.Error("Failed to render page", zap.Error(err))
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

// healthRecentRuns is how many finished runs /health lists.
const healthRecentRuns = 5

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":     "ok",
		"version":    s.config.Version,
		"credential": s.deps.Gate.State().Status,
		"workspaces": s.workspaces.Count(),
	}
	if s.deps.Metrics != nil {
		health["runs"] = s.deps.Metrics.Snapshot(healthRecentRuns)
	}
	s.writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	initial := NewInitialMessage(InitialData{
		Credential: s.deps.Gate.State(),
		Run:        NewRunView(ws.Book.Snapshot()),
	})
	ws.Broadcaster.HandleConnection(w, r, initial)
}

// Credential gate

func (s *Server) handleCredentialState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Gate.State())
}

func (s *Server) handleCredentialCheck(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Gate.Check(r.Context()))
}

func (s *Server) handleCredentialSelect(w http.ResponseWriter, r *http.Request) {
	state, err := s.deps.Gate.Select(r.Context())
	if isFormPost(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	status := http.StatusOK
	if err != nil && !state.Ready() {
		status = http.StatusConflict
	}
	s.writeJSON(w, status, state)
}

// Book

type startBookRequest struct {
	Theme         string `json:"theme"`
	RecipientName string `json:"recipientName"`
	Quality       string `json:"quality"`
}

func (s *Server) handleStartBook(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}

	var body startBookRequest
	err := decodeBody(r, &body, func(get func(string) string) {
		body.Theme = get("theme")
		body.RecipientName = get("recipientName")
		body.Quality = get("quality")
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_body", "Request body could not be read.")
		return
	}

	quality := imagegen.QualityLow
	if strings.TrimSpace(body.Quality) != "" {
		quality, err = imagegen.ParseQuality(body.Quality)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid_quality", err.Error())
			return
		}
	}

	req, err := book.NewRequest(body.Theme, body.RecipientName, quality)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "Please enter a theme and a name.")
		return
	}

	tracker := s.deps.Tracker
	if tracker != nil && !tracker.Start() {
		s.writeError(w, http.StatusServiceUnavailable, "shutting_down", shutdown.ErrTrackerClosed.Error())
		return
	}

	run, err := ws.Book.Start(s.lifetime, req)
	if err != nil {
		if tracker != nil {
			tracker.Done()
		}
		if errors.Is(err, book.ErrRunInProgress) {
			s.writeError(w, http.StatusConflict, "run_in_progress", "A coloring book is already being generated.")
			return
		}
		s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if tracker != nil {
		go func() {
			defer tracker.Done()
			ws.Book.Wait(context.Background())
		}()
	}

	if isFormPost(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.writeJSON(w, http.StatusAccepted, NewRunView(run))
}

func (s *Server) handleCurrentBook(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, NewRunView(ws.Book.Snapshot()))
}

func (s *Server) handlePageImage(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}

	page, found := ws.Book.Snapshot().Page(chi.URLParam(r, "id"))
	if !found {
		s.writeError(w, http.StatusNotFound, "page_not_found", "No such page in the current book.")
		return
	}
	mimeType, data, err := page.Decode()
	if err != nil {
		s.logger.Warn("Stored page is not a valid data URL", zap.String("page_id", page.ID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "invalid_page", "Page image is unreadable.")
		return
	}

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if r.URL.Query().Get("download") != "" {
		exts, _ := mime.ExtensionsByType(mimeType)
		ext := ".png"
		if len(exts) > 0 {
			ext = exts[0]
		}
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": "coloring-page-" + page.ID + ext}))
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleDownloadPDF(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}

	run := ws.Book.Snapshot()
	if run.Status != book.StatusSucceeded {
		s.writeError(w, http.StatusConflict, "book_not_ready", "The coloring book is not ready yet.")
		return
	}

	var doc *pdfassembler.Document
	if cached, found := s.documents.Get(run.ID); found {
		doc = cached.(*pdfassembler.Document)
	} else {
		assembled, err := s.deps.Assembler.Assemble(run.Pages, run.Request.Theme, run.Request.RecipientName)
		if err != nil {
			s.logger.Error("Failed to assemble PDF", zap.String("run_id", run.ID), zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "pdf_failed", "Could not build the PDF.")
			return
		}
		doc = assembled
		s.documents.SetDefault(run.ID, doc)
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Bytes)))
	if len(doc.Warnings) > 0 {
		w.Header().Set("X-DreamLines-Warnings", strconv.Itoa(len(doc.Warnings)))
	}
	w.WriteHeader(http.StatusOK)
	w.Write(doc.Bytes)
}

// Chat

type chatResponse struct {
	Opened     bool           `json:"opened"`
	Transcript []chat.Message `json:"transcript"`
	Reply      *chat.Message  `json:"reply,omitempty"`
}

func (s *Server) handleChatTranscript(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, chatResponse{Opened: ws.Chat.Opened(), Transcript: ws.Chat.Transcript()})
}

func (s *Server) handleChatOpen(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	// A failed open is retried on the first send.
	if err := ws.Chat.Open(r.Context()); err != nil {
		s.logger.Warn("Chat session could not be opened", zap.Error(err))
	}
	s.writeJSON(w, http.StatusOK, chatResponse{Opened: ws.Chat.Opened(), Transcript: ws.Chat.Transcript()})
}

type chatSendRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}

	var body chatSendRequest
	err := decodeBody(r, &body, func(get func(string) string) {
		body.Text = get("text")
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_body", "Request body could not be read.")
		return
	}

	reply, sent := ws.Chat.Send(r.Context(), body.Text)
	if isFormPost(r) {
		http.Redirect(w, r, "/#chat", http.StatusSeeOther)
		return
	}

	resp := chatResponse{Opened: ws.Chat.Opened(), Transcript: ws.Chat.Transcript()}
	if sent {
		resp.Reply = &reply
	}
	s.writeJSON(w, http.StatusOK, resp)
}
