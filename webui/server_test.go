package webui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"dreamlines/book"
	"dreamlines/chat"
	"dreamlines/credential"
	"dreamlines/imagegen"
	"dreamlines/logging"
	"dreamlines/metrics"
	"dreamlines/pdfassembler"
	"dreamlines/shutdown"
)

func newTestLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.NewLogger(true, filepath.Join(t.TempDir(), "test.log"))
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	t.Cleanup(func() { _ = logger.Sync() })
	return logger
}

// fakeHost is a credential.Host with a fixed answer.
type fakeHost struct {
	available bool
	hasKey    bool
	selectErr error
}

func (h *fakeHost) Available() bool { return h.available }

func (h *fakeHost) HasSelectedKey(ctx context.Context) (bool, error) { return h.hasKey, nil }

func (h *fakeHost) OpenSelectKey(ctx context.Context) error {
	if h.selectErr != nil {
		return h.selectErr
	}
	h.hasKey = true
	return nil
}

func (h *fakeHost) APIKey() string { return "" }

// fakeGenerator returns a small PNG page per call unless generate is set.
type fakeGenerator struct {
	mu       sync.Mutex
	calls    int
	generate func(ctx context.Context, call int) (*imagegen.Page, error)
}

func (g *fakeGenerator) Generate(ctx context.Context, theme string, quality imagegen.Quality) (*imagegen.Page, error) {
	g.mu.Lock()
	g.calls++
	call := g.calls
	g.mu.Unlock()

	if g.generate != nil {
		return g.generate(ctx, call)
	}
	return testPage(call, theme), nil
}

func testPNG() []byte {
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for i := range 32 {
		img.Set(i, i, color.White)
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func testPage(call int, theme string) *imagegen.Page {
	return &imagegen.Page{
		ID:          fmt.Sprintf("page-%d", call),
		ImageData:   imagegen.DataURL("image/png", testPNG()),
		SourceTheme: theme,
	}
}

type testEnv struct {
	server  *Server
	http    *httptest.Server
	client  *http.Client
	gen     *fakeGenerator
	gate    *credential.Gate
	tracker *shutdown.OperationTracker
	metrics *metrics.Store
	replies []string
}

type envOptions struct {
	host     *fakeHost
	generate func(ctx context.Context, call int) (*imagegen.Page, error)
	skipGate bool
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	logger := newTestLogger(t)

	host := opts.host
	if host == nil {
		host = &fakeHost{available: true, hasKey: true}
	}
	gate := credential.NewGate(host, credential.Options{}, logger)
	if !opts.skipGate {
		gate.Check(context.Background())
	}

	env := &testEnv{
		gen:     &fakeGenerator{generate: opts.generate},
		gate:    gate,
		tracker: shutdown.NewOperationTracker(),
		metrics: metrics.NewStore(10, time.Now()),
	}
	var mu sync.Mutex
	sessions := chat.SessionFactoryFunc(func(ctx context.Context, instruction string) (chat.Session, error) {
		return chat.SessionFunc(func(ctx context.Context, text string) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			env.replies = append(env.replies, text)
			return "How about " + text + " in space?", nil
		}), nil
	})

	config := DefaultServerConfig()
	config.Version = "test"
	server, err := NewServer(config, Dependencies{
		Gate:      gate,
		Generator: env.gen,
		Sessions:  sessions,
		Assembler: pdfassembler.NewAssembler(pdfassembler.Config{MaxImagePixels: 256}, logger),
		Tracker:   env.tracker,
		Metrics:   env.metrics,
	}, logger)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	env.server = server
	env.http = httptest.NewServer(server.Handler())

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New() error = %v", err)
	}
	env.client = &http.Client{Jar: jar, Timeout: 10 * time.Second}

	t.Cleanup(func() {
		env.http.Close()
		_ = server.Shutdown(context.Background())
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.http.URL+path, rdr)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func (e *testEnv) waitForRun(t *testing.T, want string) RunView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_, data := e.do(t, http.MethodGet, "/api/books/current", nil)
		var view RunView
		if err := json.Unmarshal(data, &view); err != nil {
			t.Fatalf("decode run view: %v (%s)", err, data)
		}
		if view.Status == want {
			return view
		}
		if time.Now().After(deadline) {
			t.Fatalf("run status = %s, want %s", view.Status, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(DefaultServerConfig(), Dependencies{}, nil)
	if err == nil {
		t.Fatal("NewServer() with no dependencies should fail")
	}
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, data := env.do(t, http.MethodGet, "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["credential"] != "ready" || body["version"] != "test" {
		t.Errorf("health = %v", body)
	}
}

func TestServer_HealthReportsFinishedRuns(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, data := env.do(t, http.MethodPost, "/api/books", map[string]string{
		"theme":         "Robot City",
		"recipientName": "Ada",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start status = %d (%s)", resp.StatusCode, data)
	}
	env.waitForRun(t, "succeeded")

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, data := env.do(t, http.MethodGet, "/health", nil)
		var body struct {
			Runs metrics.Snapshot `json:"runs"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Runs.TotalRuns == 1 {
			if body.Runs.Succeeded != 1 || len(body.Runs.Recent) != 1 || body.Runs.Recent[0].Pages != book.PageCount {
				t.Errorf("runs = %+v", body.Runs)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("health never reported the run: %s", data)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestServer_IndexRendersGenerator(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, data := env.do(t, http.MethodGet, "/", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	page := string(data)
	for _, want := range []string{
		"Create Your Magic Coloring Book",
		"e.g., Space Dinosaurs, Underwater Princess, Robot City...",
		"Standard (1K)",
		"High Res (2K)",
		"Ultra HD (4K)",
		chat.Greeting,
		"Powered by Google Gemini 3 Pro",
	} {
		if !strings.Contains(page, want) {
			t.Errorf("page missing %q", want)
		}
	}

	u, _ := url.Parse(env.http.URL)
	found := false
	for _, c := range env.client.Jar.Cookies(u) {
		if c.Name == WorkspaceCookie {
			found = true
		}
	}
	if !found {
		t.Error("workspace cookie was not set")
	}
}

func TestServer_IndexShowsNoEnvironmentNote(t *testing.T) {
	env := newTestEnv(t, envOptions{host: &fakeHost{available: false}})

	_, data := env.do(t, http.MethodGet, "/", nil)
	if !strings.Contains(string(data), credential.NoEnvironmentNote) {
		t.Error("page should show the no-environment note")
	}
	if strings.Contains(string(data), "select-key-form") {
		t.Error("page should not offer key selection without an environment")
	}
}

func TestServer_GenerationBlockedUntilCredentialReady(t *testing.T) {
	env := newTestEnv(t, envOptions{host: &fakeHost{available: true}, skipGate: true})

	resp, _ := env.do(t, http.MethodPost, "/api/books", map[string]string{"theme": "Robots", "recipientName": "Ada"})
	if resp.StatusCode != http.StatusPreconditionFailed {
		t.Fatalf("status = %d, want 412", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodPost, "/api/chat", map[string]string{"text": "hi"})
	if resp.StatusCode != http.StatusPreconditionFailed {
		t.Fatalf("chat status = %d, want 412", resp.StatusCode)
	}
	if env.gen.calls != 0 {
		t.Errorf("generator called %d times", env.gen.calls)
	}

	resp, data := env.do(t, http.MethodPost, "/api/credential/check", nil)
	var state credential.State
	_ = json.Unmarshal(data, &state)
	if resp.StatusCode != http.StatusOK || state.Status != credential.StatusNeedsCredential {
		t.Fatalf("check = %d %+v", resp.StatusCode, state)
	}

	resp, data = env.do(t, http.MethodPost, "/api/credential/select", nil)
	_ = json.Unmarshal(data, &state)
	if resp.StatusCode != http.StatusOK || !state.Ready() {
		t.Fatalf("select = %d %+v", resp.StatusCode, state)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/books", map[string]string{"theme": "Robots", "recipientName": "Ada"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status after select = %d, want 202", resp.StatusCode)
	}
	env.waitForRun(t, "succeeded")
}

func TestServer_SelectFailureReportsConflict(t *testing.T) {
	env := newTestEnv(t, envOptions{
		host:     &fakeHost{available: true, selectErr: errors.New("dialog dismissed")},
		skipGate: true,
	})

	resp, data := env.do(t, http.MethodPost, "/api/credential/select", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	var state credential.State
	_ = json.Unmarshal(data, &state)
	if state.Ready() {
		t.Error("gate should not be ready after a failed selection")
	}
}

func TestServer_BookRunToPDF(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, data := env.do(t, http.MethodPost, "/api/books", map[string]string{
		"theme":         "Space Dinosaurs",
		"recipientName": "Leo",
		"quality":       "2K",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start status = %d (%s)", resp.StatusCode, data)
	}
	var started RunView
	if err := json.Unmarshal(data, &started); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if started.Status != "running" || started.ProgressLabel != "Generating Page 1 of 5..." {
		t.Errorf("started = %+v", started)
	}

	done := env.waitForRun(t, "succeeded")
	if len(done.Pages) != book.PageCount {
		t.Fatalf("pages = %d, want %d", len(done.Pages), book.PageCount)
	}
	if done.Progress != 100 || done.PDFURL == "" || done.Pages[0].Label != "Page 1" {
		t.Errorf("done = %+v", done)
	}
	if env.gen.calls != book.PageCount {
		t.Errorf("generator calls = %d", env.gen.calls)
	}

	resp, data = env.do(t, http.MethodGet, done.Pages[2].URL, nil)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("page image = %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !bytes.Equal(data, testPNG()) {
		t.Error("page image bytes differ from generated image")
	}

	resp, data = env.do(t, http.MethodGet, done.PDFURL, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pdf status = %d (%s)", resp.StatusCode, data)
	}
	if resp.Header.Get("Content-Type") != "application/pdf" {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(resp.Header.Get("Content-Disposition"), "Leo_Coloring_Book.pdf") {
		t.Errorf("Content-Disposition = %q", resp.Header.Get("Content-Disposition"))
	}
	n, err := pdfassembler.CountPages(data)
	if err != nil {
		t.Fatalf("CountPages() error = %v", err)
	}
	if n != book.PageCount+1 {
		t.Errorf("pdf pages = %d, want %d", n, book.PageCount+1)
	}

	// served from the document cache the second time
	resp, again := env.do(t, http.MethodGet, done.PDFURL, nil)
	if resp.StatusCode != http.StatusOK || !bytes.Equal(again, data) {
		t.Error("second download should return the cached document")
	}
}

func TestServer_StartBookValidation(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	tests := []struct {
		name string
		body map[string]string
	}{
		{"blank theme", map[string]string{"theme": "  ", "recipientName": "Leo"}},
		{"blank name", map[string]string{"theme": "Robots", "recipientName": ""}},
		{"unknown quality", map[string]string{"theme": "Robots", "recipientName": "Leo", "quality": "8K"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := env.do(t, http.MethodPost, "/api/books", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
	if env.gen.calls != 0 {
		t.Errorf("generator called %d times", env.gen.calls)
	}
}

func TestServer_SecondStartWhileRunningConflicts(t *testing.T) {
	release := make(chan struct{})
	env := newTestEnv(t, envOptions{
		generate: func(ctx context.Context, call int) (*imagegen.Page, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return testPage(call, "Robots"), nil
		},
	})
	body := map[string]string{"theme": "Robots", "recipientName": "Ada"}

	resp, _ := env.do(t, http.MethodPost, "/api/books", body)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first start = %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodPost, "/api/books", body)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second start = %d, want 409", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodGet, "/api/books/current/pdf", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("pdf while running = %d, want 409", resp.StatusCode)
	}
	if got := env.tracker.ActiveCount(); got != 1 {
		t.Errorf("tracked runs = %d, want 1", got)
	}

	close(release)
	env.waitForRun(t, "succeeded")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := env.tracker.Wait(ctx); err != nil {
		t.Errorf("tracker did not drain: %v", err)
	}
}

func TestServer_FailedRunDiscardsPages(t *testing.T) {
	env := newTestEnv(t, envOptions{
		generate: func(ctx context.Context, call int) (*imagegen.Page, error) {
			if call == 3 {
				return nil, errors.New("quota exceeded")
			}
			return testPage(call, "Robots"), nil
		},
	})

	resp, _ := env.do(t, http.MethodPost, "/api/books", map[string]string{"theme": "Robots", "recipientName": "Ada"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start = %d", resp.StatusCode)
	}
	failed := env.waitForRun(t, "failed")
	if failed.Error == "" {
		t.Error("failed run should carry a message")
	}
	if len(failed.Pages) != 0 {
		t.Errorf("pages = %d, want none", len(failed.Pages))
	}
	if failed.PDFURL != "" {
		t.Error("failed run should not offer a PDF")
	}
}

func TestServer_PageImageNotFound(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	resp, _ := env.do(t, http.MethodGet, "/api/books/current/pages/missing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestServer_ClosedTrackerRejectsRuns(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.tracker.Close()

	resp, _ := env.do(t, http.MethodPost, "/api/books", map[string]string{"theme": "Robots", "recipientName": "Ada"})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestServer_FormPostRedirects(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	form := url.Values{"theme": {"Jungle"}, "recipientName": {"Mia"}, "quality": {"low"}}
	resp, err := env.client.PostForm(env.http.URL+"/api/books", form)
	if err != nil {
		t.Fatalf("PostForm() error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/" {
		t.Fatalf("form post = %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}

	env.client.CheckRedirect = nil
	view := env.waitForRun(t, "succeeded")
	if view.Theme != "Jungle" || view.QualityLabel != imagegen.QualityLow.Label() {
		t.Errorf("run = %+v", view)
	}
}

func TestServer_ChatRoundTrip(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, data := env.do(t, http.MethodGet, "/api/chat", nil)
	var transcript chatResponse
	_ = json.Unmarshal(data, &transcript)
	if resp.StatusCode != http.StatusOK || transcript.Opened || len(transcript.Transcript) != 1 {
		t.Fatalf("initial chat = %d %+v", resp.StatusCode, transcript)
	}

	resp, data = env.do(t, http.MethodPost, "/api/chat/open", nil)
	_ = json.Unmarshal(data, &transcript)
	if resp.StatusCode != http.StatusOK || !transcript.Opened {
		t.Fatalf("open = %d %+v", resp.StatusCode, transcript)
	}

	_, data = env.do(t, http.MethodPost, "/api/chat", map[string]string{"text": "pirates"})
	var sent chatResponse
	if err := json.Unmarshal(data, &sent); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sent.Reply == nil || sent.Reply.Text != "How about pirates in space?" {
		t.Fatalf("reply = %+v", sent.Reply)
	}
	if len(sent.Transcript) != 3 || sent.Transcript[1].Speaker != chat.SpeakerUser {
		t.Errorf("transcript = %+v", sent.Transcript)
	}

	_, data = env.do(t, http.MethodPost, "/api/chat", map[string]string{"text": "   "})
	var blank chatResponse
	_ = json.Unmarshal(data, &blank)
	if blank.Reply != nil || len(blank.Transcript) != 3 {
		t.Errorf("blank send changed the transcript: %+v", blank)
	}
}

func TestServer_StaticAssets(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	tests := []struct {
		path       string
		wantStatus int
		wantType   string
	}{
		{"/static/css/app.css", http.StatusOK, "text/css; charset=utf-8"},
		{"/static/js/app.js", http.StatusOK, "application/javascript; charset=utf-8"},
		{"/static/templates/index.html", http.StatusNotFound, ""},
		{"/static/css/missing.css", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, _ := env.do(t, http.MethodGet, tt.path, nil)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantType != "" && resp.Header.Get("Content-Type") != tt.wantType {
				t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
			}
		})
	}
}

func TestServer_WorkspacesAreIsolated(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, _ := env.do(t, http.MethodPost, "/api/books", map[string]string{"theme": "Robots", "recipientName": "Ada"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start = %d", resp.StatusCode)
	}
	env.waitForRun(t, "succeeded")

	other := &http.Client{Timeout: 5 * time.Second}
	res, err := other.Get(env.http.URL + "/api/books/current")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer res.Body.Close()
	var view RunView
	if err := json.NewDecoder(res.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Status != "idle" || len(view.Pages) != 0 {
		t.Errorf("fresh workspace sees %+v", view)
	}
	if got := env.server.Workspaces().Count(); got != 2 {
		t.Errorf("workspaces = %d, want 2", got)
	}
}
