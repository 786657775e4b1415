package book

import (
	"errors"
	"testing"
	"time"

	"dreamlines/imagegen"
)

func testRequest() Request {
	return Request{Theme: "Space Dinosaurs", RecipientName: "Leo", Quality: imagegen.QualityMedium}
}

func fivePages() []imagegen.Page {
	pages := make([]imagegen.Page, PageCount)
	for i := range pages {
		pages[i] = imagegen.Page{ID: string(rune('a' + i)), ImageData: "data:image/png;base64,AA==", SourceTheme: "Space Dinosaurs"}
	}
	return pages
}

func TestNext_StartResetsRun(t *testing.T) {
	prev := Run{Status: StatusFailed, Progress: 40, Error: "boom", RequestedPages: PageCount}
	at := time.Unix(100, 0)

	got, err := next(prev, event{kind: evStart, at: at, id: "run-1", request: testRequest()})
	if err != nil {
		t.Fatalf("next() error = %v", err)
	}
	if got.Status != StatusRunning || got.Progress != 0 || got.Error != "" || len(got.Pages) != 0 {
		t.Errorf("start did not reset run: %+v", got)
	}
	if got.ID != "run-1" || !got.StartedAt.Equal(at) || got.RequestedPages != PageCount {
		t.Errorf("start metadata wrong: %+v", got)
	}
}

func TestNext_StartWhileRunning(t *testing.T) {
	running := Run{Status: StatusRunning, RequestedPages: PageCount}
	if _, err := next(running, event{kind: evStart}); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("error = %v, want ErrRunInProgress", err)
	}
}

func TestNext_ProgressFloors(t *testing.T) {
	run := Run{Status: StatusRunning, RequestedPages: PageCount}
	want := []int{0, 20, 40, 60, 80}

	for i, w := range want {
		var err error
		run, err = next(run, event{kind: evPageStarted, index: i})
		if err != nil {
			t.Fatalf("page %d: %v", i, err)
		}
		if run.Progress != w {
			t.Errorf("page %d progress = %d, want %d", i, run.Progress, w)
		}
	}
}

func TestNext_ProgressNeverDecreases(t *testing.T) {
	run := Run{Status: StatusRunning, RequestedPages: PageCount, Progress: 60}
	if _, err := next(run, event{kind: evPageStarted, index: 1}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("error = %v, want ErrInvalidTransition", err)
	}
}

func TestNext_Succeed(t *testing.T) {
	run := Run{Status: StatusRunning, RequestedPages: PageCount, Progress: 80}

	got, err := next(run, event{kind: evSucceed, pages: fivePages()})
	if err != nil {
		t.Fatalf("next() error = %v", err)
	}
	if got.Status != StatusSucceeded || got.Progress != 100 || len(got.Pages) != PageCount {
		t.Errorf("succeed = %+v", got)
	}

	if _, err := next(run, event{kind: evSucceed, pages: fivePages()[:4]}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("succeed with 4 pages error = %v, want ErrInvalidTransition", err)
	}
}

func TestNext_FailDiscardsPages(t *testing.T) {
	run := Run{Status: StatusRunning, RequestedPages: PageCount, Progress: 40}

	got, err := next(run, event{kind: evFail, message: "quota exceeded"})
	if err != nil {
		t.Fatalf("next() error = %v", err)
	}
	if got.Status != StatusFailed || got.Error != "quota exceeded" || len(got.Pages) != 0 {
		t.Errorf("fail = %+v", got)
	}

	got, _ = next(run, event{kind: evFail})
	if got.Error != DefaultFailureMessage {
		t.Errorf("empty message = %q, want %q", got.Error, DefaultFailureMessage)
	}
}

func TestNext_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		run  Run
		ev   event
	}{
		{"page while idle", Run{Status: StatusIdle, RequestedPages: PageCount}, event{kind: evPageStarted}},
		{"page past end", Run{Status: StatusRunning, RequestedPages: PageCount}, event{kind: evPageStarted, index: PageCount}},
		{"fail while idle", Run{Status: StatusIdle}, event{kind: evFail}},
		{"fail after success", Run{Status: StatusSucceeded}, event{kind: evFail}},
		{"succeed while failed", Run{Status: StatusFailed, RequestedPages: PageCount}, event{kind: evSucceed, pages: fivePages()}},
		{"unknown event", Run{Status: StatusRunning}, event{kind: eventKind(99)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := next(tt.run, tt.ev)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("error = %v, want ErrInvalidTransition", err)
			}
			if got.Status != tt.run.Status {
				t.Errorf("status changed to %s on rejected event", got.Status)
			}
		})
	}
}

func TestRun_CurrentPage(t *testing.T) {
	tests := []struct {
		progress int
		want     int
	}{
		{0, 1}, {20, 2}, {40, 3}, {60, 4}, {80, 5}, {100, 5},
	}
	for _, tt := range tests {
		run := Run{RequestedPages: PageCount, Progress: tt.progress}
		if got := run.CurrentPage(); got != tt.want {
			t.Errorf("CurrentPage() at %d%% = %d, want %d", tt.progress, got, tt.want)
		}
	}
}

func TestRun_CloneIsIndependent(t *testing.T) {
	run := Run{Pages: fivePages()}
	cp := run.clone()
	cp.Pages[0].ID = "changed"
	if run.Pages[0].ID == "changed" {
		t.Error("clone shares its pages slice")
	}
}

func TestNewRequest(t *testing.T) {
	req, err := NewRequest("  Ocean Friends ", " Mia ", imagegen.QualityLow)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if req.Theme != "Ocean Friends" || req.RecipientName != "Mia" {
		t.Errorf("NewRequest() = %+v, want trimmed fields", req)
	}

	bad := []struct {
		theme, name string
		quality     imagegen.Quality
	}{
		{"", "Mia", imagegen.QualityLow},
		{"Ocean", "   ", imagegen.QualityLow},
		{"Ocean", "Mia", imagegen.Quality("huge")},
	}
	for _, b := range bad {
		if _, err := NewRequest(b.theme, b.name, b.quality); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("NewRequest(%q, %q, %q) error = %v, want ErrInvalidRequest", b.theme, b.name, b.quality, err)
		}
	}
}
