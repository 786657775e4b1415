package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dreamlines/book"
	"dreamlines/imagegen"
)

func finishedRun(id string, status book.Status, quality imagegen.Quality, d time.Duration) book.Run {
	start := time.Date(2026, time.October, 17, 9, 0, 0, 0, time.UTC)
	run := book.Run{
		ID:             id,
		Request:        book.Request{Theme: "Robots", RecipientName: "Ada", Quality: quality},
		RequestedPages: book.PageCount,
		Status:         status,
		StartedAt:      start,
		FinishedAt:     start.Add(d),
	}
	if status == book.StatusSucceeded {
		run.Pages = make([]imagegen.Page, book.PageCount)
	} else {
		run.Error = "quota exceeded"
	}
	return run
}

func TestStore_RecordRun(t *testing.T) {
	t.Run("aggregates by quality", func(t *testing.T) {
		store := NewStore(10, time.Now())
		ctx := context.Background()

		store.RecordRun(ctx, finishedRun("a", book.StatusSucceeded, imagegen.QualityLow, 10*time.Second))
		store.RecordRun(ctx, finishedRun("b", book.StatusFailed, imagegen.QualityLow, 20*time.Second))
		store.RecordRun(ctx, finishedRun("c", book.StatusSucceeded, imagegen.QualityHigh, 60*time.Second))

		snap := store.Snapshot(0)
		if snap.TotalRuns != 3 || snap.Succeeded != 2 || snap.Failed != 1 {
			t.Errorf("totals = %d/%d/%d", snap.TotalRuns, snap.Succeeded, snap.Failed)
		}
		low := snap.ByQuality["low"]
		if low == nil || low.Count != 2 || low.SuccessRate != 50 || low.AvgDuration != 15*time.Second {
			t.Errorf("low = %+v", low)
		}
		if high := snap.ByQuality["high"]; high == nil || high.SuccessRate != 100 {
			t.Errorf("high = %+v", high)
		}
		if snap.Recent != nil {
			t.Errorf("Snapshot(0) returned %d samples", len(snap.Recent))
		}
	})

	t.Run("ignores running snapshots", func(t *testing.T) {
		store := NewStore(10, time.Now())
		store.RecordRun(context.Background(), book.Run{ID: "x", Status: book.StatusRunning})
		if snap := store.Snapshot(5); snap.TotalRuns != 0 || len(snap.Recent) != 0 {
			t.Errorf("running run was recorded: %+v", snap)
		}
	})

	t.Run("keeps newest samples first and wraps", func(t *testing.T) {
		store := NewStore(3, time.Now())
		for _, id := range []string{"1", "2", "3", "4", "5"} {
			store.RecordRun(context.Background(), finishedRun(id, book.StatusSucceeded, imagegen.QualityLow, time.Second))
		}
		snap := store.Snapshot(10)
		if len(snap.Recent) != 3 {
			t.Fatalf("recent = %d, want 3", len(snap.Recent))
		}
		for i, want := range []string{"5", "4", "3"} {
			if snap.Recent[i].RunID != want {
				t.Errorf("recent[%d] = %s, want %s", i, snap.Recent[i].RunID, want)
			}
		}
		if snap.TotalRuns != 5 {
			t.Errorf("TotalRuns = %d, want 5", snap.TotalRuns)
		}
	})

	t.Run("zero capacity uses default", func(t *testing.T) {
		store := NewStore(0, time.Now())
		if len(store.history) != DefaultHistoryCapacity {
			t.Errorf("capacity = %d", len(store.history))
		}
	})
}

func TestStore_Uptime(t *testing.T) {
	start := time.Date(2026, time.October, 17, 9, 0, 0, 0, time.UTC)
	store := NewStore(5, start)
	store.now = func() time.Time { return start.Add(90 * time.Minute) }
	if got := store.Snapshot(0).Uptime; got != 90*time.Minute {
		t.Errorf("Uptime = %v", got)
	}
}

func TestStore_ConcurrentRecord(t *testing.T) {
	store := NewStore(50, time.Now())
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := book.StatusSucceeded
			if i%2 == 0 {
				status = book.StatusFailed
			}
			store.RecordRun(context.Background(), finishedRun("r", status, imagegen.QualityMedium, time.Second))
			store.Snapshot(5)
		}()
	}
	wg.Wait()

	snap := store.Snapshot(0)
	if snap.TotalRuns != 20 || snap.Succeeded != 10 || snap.Failed != 10 {
		t.Errorf("totals = %+v", snap)
	}
}

type recorderFunc func(ctx context.Context, run book.Run) error

func (f recorderFunc) RecordRun(ctx context.Context, run book.Run) error { return f(ctx, run) }

func TestTee(t *testing.T) {
	t.Run("nil recorders are dropped", func(t *testing.T) {
		if Tee(nil, nil) != nil {
			t.Error("Tee of nothing should be nil")
		}
		store := NewStore(1, time.Now())
		if Tee(nil, store) != book.Recorder(store) {
			t.Error("Tee of one recorder should return it unchanged")
		}
	})

	t.Run("every recorder runs and errors join", func(t *testing.T) {
		boom := errors.New("disk full")
		var calls int
		failing := recorderFunc(func(ctx context.Context, run book.Run) error {
			calls++
			return boom
		})
		store := NewStore(5, time.Now())

		err := Tee(failing, store).RecordRun(context.Background(), finishedRun("a", book.StatusSucceeded, imagegen.QualityLow, time.Second))
		if !errors.Is(err, boom) {
			t.Errorf("error = %v, want %v", err, boom)
		}
		if calls != 1 || store.Snapshot(0).TotalRuns != 1 {
			t.Errorf("calls = %d, store runs = %d", calls, store.Snapshot(0).TotalRuns)
		}
	})
}
