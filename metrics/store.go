package metrics

import (
	"context"
	"sync"
	"time"

	"dreamlines/book"
)

// DefaultHistoryCapacity is the number of recent samples kept.
const DefaultHistoryCapacity = 100

// Store is the in-memory organism behind the health endpoint. It composes:
//   - a ring buffer of recent RunSamples
//   - running totals and per-quality aggregates
//   - sync.RWMutex for thread-safety
//
// Usage:
//
//	store := metrics.NewStore(metrics.DefaultHistoryCapacity, time.Now())
//	recorder := metrics.Tee(store, historyRepository)
//	snap := store.Snapshot(10)
type Store struct {
	mu sync.RWMutex

	history []RunSample
	head    int
	size    int

	total     int64
	succeeded int64
	failed    int64
	byQuality map[string]*qualityTotals

	startTime time.Time
	now       func() time.Time
}

type qualityTotals struct {
	count         int64
	succeeded     int64
	totalDuration time.Duration
}

var _ Collector = (*Store)(nil)

// NewStore creates a store keeping capacity recent samples. Uptime is
// measured from startTime.
func NewStore(capacity int, startTime time.Time) *Store {
	if capacity < 1 {
		capacity = DefaultHistoryCapacity
	}
	return &Store{
		history:   make([]RunSample, capacity),
		byQuality: make(map[string]*qualityTotals),
		startTime: startTime,
		now:       time.Now,
	}
}

// RecordRun adds a finished run. Runs that are not terminal are ignored.
func (s *Store) RecordRun(ctx context.Context, run book.Run) error {
	if !run.Status.Terminal() {
		return nil
	}
	sample := RunSample{
		RunID:      run.ID,
		Quality:    string(run.Request.Quality),
		Status:     string(run.Status),
		Pages:      len(run.Pages),
		Duration:   run.Duration(),
		FinishedAt: run.FinishedAt,
		Error:      run.Error,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[s.head] = sample
	s.head = (s.head + 1) % len(s.history)
	if s.size < len(s.history) {
		s.size++
	}

	s.total++
	q, ok := s.byQuality[sample.Quality]
	if !ok {
		q = &qualityTotals{}
		s.byQuality[sample.Quality] = q
	}
	q.count++
	q.totalDuration += sample.Duration
	if run.Status == book.StatusSucceeded {
		s.succeeded++
		q.succeeded++
	} else {
		s.failed++
	}
	return nil
}

// Snapshot returns the aggregates and up to recent samples, newest first.
func (s *Store) Snapshot(recent int) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Uptime:    s.now().Sub(s.startTime),
		TotalRuns: s.total,
		Succeeded: s.succeeded,
		Failed:    s.failed,
		ByQuality: make(map[string]*QualityStats, len(s.byQuality)),
	}
	for quality, q := range s.byQuality {
		snap.ByQuality[quality] = &QualityStats{
			Count:       q.count,
			SuccessRate: float64(q.succeeded) / float64(q.count) * 100,
			AvgDuration: q.totalDuration / time.Duration(q.count),
		}
	}

	if recent > s.size {
		recent = s.size
	}
	if recent > 0 {
		snap.Recent = make([]RunSample, recent)
		for i := range recent {
			idx := (s.head - 1 - i + len(s.history)) % len(s.history)
			snap.Recent[i] = s.history[idx]
		}
	}
	return snap
}
