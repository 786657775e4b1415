// Package metrics keeps in-memory statistics about finished book runs for
// the health endpoint. This file contains atom-level types with no behavior.
package metrics

import "time"

// RunSample is the outcome of one finished run. It never holds images.
type RunSample struct {
	RunID      string        `json:"run_id"`
	Quality    string        `json:"quality"`
	Status     string        `json:"status"`
	Pages      int           `json:"pages"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finished_at"`
	Error      string        `json:"error,omitempty"`
}

// QualityStats aggregates runs of one quality tier.
type QualityStats struct {
	Count       int64         `json:"count"`
	SuccessRate float64       `json:"success_rate"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// Snapshot is a point-in-time view of the store.
type Snapshot struct {
	Uptime    time.Duration            `json:"uptime"`
	TotalRuns int64                    `json:"total_runs"`
	Succeeded int64                    `json:"succeeded"`
	Failed    int64                    `json:"failed"`
	ByQuality map[string]*QualityStats `json:"by_quality"`
	Recent    []RunSample              `json:"recent,omitempty"`
}
