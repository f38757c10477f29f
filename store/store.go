// Package store keeps the history of optimization runs: one record per run
// with its configuration and best candidate, plus the statistics of every
// generation.
package store

import (
	"context"
	"time"

	"github.com/homoluden/fedkf-ga/telemetry"
)

// Run describes one optimization run.
type Run struct {
	VersionedRecord
	ID          string    `json:"id"`
	Seed        uint64    `json:"seed"`
	Config      string    `json:"config,omitempty"` // YAML of the effective configuration
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
	Generations int       `json:"generations"`
	BestFitness float64   `json:"best_fitness"`
	BestGenes   []float64 `json:"best_genes,omitempty"`
}

// Finished reports whether the run completed.
func (r Run) Finished() bool { return !r.FinishedAt.IsZero() }

// Store persists runs and their per-generation statistics. Get methods
// report a missing record with ok == false and a nil error.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (Run, bool, error)
	ListRuns(ctx context.Context) ([]Run, error)
	AppendGeneration(ctx context.Context, runID string, stats telemetry.GenerationStats) error
	GetHistory(ctx context.Context, runID string) ([]telemetry.GenerationStats, bool, error)
}
