package store

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/homoluden/fedkf-ga/genetic"
	"github.com/homoluden/fedkf-ga/telemetry"
)

// RunRecorder binds a store to one run. It implements telemetry.StatsSink
// so the collector can stream generations into the store.
type RunRecorder struct {
	ctx   context.Context
	store Store
	run   Run
}

var _ telemetry.StatsSink = (*RunRecorder)(nil)

// NewRunRecorder saves a new run record and returns a recorder for it.
// An empty run.ID gets a random UUID; a zero StartedAt gets the current time.
func NewRunRecorder(ctx context.Context, s Store, run Run) (*RunRecorder, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if err := s.SaveRun(ctx, run); err != nil {
		return nil, err
	}
	return &RunRecorder{ctx: ctx, store: s, run: run}, nil
}

// RunID returns the identifier of the recorded run.
func (r *RunRecorder) RunID() string { return r.run.ID }

// RecordGeneration implements telemetry.StatsSink.
func (r *RunRecorder) RecordGeneration(stats telemetry.GenerationStats) error {
	if err := r.store.AppendGeneration(r.ctx, r.run.ID, stats); err != nil {
		return err
	}
	r.run.Generations = max(r.run.Generations, stats.Generation+1)
	return nil
}

// Finish stores the best candidate and marks the run finished.
func (r *RunRecorder) Finish(best genetic.Candidate) error {
	r.run.FinishedAt = time.Now().UTC()
	r.run.BestFitness = best.Fitness.OrZero()
	r.run.BestGenes = slices.Clone(best.Genes)
	return r.store.SaveRun(r.ctx, r.run)
}
