package store

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"

	"github.com/homoluden/fedkf-ga/telemetry"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]Run
	history     map[string][]telemetry.GenerationStats
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]Run)
	s.history = make(map[string][]telemetry.GenerationStats)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.New("store is not initialized")
	}
	run.VersionedRecord = currentVersion()
	run.BestGenes = slices.Clone(run.BestGenes)
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	run.BestGenes = slices.Clone(run.BestGenes)
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]Run, 0, len(s.runs))
	for _, run := range s.runs {
		run.BestGenes = slices.Clone(run.BestGenes)
		runs = append(runs, run)
	}
	sortRuns(runs)
	return runs, nil
}

func (s *MemoryStore) AppendGeneration(_ context.Context, runID string, stats telemetry.GenerationStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.New("store is not initialized")
	}
	hist := s.history[runID]
	// A repeated generation replaces the earlier row, matching the sqlite upsert.
	i, found := sort.Find(len(hist), func(i int) int { return stats.Generation - hist[i].Generation })
	if found {
		hist[i] = stats
		return nil
	}
	s.history[runID] = slices.Insert(hist, i, stats)
	return nil
}

func (s *MemoryStore) GetHistory(_ context.Context, runID string) ([]telemetry.GenerationStats, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hist, ok := s.history[runID]
	return slices.Clone(hist), ok, nil
}

// sortRuns orders runs oldest first, ties broken by ID.
func sortRuns(runs []Run) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.Before(runs[j].StartedAt)
		}
		return runs[i].ID < runs[j].ID
	})
}
