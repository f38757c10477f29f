package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/homoluden/fedkf-ga/genetic"
	"github.com/homoluden/fedkf-ga/search"
)

// SnapshotVersion is incremented when the format changes.
const SnapshotVersion = 1

// Snapshot holds the population of one generation, enough to inspect or
// replay any candidate of it.
type Snapshot struct {
	Version     int    `json:"version"`
	Seed        uint64 `json:"seed"`
	Generation  int    `json:"generation"`
	Evaluations int64  `json:"evaluations"`

	Population []CandidateState `json:"population"` // ascending by fitness

	Bookmark *Bookmark `json:"bookmark,omitempty"`
}

// CandidateState is the JSON form of a candidate. Unevaluated candidates
// have no fitness.
type CandidateState struct {
	Fitness *float64  `json:"fitness,omitempty"`
	Genes   []float64 `json:"genes"`
}

// NewSnapshot captures a search snapshot.
func NewSnapshot(seed uint64, s search.Snapshot, bookmark *Bookmark) *Snapshot {
	pop := make([]CandidateState, len(s.Population))
	for i, c := range s.Population {
		pop[i] = candidateState(c)
	}
	return &Snapshot{
		Version:     SnapshotVersion,
		Seed:        seed,
		Generation:  s.Generation,
		Evaluations: s.Evaluations,
		Population:  pop,
		Bookmark:    bookmark,
	}
}

func candidateState(c genetic.Candidate) CandidateState {
	cs := CandidateState{Genes: append([]float64(nil), c.Genes...)}
	if v, ok := c.Fitness.Value(); ok {
		cs.Fitness = &v
	}
	return cs
}

// Candidate converts the state back to a candidate.
func (cs CandidateState) Candidate() genetic.Candidate {
	c := genetic.Candidate{Genes: append([]float64(nil), cs.Genes...), Fitness: genetic.Unevaluated()}
	if cs.Fitness != nil {
		c.Fitness = genetic.Evaluated(*cs.Fitness)
	}
	return c
}

// Best returns the fittest candidate of the snapshot.
func (s *Snapshot) Best() (genetic.Candidate, bool) {
	if len(s.Population) == 0 {
		return genetic.Candidate{}, false
	}
	return s.Population[len(s.Population)-1].Candidate(), true
}

// SaveSnapshot writes a snapshot to disk.
// Returns the filepath where it was saved.
func SaveSnapshot(snapshot *Snapshot, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	name := fmt.Sprintf("snapshot_%d", snapshot.Generation)
	if snapshot.Bookmark != nil {
		// Sanitize bookmark type for filename
		sanitized := strings.ReplaceAll(string(snapshot.Bookmark.Type), " ", "_")
		name = fmt.Sprintf("snapshot_%d_%s", snapshot.Generation, sanitized)
	}
	name += ".json"

	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	return path, nil
}

// LoadSnapshot reads a snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snapshot.Version != SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snapshot.Version)
	}

	return &snapshot, nil
}
