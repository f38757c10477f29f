package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/homoluden/fedkf-ga/genetic"
)

// HallEntry is a candidate that ranked among the best of a run.
type HallEntry struct {
	Generation int       `json:"generation"`
	Fitness    float64   `json:"fitness"`
	Genes      []float64 `json:"genes"`
}

// Candidate returns the entry as an evaluated candidate.
func (e HallEntry) Candidate() genetic.Candidate {
	return genetic.Candidate{
		Genes:   append([]float64(nil), e.Genes...),
		Fitness: genetic.Evaluated(e.Fitness),
	}
}

// HallOfFame keeps the fittest distinct candidates seen during a run,
// sorted descending by fitness. Two candidates within the similarity
// threshold of each other occupy one slot, held by the fitter of them.
type HallOfFame struct {
	entries   []HallEntry
	maxSize   int
	threshold float64
}

// NewHallOfFame creates a hall with the given capacity.
func NewHallOfFame(maxSize int, similarityThreshold float64) *HallOfFame {
	if maxSize < 1 {
		maxSize = 1
	}
	return &HallOfFame{
		entries:   make([]HallEntry, 0, maxSize),
		maxSize:   maxSize,
		threshold: similarityThreshold,
	}
}

// Consider evaluates a candidate for hall of fame entry.
// Returns true if the candidate was added to the hall.
func (hof *HallOfFame) Consider(generation int, c genetic.Candidate) bool {
	fitness, ok := c.Fitness.Value()
	if !ok {
		return false
	}

	similar := -1
	for i, e := range hof.entries {
		if !genetic.IsSimilar(e.Candidate(), c, hof.threshold) {
			continue
		}
		if fitness <= e.Fitness {
			return false
		}
		similar = i
		break
	}
	switch {
	case similar >= 0:
		hof.entries = append(hof.entries[:similar], hof.entries[similar+1:]...)
	case len(hof.entries) >= hof.maxSize && fitness <= hof.entries[len(hof.entries)-1].Fitness:
		return false
	}

	hof.entries = hof.insertEntry(hof.entries, HallEntry{
		Generation: generation,
		Fitness:    fitness,
		Genes:      append([]float64(nil), c.Genes...),
	})
	return true
}

// insertEntry adds an entry to the hall, maintaining sorted order by fitness.
// If the hall is full, the lowest-fitness entry is removed.
func (hof *HallOfFame) insertEntry(hall []HallEntry, entry HallEntry) []HallEntry {
	// Find insertion point (sorted descending by fitness)
	idx := sort.Search(len(hall), func(i int) bool {
		return hall[i].Fitness < entry.Fitness
	})

	// If hall is full and entry would be last (lowest), skip it
	if len(hall) >= hof.maxSize && idx >= hof.maxSize {
		return hall
	}

	hall = append(hall, HallEntry{})
	copy(hall[idx+1:], hall[idx:])
	hall[idx] = entry

	if len(hall) > hof.maxSize {
		hall = hall[:hof.maxSize]
	}
	return hall
}

// Size returns the number of entries.
func (hof *HallOfFame) Size() int { return len(hof.entries) }

// Entries returns a copy of the entries, best first.
func (hof *HallOfFame) Entries() []HallEntry {
	out := make([]HallEntry, len(hof.entries))
	copy(out, hof.entries)
	return out
}

// Best returns the top entry.
func (hof *HallOfFame) Best() (HallEntry, bool) {
	if len(hof.entries) == 0 {
		return HallEntry{}, false
	}
	return hof.entries[0], true
}

// TopFitness returns the highest fitness in the hall, or 0 if it is empty.
func (hof *HallOfFame) TopFitness() float64 {
	if len(hof.entries) == 0 {
		return 0
	}
	return hof.entries[0].Fitness
}

type hallOfFameJSON struct {
	MaxSize             int         `json:"max_size"`
	SimilarityThreshold float64     `json:"similarity_threshold"`
	Entries             []HallEntry `json:"entries"`
}

// MarshalJSON serializes the hall of fame to JSON.
func (hof *HallOfFame) MarshalJSON() ([]byte, error) {
	return json.MarshalIndent(hallOfFameJSON{
		MaxSize:             hof.maxSize,
		SimilarityThreshold: hof.threshold,
		Entries:             hof.entries,
	}, "", "  ")
}

// LoadHallOfFameFromFile reads a hall of fame JSON file.
func LoadHallOfFameFromFile(path string) (*HallOfFame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading hall of fame: %w", err)
	}

	var raw hallOfFameJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing hall of fame JSON: %w", err)
	}

	hof := NewHallOfFame(max(raw.MaxSize, len(raw.Entries)), raw.SimilarityThreshold)
	for _, e := range raw.Entries {
		hof.entries = hof.insertEntry(hof.entries, e)
	}
	return hof, nil
}
