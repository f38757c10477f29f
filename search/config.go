package search

import (
	"fmt"
	"math"

	"github.com/homoluden/fedkf-ga/errkind"
	"github.com/homoluden/fedkf-ga/genetic"
)

// DefaultMaxResample bounds the attempts to find a dissimilar mate.
const DefaultMaxResample = 1000

// Config holds the immutable settings of one search run.
type Config struct {
	PopulationSize      int
	Generations         int
	GenomeSize          int
	CrossoverRate       float64 // probability a pair is recombined
	MutationRate        float64 // per-gene replacement probability
	Elitism             bool    // carry the fittest candidate over unchanged
	MinGene             float64
	MaxGene             float64
	SimilarityThreshold float64
	Workers             int    // concurrent fitness evaluations, 0 = GOMAXPROCS
	Seed                uint64 // 0 = seed from the clock
	MaxResample         int    // mate draws before giving up on dissimilarity, 0 = DefaultMaxResample
}

// DefaultConfig returns the settings the tool ships with.
func DefaultConfig() Config {
	return Config{
		PopulationSize:      100,
		Generations:         2000,
		CrossoverRate:       0.8,
		MutationRate:        0.05,
		Elitism:             true,
		MinGene:             -10,
		MaxGene:             10,
		SimilarityThreshold: genetic.DefaultSimilarityThreshold,
		MaxResample:         DefaultMaxResample,
	}
}

// Validate reports the first invalid setting as a Configuration error.
func (c Config) Validate() error {
	switch {
	case c.GenomeSize <= 0:
		return fmt.Errorf("%w: genome size %d must be positive", errkind.Configuration, c.GenomeSize)
	case c.PopulationSize < 2:
		return fmt.Errorf("%w: population size %d, need at least 2", errkind.Configuration, c.PopulationSize)
	case c.Generations < 0:
		return fmt.Errorf("%w: generations %d is negative", errkind.Configuration, c.Generations)
	case !inUnit(c.CrossoverRate):
		return fmt.Errorf("%w: crossover rate %v outside [0,1]", errkind.Configuration, c.CrossoverRate)
	case c.CrossoverRate > 0 && c.GenomeSize < 4:
		return fmt.Errorf("%w: crossover needs a genome of at least 4 genes, got %d", errkind.Configuration, c.GenomeSize)
	case c.Workers < 0:
		return fmt.Errorf("%w: workers %d is negative", errkind.Configuration, c.Workers)
	}
	return c.operatorParams().Validate()
}

func (c Config) operatorParams() genetic.Params {
	return genetic.Params{
		MutationRate:        c.MutationRate,
		MinGene:             c.MinGene,
		MaxGene:             c.MaxGene,
		SimilarityThreshold: c.SimilarityThreshold,
	}
}

// PairsPerGeneration is the number of parent pairs bred each generation,
// floor(PopulationSize / 2.5).
func (c Config) PairsPerGeneration() int {
	return int(math.Floor(float64(c.PopulationSize) / 2.5))
}

func inUnit(v float64) bool { return v >= 0 && v <= 1 }
