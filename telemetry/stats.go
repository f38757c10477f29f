package telemetry

import (
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/homoluden/fedkf-ga/search"
)

// GenerationStats holds aggregated statistics for one generation.
type GenerationStats struct {
	Generation  int   `csv:"generation"`
	Evaluations int64 `csv:"evaluations"`

	// Fitness distribution of the population
	BestFitness  float64 `csv:"best"`
	MeanFitness  float64 `csv:"mean"`
	StdFitness   float64 `csv:"std"`
	WorstFitness float64 `csv:"worst"`
	P10          float64 `csv:"p10"`
	P50          float64 `csv:"p50"`
	P90          float64 `csv:"p90"`
	TotalFitness float64 `csv:"total"`

	// Mean per-gene standard deviation, a measure of population diversity
	GeneSpread float64 `csv:"gene_spread"`

	// Wall time of the generation, zero when no timer is attached
	DurationUS int64 `csv:"duration_us"`
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ComputeFitnessStats calculates mean, standard deviation and percentiles.
func ComputeFitnessStats(values []float64) (mean, std, p10, p50, p90 float64) {
	n := len(values)
	if n == 0 {
		return 0, 0, 0, 0, 0
	}

	mean, std = stat.PopMeanStdDev(values, nil)

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	p10 = Percentile(sorted, 0.10)
	p50 = Percentile(sorted, 0.50)
	p90 = Percentile(sorted, 0.90)

	return mean, std, p10, p50, p90
}

// GeneSpread returns the mean over gene positions of the population
// standard deviation at that position. Candidates shorter than the first
// one are ignored.
func GeneSpread(genomes [][]float64) float64 {
	if len(genomes) < 2 || len(genomes[0]) == 0 {
		return 0
	}
	width := len(genomes[0])
	column := make([]float64, 0, len(genomes))
	var sum float64
	for j := 0; j < width; j++ {
		column = column[:0]
		for _, g := range genomes {
			if len(g) >= width {
				column = append(column, g[j])
			}
		}
		_, std := stat.PopMeanStdDev(column, nil)
		sum += std
	}
	return sum / float64(width)
}

// ComputeGenerationStats summarizes a search snapshot.
func ComputeGenerationStats(s search.Snapshot) GenerationStats {
	fitness := s.Fitnesses()
	genomes := make([][]float64, len(s.Population))
	for i, c := range s.Population {
		genomes[i] = c.Genes
	}

	mean, std, p10, p50, p90 := ComputeFitnessStats(fitness)
	gs := GenerationStats{
		Generation:   s.Generation,
		Evaluations:  s.Evaluations,
		MeanFitness:  mean,
		StdFitness:   std,
		P10:          p10,
		P50:          p50,
		P90:          p90,
		TotalFitness: s.TotalFitness,
		GeneSpread:   GeneSpread(genomes),
	}
	if len(fitness) > 0 {
		gs.BestFitness = s.Best().Fitness.OrZero()
		gs.WorstFitness = math.Inf(1)
		for _, f := range fitness {
			gs.WorstFitness = math.Min(gs.WorstFitness, f)
		}
	}
	return gs
}

// LogValue implements slog.LogValuer for structured logging.
func (s GenerationStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("generation", s.Generation),
		slog.Int64("evaluations", s.Evaluations),
		slog.Float64("best", s.BestFitness),
		slog.Float64("mean", s.MeanFitness),
		slog.Float64("std", s.StdFitness),
		slog.Float64("worst", s.WorstFitness),
		slog.Float64("p10", s.P10),
		slog.Float64("p50", s.P50),
		slog.Float64("p90", s.P90),
		slog.Float64("gene_spread", s.GeneSpread),
		slog.Int64("duration_us", s.DurationUS),
	)
}

// LogStats logs the generation stats using slog.
func (s GenerationStats) LogStats() {
	slog.Info("stats",
		"generation", s.Generation,
		"evaluations", s.Evaluations,
		"best", s.BestFitness,
		"mean", s.MeanFitness,
		"std", s.StdFitness,
		"p50", s.P50,
		"gene_spread", s.GeneSpread,
		"duration_us", s.DurationUS,
	)
}
