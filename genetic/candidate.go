// Package genetic holds the candidate representation and the variation
// operators of the search: random generation, mutation, crossover and the
// similarity test used as a diversity guard.
package genetic

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/homoluden/fedkf-ga/errkind"
)

// InfinityFitness replaces a +Inf fitness so roulette selection stays finite.
const InfinityFitness = 1e5

// Fitness is either unevaluated or a finite-or-clamped value. The zero
// Fitness is unevaluated.
type Fitness struct {
	value     float64
	evaluated bool
}

// Unevaluated returns a fitness that has not been computed yet.
func Unevaluated() Fitness { return Fitness{} }

// Evaluated wraps a raw fitness value, clamping degenerate results:
// NaN and -Inf become 0, +Inf becomes InfinityFitness.
func Evaluated(raw float64) Fitness {
	return Fitness{value: Clamp(raw), evaluated: true}
}

// Clamp maps a raw objective value to a usable fitness.
func Clamp(raw float64) float64 {
	switch {
	case math.IsNaN(raw), math.IsInf(raw, -1):
		return 0
	case math.IsInf(raw, 1):
		return InfinityFitness
	}
	return raw
}

// IsEvaluated reports whether the fitness has been computed.
func (f Fitness) IsEvaluated() bool { return f.evaluated }

// Value returns the fitness value and whether it has been computed.
func (f Fitness) Value() (float64, bool) { return f.value, f.evaluated }

// OrZero returns the value, or 0 for an unevaluated fitness.
func (f Fitness) OrZero() float64 { return f.value }

func (f Fitness) String() string {
	if !f.evaluated {
		return "unevaluated"
	}
	return strconv.FormatFloat(f.value, 'g', -1, 64)
}

// Candidate is one solution: a fixed-length gene vector and its fitness.
type Candidate struct {
	Genes   []float64
	Fitness Fitness
}

// FromGenes copies genes into a new unevaluated Candidate.
func FromGenes(genes []float64) (Candidate, error) {
	if len(genes) == 0 {
		return Candidate{}, fmt.Errorf("%w: genes cannot be empty", errkind.Dimension)
	}
	return Candidate{Genes: append([]float64(nil), genes...)}, nil
}

// Len returns the number of genes.
func (c Candidate) Len() int { return len(c.Genes) }

// Clone returns a deep copy.
func (c Candidate) Clone() Candidate {
	return Candidate{Genes: append([]float64(nil), c.Genes...), Fitness: c.Fitness}
}

// WithFitness returns c with its fitness set to the clamped raw value.
func (c Candidate) WithFitness(raw float64) Candidate {
	c.Fitness = Evaluated(raw)
	return c
}

// String formats genes in scientific notation followed by the fitness.
func (c Candidate) String() string {
	var b strings.Builder
	b.WriteString("[")
	for _, g := range c.Genes {
		b.WriteString(" ")
		b.WriteString(strconv.FormatFloat(g, 'e', 4, 64))
		b.WriteString(" ")
	}
	b.WriteString("] => Fitness: ")
	b.WriteString(c.Fitness.String())
	return b.String()
}

// LogValue implements slog.LogValuer.
func (c Candidate) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("genes", len(c.Genes)),
		slog.String("fitness", c.Fitness.String()),
	)
}
