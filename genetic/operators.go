package genetic

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/homoluden/fedkf-ga/errkind"
)

// DefaultSimilarityThreshold is the L1 distance at or below which two
// candidates count as similar.
const DefaultSimilarityThreshold = 10.0

// Params are the immutable settings of the variation operators.
type Params struct {
	MutationRate        float64 // per-gene replacement probability
	MinGene             float64
	MaxGene             float64
	SimilarityThreshold float64
}

// Validate checks rate and bounds.
func (p Params) Validate() error {
	if p.MutationRate < 0 || p.MutationRate > 1 || math.IsNaN(p.MutationRate) {
		return fmt.Errorf("%w: mutation rate %v outside [0,1]", errkind.Configuration, p.MutationRate)
	}
	if !(p.MinGene <= p.MaxGene) {
		return fmt.Errorf("%w: gene bounds [%v, %v]", errkind.Configuration, p.MinGene, p.MaxGene)
	}
	return nil
}

// Operators draws random genes, mutates and recombines candidates. The
// random source is guarded, so one Operators value may be shared by
// goroutines; determinism for a fixed seed holds only for sequential use.
type Operators struct {
	params Params

	mu   sync.Mutex
	rng  *rand.Rand
	gene distuv.Uniform
}

// NewOperators binds params to a random source.
func NewOperators(params Params, rng *rand.Rand) (*Operators, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("%w: random source is required", errkind.Configuration)
	}
	return &Operators{
		params: params,
		rng:    rng,
		gene:   distuv.Uniform{Min: params.MinGene, Max: params.MaxGene, Src: rng},
	}, nil
}

// Params returns the operator settings.
func (o *Operators) Params() Params { return o.params }

// Generate returns an unevaluated candidate of length uniform genes.
func (o *Operators) Generate(length int) (Candidate, error) {
	if length <= 0 {
		return Candidate{}, fmt.Errorf("%w: genome length %d", errkind.Dimension, length)
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	genes := make([]float64, length)
	for i := range genes {
		genes[i] = o.gene.Rand()
	}
	return Candidate{Genes: genes}, nil
}

// Mutate returns a copy of c where each gene is, with probability
// MutationRate, replaced by a fresh uniform draw.
func (o *Operators) Mutate(c Candidate) (Candidate, error) {
	if len(c.Genes) == 0 {
		return Candidate{}, fmt.Errorf("%w: cannot mutate an empty genome", errkind.Dimension)
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	genes := append([]float64(nil), c.Genes...)
	for i := range genes {
		if o.rng.Float64() < o.params.MutationRate {
			genes[i] = o.gene.Rand()
		}
	}
	return Candidate{Genes: genes}, nil
}

// Crossover cuts both parents at one point drawn uniformly from
// [2, len-2] and returns three unevaluated children: a's head with b's
// tail, b's head with a's tail, and the gene-wise average.
func (o *Operators) Crossover(a, b Candidate) ([3]Candidate, error) {
	var children [3]Candidate
	n := len(a.Genes)
	if n != len(b.Genes) {
		return children, fmt.Errorf("%w: crossover of lengths %d and %d", errkind.Dimension, n, len(b.Genes))
	}
	if n < 4 {
		return children, fmt.Errorf("%w: crossover needs at least 4 genes, got %d", errkind.Dimension, n)
	}

	o.mu.Lock()
	cut := 2 + o.rng.IntN(n-3)
	o.mu.Unlock()

	g1 := make([]float64, n)
	g2 := make([]float64, n)
	g3 := make([]float64, n)
	for i := 0; i < n; i++ {
		if i < cut {
			g1[i], g2[i] = a.Genes[i], b.Genes[i]
		} else {
			g1[i], g2[i] = b.Genes[i], a.Genes[i]
		}
		g3[i] = (a.Genes[i] + b.Genes[i]) / 2
	}
	children[0] = Candidate{Genes: g1}
	children[1] = Candidate{Genes: g2}
	children[2] = Candidate{Genes: g3}
	return children, nil
}

// IsSimilar reports whether the L1 distance between a and b is within the
// similarity threshold. Candidates of different length are never similar.
func (o *Operators) IsSimilar(a, b Candidate) bool {
	return IsSimilar(a, b, o.params.SimilarityThreshold)
}

// IsSimilar reports whether Σ|a[i]-b[i]| <= threshold.
func IsSimilar(a, b Candidate, threshold float64) bool {
	if len(a.Genes) != len(b.Genes) {
		return false
	}
	var diff float64
	for i := range a.Genes {
		diff += math.Abs(a.Genes[i] - b.Genes[i])
	}
	return diff <= threshold
}

// IntN returns a uniform integer in [0, n) from the shared source.
func (o *Operators) IntN(n int) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rng.IntN(n)
}

// Float64 returns a uniform value in [0, 1) from the shared source.
func (o *Operators) Float64() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rng.Float64()
}
