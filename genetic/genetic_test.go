package genetic

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/homoluden/fedkf-ga/errkind"
)

func newTestOperators(t *testing.T, rate float64) *Operators {
	t.Helper()
	ops, err := NewOperators(Params{
		MutationRate:        rate,
		MinGene:             -5,
		MaxGene:             5,
		SimilarityThreshold: DefaultSimilarityThreshold,
	}, rand.New(rand.NewPCG(1, 2)))
	if err != nil {
		t.Fatalf("NewOperators: %v", err)
	}
	return ops
}

func TestClamp(t *testing.T) {
	tests := []struct {
		name string
		raw  float64
		want float64
	}{
		{"finite", 3.5, 3.5},
		{"nan", math.NaN(), 0},
		{"positive infinity", math.Inf(1), InfinityFitness},
		{"negative infinity", math.Inf(-1), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clamp(tt.raw); got != tt.want {
				t.Errorf("Clamp(%v) = %v, want %v", tt.raw, got, tt.want)
			}
			v, ok := Evaluated(tt.raw).Value()
			if !ok || v != tt.want || math.IsNaN(v) {
				t.Errorf("Evaluated(%v) = (%v, %v), want (%v, true)", tt.raw, v, ok, tt.want)
			}
		})
	}
}

func TestZeroFitnessIsUnevaluated(t *testing.T) {
	var c Candidate
	if c.Fitness.IsEvaluated() {
		t.Error("zero Candidate has evaluated fitness")
	}
	if Unevaluated().IsEvaluated() {
		t.Error("Unevaluated() reports evaluated")
	}
}

func TestGenerate(t *testing.T) {
	ops := newTestOperators(t, 0.05)

	c, err := ops.Generate(50)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if c.Len() != 50 {
		t.Errorf("len = %d, want 50", c.Len())
	}
	for i, g := range c.Genes {
		if g < -5 || g > 5 {
			t.Errorf("gene %d = %v outside [-5, 5]", i, g)
		}
	}
	if c.Fitness.IsEvaluated() {
		t.Error("generated candidate is evaluated")
	}

	for _, n := range []int{0, -1} {
		if _, err := ops.Generate(n); !errors.Is(err, errkind.Dimension) {
			t.Errorf("Generate(%d) err = %v, want Dimension", n, err)
		}
	}
}

func TestMutate(t *testing.T) {
	tests := []struct {
		name      string
		rate      float64
		wantSame  bool
		wantDiffs bool
	}{
		{"rate zero keeps genes", 0, true, false},
		{"rate one replaces genes", 1, false, true},
		{"default rate", 0.05, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops := newTestOperators(t, tt.rate)
			parent, _ := ops.Generate(40)
			parent = parent.WithFitness(7)
			orig := parent.Clone()

			child, err := ops.Mutate(parent)
			if err != nil {
				t.Fatalf("Mutate: %v", err)
			}
			if child.Len() != parent.Len() {
				t.Fatalf("len = %d, want %d", child.Len(), parent.Len())
			}
			if child.Fitness.IsEvaluated() {
				t.Error("mutated candidate is evaluated")
			}
			for i := range parent.Genes {
				if parent.Genes[i] != orig.Genes[i] {
					t.Fatalf("parent gene %d modified", i)
				}
			}

			diffs := 0
			for i := range child.Genes {
				if child.Genes[i] != parent.Genes[i] {
					diffs++
				}
			}
			if tt.wantSame && diffs != 0 {
				t.Errorf("%d genes changed, want 0", diffs)
			}
			if tt.wantDiffs && diffs != child.Len() {
				t.Errorf("%d genes changed, want %d", diffs, child.Len())
			}
		})
	}

	ops := newTestOperators(t, 0.5)
	if _, err := ops.Mutate(Candidate{}); !errors.Is(err, errkind.Dimension) {
		t.Errorf("Mutate(empty) err = %v, want Dimension", err)
	}
}

func TestCrossover(t *testing.T) {
	ops := newTestOperators(t, 0.05)
	a := Candidate{Genes: []float64{1, 2, 3, 4, 5, 6, 7, 8}}
	b := Candidate{Genes: []float64{-1, -2, -3, -4, -5, -6, -7, -8}}

	for trial := 0; trial < 50; trial++ {
		children, err := ops.Crossover(a, b)
		if err != nil {
			t.Fatalf("Crossover: %v", err)
		}
		for k, ch := range children {
			if ch.Len() != a.Len() {
				t.Fatalf("child %d len = %d, want %d", k, ch.Len(), a.Len())
			}
			if ch.Fitness.IsEvaluated() {
				t.Errorf("child %d is evaluated", k)
			}
		}

		cut := 0
		for cut < a.Len() && children[0].Genes[cut] == a.Genes[cut] {
			cut++
		}
		if cut < 2 || cut > a.Len()-2 {
			t.Fatalf("cut point %d outside [2, %d]", cut, a.Len()-2)
		}
		for i := 0; i < a.Len(); i++ {
			want1, want2 := b.Genes[i], a.Genes[i]
			if i < cut {
				want1, want2 = a.Genes[i], b.Genes[i]
			}
			if children[0].Genes[i] != want1 || children[1].Genes[i] != want2 {
				t.Fatalf("cut %d: children differ at gene %d", cut, i)
			}
			if children[2].Genes[i] != (a.Genes[i]+b.Genes[i])/2 {
				t.Fatalf("average child gene %d = %v", i, children[2].Genes[i])
			}
		}
	}
}

func TestCrossoverErrors(t *testing.T) {
	ops := newTestOperators(t, 0.05)
	tests := []struct {
		name string
		a, b Candidate
	}{
		{"unequal lengths", Candidate{Genes: make([]float64, 5)}, Candidate{Genes: make([]float64, 6)}},
		{"too short", Candidate{Genes: make([]float64, 3)}, Candidate{Genes: make([]float64, 3)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ops.Crossover(tt.a, tt.b); !errors.Is(err, errkind.Dimension) {
				t.Errorf("err = %v, want Dimension", err)
			}
		})
	}
}

func TestIsSimilar(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want bool
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, true},
		{"exactly threshold", []float64{0, 0}, []float64{4, -6}, true},
		{"above threshold", []float64{0, 0}, []float64{5, -6}, false},
		{"different lengths", []float64{0}, []float64{0, 0}, false},
	}
	ops := newTestOperators(t, 0.05)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := Candidate{Genes: tt.a}, Candidate{Genes: tt.b}
			if got := ops.IsSimilar(a, b); got != tt.want {
				t.Errorf("IsSimilar(a, b) = %v, want %v", got, tt.want)
			}
			if ops.IsSimilar(a, b) != ops.IsSimilar(b, a) {
				t.Error("IsSimilar is not symmetric")
			}
		})
	}
}

func TestFromGenes(t *testing.T) {
	src := []float64{1, 2, 3}
	c, err := FromGenes(src)
	if err != nil {
		t.Fatalf("FromGenes: %v", err)
	}
	src[0] = 99
	if c.Genes[0] != 1 {
		t.Error("FromGenes did not copy its input")
	}
	if _, err := FromGenes(nil); !errors.Is(err, errkind.Dimension) {
		t.Errorf("FromGenes(nil) err = %v, want Dimension", err)
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  Params
		wantErr bool
	}{
		{"valid", Params{MutationRate: 0.1, MinGene: -1, MaxGene: 1}, false},
		{"negative rate", Params{MutationRate: -0.1, MinGene: -1, MaxGene: 1}, true},
		{"rate above one", Params{MutationRate: 1.1, MinGene: -1, MaxGene: 1}, true},
		{"inverted bounds", Params{MutationRate: 0.1, MinGene: 1, MaxGene: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errkind.Configuration) {
				t.Errorf("err = %v, want Configuration", err)
			}
		})
	}
}
