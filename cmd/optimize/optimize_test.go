package main

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/homoluden/fedkf-ga/dataio"
	"github.com/homoluden/fedkf-ga/genetic"
	"github.com/homoluden/fedkf-ga/sim"
	"github.com/homoluden/fedkf-ga/telemetry"
)

func TestParamVectorNames(t *testing.T) {
	p := sim.Params{SensorsCount: 2, NumOrder: 2, DenOrder: 3}
	pv := NewParamVector(p, 11, -10, 10)
	want := []string{
		"s1_num0", "s1_num1", "s1_den0", "s1_den1", "s1_den2",
		"s2_num0", "s2_num1", "s2_den0", "s2_den1", "s2_den2",
		"g10",
	}
	if pv.Dim() != len(want) {
		t.Fatalf("Dim = %d, want %d", pv.Dim(), len(want))
	}
	for i, w := range want {
		if pv.Specs[i].Name != w {
			t.Errorf("spec %d = %s, want %s", i, pv.Specs[i].Name, w)
		}
		if pv.Specs[i].Default != 0 {
			t.Errorf("spec %d default = %v, want the range midpoint 0", i, pv.Specs[i].Default)
		}
	}
}

func TestParamVectorNormalization(t *testing.T) {
	pv := NewParamVector(sim.Params{SensorsCount: 1, NumOrder: 1, DenOrder: 2}, 3, -4, 6)
	raw := []float64{-4, 1, 6}
	norm := pv.Normalize(raw)
	for i, w := range []float64{0, 0.5, 1} {
		if math.Abs(norm[i]-w) > 1e-12 {
			t.Errorf("normalized[%d] = %v, want %v", i, norm[i], w)
		}
	}
	back := pv.Denormalize(norm)
	for i := range raw {
		if math.Abs(back[i]-raw[i]) > 1e-12 {
			t.Errorf("round trip[%d] = %v, want %v", i, back[i], raw[i])
		}
	}

	c := pv.Candidate([]float64{-9, 2, 100})
	if c.Genes[0] != -4 || c.Genes[1] != 2 || c.Genes[2] != 6 {
		t.Errorf("clamped genes = %v", c.Genes)
	}
	if c.Fitness.IsEvaluated() {
		t.Error("new candidate is already evaluated")
	}

	pv.SetDefaults([]float64{5, 50})
	if d := pv.DefaultVector(); d[0] != 5 || d[1] != 6 || d[2] != 1 {
		t.Errorf("defaults = %v, want [5 6 1]", d)
	}
}

func testEvaluator(t *testing.T) *sim.Evaluator {
	t.Helper()
	n := 10
	d := &sim.Dataset{
		Geometry:   mat.NewDense(1, 1, []float64{1}),
		SensorCov:  mat.NewDense(1, 1, []float64{1e-2}),
		ProcessCov: mat.NewDense(1, 1, []float64{1e-3}),
		Signals:    make([]dataio.Vector4, n),
		Noises:     make([]dataio.Vector4, n),
		Targets:    make([]dataio.Vector3, n),
	}
	for i := range d.Targets {
		d.Targets[i].X = 1
	}
	e, err := sim.NewEvaluator(sim.Params{
		SensorsCount: 1, NumOrder: 2, DenOrder: 2,
		SamplePeriod: sim.DefaultSamplePeriod, FitnessCap: genetic.InfinityFitness,
	}, d)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	return e
}

func TestFitnessEvaluatorTracksBest(t *testing.T) {
	eval := testEvaluator(t)
	pv := NewParamVector(eval.Params(), 4, -10, 10)

	logPath := filepath.Join(t.TempDir(), "log.csv")
	f, err := os.Create(logPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	hof := telemetry.NewHallOfFame(3, 0)
	fe := NewFitnessEvaluator(pv, eval, hof, csv.NewWriter(f))

	// Zero output against a unit target: 10 steps, error 10, fitness 1.
	if got := fe.Objective(pv.Normalize([]float64{0, 1, 1, 1})); math.Abs(got+1) > 1e-9 {
		t.Errorf("objective = %v, want -1", got)
	}
	// A zero leading denominator cannot be decoded and scores 0.
	if got := fe.Objective(pv.Normalize([]float64{0, 1, 0, 1})); got != 0 {
		t.Errorf("objective of an invalid genome = %v, want 0", got)
	}

	best, ok := fe.Best()
	if !ok || math.Abs(best.Fitness.OrZero()-1) > 1e-9 {
		t.Errorf("best = %v, want fitness 1", best)
	}
	if fe.Evaluations() != 2 || hof.Size() != 2 {
		t.Errorf("evaluations %d, hall size %d; want 2 and 2", fe.Evaluations(), hof.Size())
	}
}

func TestLoadInitialGenes(t *testing.T) {
	dir := t.TempDir()
	genesPath := filepath.Join(dir, "genes.txt")
	if err := dataio.WriteGenes(genesPath, []float64{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	genes, err := loadInitialGenes(genesPath)
	if err != nil || len(genes) != 3 {
		t.Fatalf("genes file: %v, %v", genes, err)
	}

	hof := telemetry.NewHallOfFame(2, 0)
	hof.Consider(0, genetic.Candidate{Genes: []float64{4, 5}, Fitness: genetic.Evaluated(2)})
	data, err := hof.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	hofPath := filepath.Join(dir, "hall_of_fame.json")
	if err := os.WriteFile(hofPath, data, 0644); err != nil {
		t.Fatal(err)
	}
	genes, err = loadInitialGenes(hofPath)
	if err != nil || len(genes) != 2 || genes[0] != 4 {
		t.Errorf("hall of fame: %v, %v", genes, err)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := map[string]string{
		"0s":     "0m00s",
		"75s":    "1m15s",
		"3h2m5s": "3h02m05s",
		"59.6s":  "1m00s",
	}
	for in, want := range tests {
		d, err := time.ParseDuration(in)
		if err != nil {
			t.Fatal(err)
		}
		if got := formatDuration(d); got != want {
			t.Errorf("formatDuration(%s) = %s, want %s", in, got, want)
		}
	}
}
