// Package main runs a CMA-ES baseline over the same filter-bank tracking
// objective the genetic search optimizes.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/optimize"

	"github.com/homoluden/fedkf-ga/config"
	"github.com/homoluden/fedkf-ga/dataio"
	"github.com/homoluden/fedkf-ga/sim"
	"github.com/homoluden/fedkf-ga/telemetry"
)

// formatDuration formats a duration as HH:MM:SS or MM:SS for shorter durations.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Base config YAML file (empty = use defaults)")
	maxEvals := flag.Int("max-evals", 2000, "Maximum number of evaluations")
	population := flag.Int("population", 0, "CMA-ES population size (0 = auto)")
	concurrent := flag.Int("concurrent", 0, "Concurrent evaluations (0 = sequential)")
	stepSize := flag.Float64("step-size", 0.3, "Initial step size in normalized gene space")
	initPath := flag.String("init", "", "Start from the best entry of a hall_of_fame.json, or a genes file")
	outputDir := flag.String("output", "", "Output directory for results")
	flag.Parse()

	if *outputDir == "" {
		log.Fatal("--output is required")
	}

	// Create output directory
	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	// Load base config
	if err := config.Init(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Cfg()

	simParams := sim.Params{
		SensorsCount: cfg.Model.SensorsCount,
		NumOrder:     cfg.Model.NumOrder,
		DenOrder:     cfg.Model.DenOrder,
		SamplePeriod: cfg.Model.SamplePeriod,
		MaxSimLength: cfg.Simulation.MaxSimLength,
		FitnessCap:   cfg.Simulation.FitnessCap,
	}
	data, err := sim.LoadDataset(sim.Paths{
		Geometry:   cfg.Data.GeometryPath,
		ProcessCov: cfg.Data.ProcessCovPath,
		SensorCov:  cfg.Data.SensorCovPath,
		Signals:    cfg.Data.SignalsPath,
		Noises:     cfg.Data.NoisesPath,
		Targets:    cfg.Data.TargetsPath,
	}, simParams.SensorsCount)
	if err != nil {
		log.Fatalf("failed to load dataset: %v", err)
	}
	eval, err := sim.NewEvaluator(simParams, data)
	if err != nil {
		log.Fatalf("failed to build evaluator: %v", err)
	}

	// Create parameter vector
	params := NewParamVector(simParams, cfg.Derived.GenomeSize, cfg.Search.MinGene, cfg.Search.MaxGene)
	if *initPath != "" {
		genes, err := loadInitialGenes(*initPath)
		if err != nil {
			log.Fatalf("failed to load initial genes: %v", err)
		}
		params.SetDefaults(genes)
	}

	// Open log file
	logPath := filepath.Join(*outputDir, "optimize_log.csv")
	logFile, err := os.Create(logPath)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()
	logWriter := csv.NewWriter(logFile)
	defer logWriter.Flush()

	hof := telemetry.NewHallOfFame(cfg.Telemetry.HallOfFameSize, cfg.Search.SimilarityThreshold)
	evaluator := NewFitnessEvaluator(params, eval, hof, logWriter)

	// Set up CMA-ES
	dim := params.Dim()
	initX := params.Normalize(params.DefaultVector())

	startTime := time.Now()
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			f := evaluator.Objective(x)
			n := evaluator.Evaluations()
			if n%100 == 0 {
				best, _ := evaluator.Best()
				elapsed := time.Since(startTime)
				remaining := time.Duration(*maxEvals-n) * (elapsed / time.Duration(n))
				fmt.Printf("Eval %d/%d: best=%.4f | elapsed: %s, ETA: %s\n",
					n, *maxEvals, best.Fitness.OrZero(), formatDuration(elapsed), formatDuration(remaining))
			}
			return f
		},
	}

	// CMA-ES settings
	settings := &optimize.Settings{
		FuncEvaluations: *maxEvals,
		Concurrent:      *concurrent,
	}

	// Population size
	popSize := *population
	if popSize == 0 {
		popSize = 4 + int(3.0*float64(dim)/2.0)
	}

	method := &optimize.CmaEsChol{
		InitStepSize: *stepSize,
		Population:   popSize,
	}

	// Run optimization
	fmt.Printf("Starting CMA-ES optimization with %d genes, population=%d, max_evals=%d\n",
		dim, popSize, *maxEvals)

	result, err := optimize.Minimize(problem, initX, settings, method)
	if err != nil {
		log.Printf("optimization ended: %v", err)
	}

	// Use best candidate found (may be from any evaluation, not just final)
	best, ok := evaluator.Best()
	if !ok && result != nil {
		best = params.Candidate(params.Denormalize(result.X))
	}
	if len(best.Genes) == 0 {
		log.Fatal("no candidate was evaluated")
	}

	totalTime := time.Since(startTime)
	fmt.Printf("\nOptimization complete after %d evaluations in %s\n", evaluator.Evaluations(), formatDuration(totalTime))
	fmt.Printf("Best fitness: %.6f\n", best.Fitness.OrZero())

	fmt.Println("\nBest genes:")
	for i, spec := range params.Specs {
		fmt.Printf("  %s: %.6f\n", spec.Name, best.Genes[i])
	}

	genesPath := filepath.Join(*outputDir, "best_genes.txt")
	if err := dataio.WriteGenes(genesPath, best.Genes); err != nil {
		log.Printf("failed to write best genes: %v", err)
	} else {
		fmt.Printf("\nBest genes saved to: %s\n", genesPath)
	}

	hofPath := filepath.Join(*outputDir, "hall_of_fame.json")
	if hofData, err := hof.MarshalJSON(); err != nil {
		log.Printf("failed to marshal hall of fame: %v", err)
	} else if err := os.WriteFile(hofPath, hofData, 0644); err != nil {
		log.Printf("failed to write hall of fame: %v", err)
	} else {
		fmt.Printf("Hall of fame saved to: %s\n", hofPath)
	}
}

// loadInitialGenes reads the starting point from a hall of fame JSON file
// or, for any other extension, a plain genes file.
func loadInitialGenes(path string) ([]float64, error) {
	if filepath.Ext(path) != ".json" {
		return dataio.ReadGenes(path)
	}
	hof, err := telemetry.LoadHallOfFameFromFile(path)
	if err != nil {
		return nil, err
	}
	best, ok := hof.Best()
	if !ok {
		return nil, fmt.Errorf("hall of fame %s is empty", path)
	}
	return best.Genes, nil
}
