package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/homoluden/fedkf-ga/config"
	"github.com/homoluden/fedkf-ga/search"
	"github.com/homoluden/fedkf-ga/sim"
	"github.com/homoluden/fedkf-ga/store"
	"github.com/homoluden/fedkf-ga/telemetry"
)

// runSearch tunes the filter bank and writes the run artifacts.
func runSearch(ctx context.Context, cfg *config.Config) error {
	eval, err := newEvaluator(cfg)
	if err != nil {
		return err
	}

	out, err := telemetry.NewOutputManager(cfg.Output.Dir)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			slog.Error("failed to close output", "error", err)
		}
	}()
	if err := out.WriteConfig(cfg); err != nil {
		return err
	}

	history, err := store.NewStore(cfg.Store.Kind, cfg.Store.Path)
	if err != nil {
		return err
	}
	if err := history.Init(ctx); err != nil {
		return err
	}
	defer store.CloseIfSupported(history)

	// Pin the seed so the stored run can be reproduced.
	seed := cfg.Search.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	cfgYAML, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	recorder, err := store.NewRunRecorder(ctx, history, store.Run{Seed: seed, Config: string(cfgYAML)})
	if err != nil {
		return err
	}

	metrics := telemetry.NewMetrics()
	if addr := cfg.Telemetry.MetricsAddr; addr != "" {
		shutdown := serveMetrics(addr, metrics.Handler())
		defer shutdown()
	}

	perf := telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow)
	hof := telemetry.NewHallOfFame(cfg.Telemetry.HallOfFameSize, cfg.Search.SimilarityThreshold)
	collector := telemetry.NewCollector(telemetry.CollectorOptions{
		Seed:       seed,
		PerfWindow: cfg.Telemetry.PerfWindow,
		Perf:       perf,
		Output:     out,
		Metrics:    metrics,
		HallOfFame: hof,
		Bookmarks: telemetry.NewBookmarkDetector(telemetry.BookmarkOptions{
			StagnationGenerations: cfg.Telemetry.StagnationGenerations,
			DiversityCollapse:     cfg.Telemetry.DiversityCollapse,
			FitnessCap:            eval.Params().FitnessCap,
		}),
		Sinks: []telemetry.StatsSink{recorder},
	})

	sc := searchConfig(cfg)
	sc.Seed = seed
	engine := search.New(sc)
	engine.SetFitness(eval.Evaluate)
	engine.SetObserver(collector)
	engine.SetPhaseTimer(perf)

	slog.Info("starting search",
		"run_id", recorder.RunID(),
		"seed", seed,
		"population", sc.PopulationSize,
		"generations", sc.Generations,
		"genome_size", sc.GenomeSize,
		"samples", eval.Params().MaxSimLength,
	)
	start := time.Now()
	runErr := engine.Run(ctx)

	errs := []error{runErr, collector.Finish(cfg.Output.Plot)}
	if best, ok := engine.Best(); ok {
		errs = append(errs, recorder.Finish(best))
		slog.Info("search finished",
			"run_id", recorder.RunID(),
			"generations", engine.Generation(),
			"evaluations", engine.Evaluations(),
			"elapsed", time.Since(start),
			"best", best,
			"best_genes", out.BestGenesPath(),
		)
	}
	return errors.Join(errs...)
}

// newEvaluator loads the dataset and builds the objective.
func newEvaluator(cfg *config.Config) (*sim.Evaluator, error) {
	params := simParams(cfg)
	data, err := sim.LoadDataset(datasetPaths(cfg), params.SensorsCount)
	if err != nil {
		return nil, err
	}
	slog.Debug("dataset loaded", "samples", data.Len(), "sensors", params.SensorsCount)
	return sim.NewEvaluator(params, data)
}

func serveMetrics(addr string, h http.Handler) (shutdown func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	slog.Info("serving metrics", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func simParams(cfg *config.Config) sim.Params {
	return sim.Params{
		SensorsCount: cfg.Model.SensorsCount,
		NumOrder:     cfg.Model.NumOrder,
		DenOrder:     cfg.Model.DenOrder,
		SamplePeriod: cfg.Model.SamplePeriod,
		MaxSimLength: cfg.Simulation.MaxSimLength,
		FitnessCap:   cfg.Simulation.FitnessCap,
	}
}

func datasetPaths(cfg *config.Config) sim.Paths {
	return sim.Paths{
		Geometry:   cfg.Data.GeometryPath,
		ProcessCov: cfg.Data.ProcessCovPath,
		SensorCov:  cfg.Data.SensorCovPath,
		Signals:    cfg.Data.SignalsPath,
		Noises:     cfg.Data.NoisesPath,
		Targets:    cfg.Data.TargetsPath,
	}
}

func searchConfig(cfg *config.Config) search.Config {
	s := cfg.Search
	return search.Config{
		PopulationSize:      s.PopulationSize,
		Generations:         s.Generations,
		GenomeSize:          cfg.Derived.GenomeSize,
		CrossoverRate:       s.CrossoverRate,
		MutationRate:        s.MutationRate,
		Elitism:             s.Elitism,
		MinGene:             s.MinGene,
		MaxGene:             s.MaxGene,
		SimilarityThreshold: s.SimilarityThreshold,
		Workers:             s.Workers,
		Seed:                s.Seed,
		MaxResample:         s.MaxResample,
	}
}
