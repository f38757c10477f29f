package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/homoluden/fedkf-ga/config"
	"github.com/homoluden/fedkf-ga/dataio"
	"github.com/homoluden/fedkf-ga/genetic"
	"github.com/homoluden/fedkf-ga/sim"
	"github.com/homoluden/fedkf-ga/telemetry"
)

// runSimulate replays a stored gene vector, records the fused estimate
// and prints its fitness.
func runSimulate(cfg *config.Config) error {
	eval, err := newEvaluator(cfg)
	if err != nil {
		return err
	}

	genes, err := dataio.ReadGenes(cfg.Data.ReplayGenesPath)
	if err != nil {
		return fmt.Errorf("replay genes: %w", err)
	}
	cand, err := genetic.FromGenes(genes)
	if err != nil {
		return err
	}

	trace := &sim.TraceRecorder{}
	res, err := eval.WithRecorder(trace).Simulate(cand)
	if err != nil {
		return err
	}
	slog.Info("simulation finished",
		"genes", cfg.Data.ReplayGenesPath,
		"steps", res.Steps,
		"squared_error", res.SquaredError,
		"fitness", res.Fitness,
	)
	fmt.Printf("fitness = %g\n", res.Fitness)

	recordPath := outputPath(cfg.Output.Dir, cfg.Output.RecordPath)
	if recordPath == "" {
		return nil
	}
	if dir := filepath.Dir(recordPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating record directory: %w", err)
		}
	}
	if err := trace.WriteFile(recordPath); err != nil {
		return err
	}
	slog.Info("trace recorded", "path", recordPath, "rows", len(trace.Rows()))

	if cfg.Output.Plot {
		data, err := dataio.ReadVector3File(cfg.Data.TargetsPath)
		if err != nil {
			return fmt.Errorf("targets: %w", err)
		}
		plotPath := strings.TrimSuffix(recordPath, filepath.Ext(recordPath)) + ".png"
		if err := telemetry.PlotTrace(trace.Rows(), data, cfg.Model.SamplePeriod, plotPath); err != nil {
			return err
		}
		slog.Info("trace plotted", "path", plotPath)
	}
	return nil
}

// outputPath places relative artifact names under the output directory.
func outputPath(dir, name string) string {
	if name == "" || dir == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}
