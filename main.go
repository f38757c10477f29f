package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/homoluden/fedkf-ga/config"
)

const usage = `Usage: fedkf-ga [flags] [command]

Commands:
  run               tune the filter bank with the genetic search (default)
  simulate          replay data.replay_genes_path and record the fused trace
  set <key> <value> change one key of the config file given by -config
  print             list every config key with its current value
  help, ?, -h       show this message

Flags:
`

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs, plots and snapshots (overrides config)")
	seed := flag.Uint64("seed", 0, "RNG seed (0 = config value, or time-based)")
	generations := flag.Int("generations", -1, "Generations to run (-1 = use config)")
	population := flag.Int("population", 0, "Population size (0 = use config)")
	workers := flag.Int("workers", -1, "Concurrent fitness evaluations (-1 = use config)")
	logLevel := flag.String("log-level", "", "debug|info|warn|error (empty = use config)")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (empty = use config)")
	storeKind := flag.String("store", "", "Run history backend: memory|sqlite (empty = use config)")
	noPlot := flag.Bool("no-plot", false, "Skip PNG plots")

	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	command := "run"
	args := flag.Args()
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	switch command {
	case "help", "?", "-h":
		flag.Usage()
		return
	case "set":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "set needs a key and a value")
			flag.Usage()
			os.Exit(2)
		}
		path := *configPath
		if path == "" {
			path = "config.yaml"
		}
		if err := config.Set(path, args[0], args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "set %s: %v\n", args[0], err)
			os.Exit(1)
		}
		return
	}

	// Initialize config before anything else
	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	// Apply CLI overrides
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}
	if *seed != 0 {
		cfg.Search.Seed = *seed
	}
	if *generations >= 0 {
		cfg.Search.Generations = *generations
	}
	if *population > 0 {
		cfg.Search.PopulationSize = *population
	}
	if *workers >= 0 {
		cfg.Search.Workers = *workers
	}
	if *logLevel != "" {
		cfg.Telemetry.LogLevel = *logLevel
	}
	if *metricsAddr != "" {
		cfg.Telemetry.MetricsAddr = *metricsAddr
	}
	if *storeKind != "" {
		cfg.Store.Kind = *storeKind
	}
	if *noPlot {
		cfg.Output.Plot = false
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Derived.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch command {
	case "run":
		err = runSearch(ctx, cfg)
	case "simulate":
		err = runSimulate(cfg)
	case "print":
		err = config.Print(os.Stdout, cfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		flag.Usage()
		os.Exit(2)
	}

	if errors.Is(err, context.Canceled) {
		slog.Warn("interrupted", "command", command)
		os.Exit(130)
	}
	if err != nil {
		slog.Error("command failed", "command", command, "error", err)
		os.Exit(1)
	}
}
