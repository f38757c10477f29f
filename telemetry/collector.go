package telemetry

import (
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/homoluden/fedkf-ga/genetic"
	"github.com/homoluden/fedkf-ga/search"
)

// topLogged is the number of leading candidates logged per generation.
const topLogged = 5

// StatsSink receives the statistics of every finished generation.
type StatsSink interface {
	RecordGeneration(stats GenerationStats) error
}

// CollectorOptions wires the optional outputs of a Collector. Nil members
// are skipped.
type CollectorOptions struct {
	Seed       uint64
	PerfWindow int // generations between perf reports

	Perf       *PerfCollector
	Output     *OutputManager
	Metrics    *Metrics
	HallOfFame *HallOfFame
	Bookmarks  *BookmarkDetector
	Sinks      []StatsSink
}

// Collector turns search notifications into statistics, logs, CSV rows,
// metrics and bookmarks. It implements search.Observer.
type Collector struct {
	opts CollectorOptions

	history []GenerationStats
	raised  []Bookmark
	last    search.Snapshot
	errs    []error
}

// NewCollector creates a collector.
func NewCollector(opts CollectorOptions) *Collector {
	if opts.PerfWindow < 1 {
		opts.PerfWindow = 100
	}
	return &Collector{opts: opts}
}

// GenerationStarted implements search.Observer.
func (c *Collector) GenerationStarted(gen int) {
	slog.Debug("generation started", "generation", gen)
}

// NewBest implements search.Observer.
func (c *Collector) NewBest(gen int, best genetic.Candidate) {
	slog.Info("new best", "generation", gen, "candidate", best)
}

// GenerationFinished implements search.Observer.
func (c *Collector) GenerationFinished(s search.Snapshot) {
	c.last = s
	stats := ComputeGenerationStats(s)
	if c.opts.Perf != nil {
		if sample, ok := c.opts.Perf.Last(); ok {
			stats.DurationUS = sample.Duration.Microseconds()
		}
	}
	c.history = append(c.history, stats)
	stats.LogStats()

	top := s.Population[max(0, len(s.Population)-topLogged):]
	for i := len(top) - 1; i >= 0; i-- {
		slog.Debug("top candidate", "generation", s.Generation, "rank", len(top)-i, "candidate", top[i])
		if c.opts.HallOfFame != nil {
			c.opts.HallOfFame.Consider(s.Generation, top[i])
		}
	}

	c.record(c.opts.Output.WriteGeneration(stats))
	c.opts.Metrics.Observe(stats)
	for _, sink := range c.opts.Sinks {
		c.record(sink.RecordGeneration(stats))
	}

	if c.opts.Bookmarks != nil {
		for _, b := range c.opts.Bookmarks.Check(stats) {
			c.raise(b, s)
		}
	}

	if c.opts.Perf != nil && (s.Generation+1)%c.opts.PerfWindow == 0 {
		perf := c.opts.Perf.Stats()
		perf.LogStats()
		c.record(c.opts.Output.WritePerf(perf, s.Generation))
	}
}

func (c *Collector) raise(b Bookmark, s search.Snapshot) {
	c.raised = append(c.raised, b)
	b.LogBookmark()
	c.opts.Metrics.ObserveBookmark(b)
	c.record(c.opts.Output.WriteBookmark(b))
	if dir := c.opts.Output.Dir(); dir != "" {
		_, err := SaveSnapshot(NewSnapshot(c.opts.Seed, s, &b), filepath.Join(dir, "snapshots"))
		c.record(err)
	}
}

func (c *Collector) record(err error) {
	if err == nil {
		return
	}
	slog.Warn("telemetry output failed", "error", err)
	c.errs = append(c.errs, err)
}

// Finish writes the end-of-run artifacts: hall of fame, best genes, the
// final population snapshot and, when plot is set, the fitness chart.
func (c *Collector) Finish(plot bool) error {
	out := c.opts.Output
	if out == nil {
		return c.Err()
	}

	c.record(out.WriteHallOfFame(c.opts.HallOfFame))
	if best := c.last.Best(); best.Fitness.IsEvaluated() {
		c.record(out.WriteBestGenes(best.Genes))
	}
	if len(c.last.Population) > 0 {
		_, err := SaveSnapshot(NewSnapshot(c.opts.Seed, c.last, nil), out.Dir())
		c.record(err)
	}
	if plot && len(c.history) > 0 {
		c.record(PlotFitness(c.history, filepath.Join(out.Dir(), "fitness.png")))
	}
	return c.Err()
}

// Err returns all output errors seen so far.
func (c *Collector) Err() error { return errors.Join(c.errs...) }

// History returns the statistics of every finished generation.
func (c *Collector) History() []GenerationStats {
	return append([]GenerationStats(nil), c.history...)
}

// Bookmarks returns the bookmarks raised so far.
func (c *Collector) Bookmarks() []Bookmark {
	return append([]Bookmark(nil), c.raised...)
}
