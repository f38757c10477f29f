package telemetry

import (
	"log/slog"
	"time"

	"github.com/homoluden/fedkf-ga/search"
)

// phases lists the search phases in the order they run.
var phases = []string{
	search.PhaseInitiation,
	search.PhaseSelection,
	search.PhaseVariation,
	search.PhaseEvaluation,
	search.PhaseReplacement,
}

// PerfSample holds timing data for a single generation.
type PerfSample struct {
	Duration time.Duration
	Phases   map[string]time.Duration
}

// PerfCollector tracks generation timings over a rolling window. It
// implements search.PhaseTimer.
type PerfCollector struct {
	windowSize    int
	samples       []PerfSample
	writeIndex    int
	sampleCount   int
	currentPhases map[string]time.Duration
	tickStart     time.Time
	phaseStart    time.Time
	lastPhase     string
}

// NewPerfCollector creates a new performance collector.
// windowSize: number of generations to average over.
func NewPerfCollector(windowSize int) *PerfCollector {
	if windowSize < 1 {
		windowSize = 100
	}
	return &PerfCollector{
		windowSize:    windowSize,
		samples:       make([]PerfSample, windowSize),
		currentPhases: make(map[string]time.Duration),
	}
}

// StartTick begins timing a new generation.
func (p *PerfCollector) StartTick() {
	p.tickStart = time.Now()
	p.currentPhases = make(map[string]time.Duration)
	p.lastPhase = ""
}

// StartPhase begins timing a specific phase.
func (p *PerfCollector) StartPhase(phase string) {
	now := time.Now()
	// End previous phase if any
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
	}
	p.phaseStart = now
	p.lastPhase = phase
}

// EndTick finishes timing the current generation and records the sample.
func (p *PerfCollector) EndTick() {
	now := time.Now()
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
	}

	p.samples[p.writeIndex] = PerfSample{
		Duration: now.Sub(p.tickStart),
		Phases:   p.currentPhases,
	}
	p.writeIndex = (p.writeIndex + 1) % p.windowSize
	if p.sampleCount < p.windowSize {
		p.sampleCount++
	}
}

// Last returns the most recent sample.
func (p *PerfCollector) Last() (PerfSample, bool) {
	if p.sampleCount == 0 {
		return PerfSample{}, false
	}
	return p.samples[(p.writeIndex+p.windowSize-1)%p.windowSize], true
}

// PerfStats holds aggregated performance statistics.
type PerfStats struct {
	AvgDuration time.Duration
	MinDuration time.Duration
	MaxDuration time.Duration

	// Phase breakdown (average durations)
	PhaseAvg map[string]time.Duration

	// Phase percentages of total generation time
	PhasePct map[string]float64

	GenerationsPerSecond float64
}

// Stats computes aggregated statistics over the current window.
func (p *PerfCollector) Stats() PerfStats {
	if p.sampleCount == 0 {
		return PerfStats{
			PhaseAvg: make(map[string]time.Duration),
			PhasePct: make(map[string]float64),
		}
	}

	var total, minDur, maxDur time.Duration
	phaseSum := make(map[string]time.Duration)

	for i := 0; i < p.sampleCount; i++ {
		s := p.samples[i]
		total += s.Duration

		if i == 0 || s.Duration < minDur {
			minDur = s.Duration
		}
		if s.Duration > maxDur {
			maxDur = s.Duration
		}
		for phase, dur := range s.Phases {
			phaseSum[phase] += dur
		}
	}

	avg := total / time.Duration(p.sampleCount)

	phaseAvg := make(map[string]time.Duration)
	phasePct := make(map[string]float64)
	for phase, sum := range phaseSum {
		phaseAvg[phase] = sum / time.Duration(p.sampleCount)
		if avg > 0 {
			phasePct[phase] = float64(phaseAvg[phase]) / float64(avg) * 100
		}
	}

	var perSec float64
	if avg > 0 {
		perSec = float64(time.Second) / float64(avg)
	}

	return PerfStats{
		AvgDuration:          avg,
		MinDuration:          minDur,
		MaxDuration:          maxDur,
		PhaseAvg:             phaseAvg,
		PhasePct:             phasePct,
		GenerationsPerSecond: perSec,
	}
}

// LogStats logs performance statistics.
func (s PerfStats) LogStats() {
	attrs := []any{
		"avg_gen_us", s.AvgDuration.Microseconds(),
		"min_gen_us", s.MinDuration.Microseconds(),
		"max_gen_us", s.MaxDuration.Microseconds(),
		"gens_per_sec", s.GenerationsPerSecond,
	}
	for _, phase := range phases {
		if pct, ok := s.PhasePct[phase]; ok && pct > 0.1 {
			attrs = append(attrs, phase+"_pct", float64(int(pct*10))/10)
		}
	}
	slog.Info("perf", attrs...)
}

// LogValue implements slog.LogValuer for structured logging.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int64("avg_gen_us", s.AvgDuration.Microseconds()),
		slog.Int64("min_gen_us", s.MinDuration.Microseconds()),
		slog.Int64("max_gen_us", s.MaxDuration.Microseconds()),
		slog.Float64("gens_per_sec", s.GenerationsPerSecond),
	}
	for _, phase := range phases {
		if pct, ok := s.PhasePct[phase]; ok {
			attrs = append(attrs, slog.Float64(phase+"_pct", pct))
		}
	}
	return slog.GroupValue(attrs...)
}

// PerfStatsCSV is a flat struct for CSV export of performance stats.
type PerfStatsCSV struct {
	Generation     int     `csv:"generation"`
	AvgGenUS       int64   `csv:"avg_gen_us"`
	MinGenUS       int64   `csv:"min_gen_us"`
	MaxGenUS       int64   `csv:"max_gen_us"`
	GensPerSec     float64 `csv:"gens_per_sec"`
	InitiationPct  float64 `csv:"initiation_pct"`
	SelectionPct   float64 `csv:"selection_pct"`
	VariationPct   float64 `csv:"variation_pct"`
	EvaluationPct  float64 `csv:"evaluation_pct"`
	ReplacementPct float64 `csv:"replacement_pct"`
}

// ToCSV converts PerfStats to a flat CSV-friendly struct.
func (s PerfStats) ToCSV(generation int) PerfStatsCSV {
	return PerfStatsCSV{
		Generation:     generation,
		AvgGenUS:       s.AvgDuration.Microseconds(),
		MinGenUS:       s.MinDuration.Microseconds(),
		MaxGenUS:       s.MaxDuration.Microseconds(),
		GensPerSec:     s.GenerationsPerSecond,
		InitiationPct:  s.PhasePct[search.PhaseInitiation],
		SelectionPct:   s.PhasePct[search.PhaseSelection],
		VariationPct:   s.PhasePct[search.PhaseVariation],
		EvaluationPct:  s.PhasePct[search.PhaseEvaluation],
		ReplacementPct: s.PhasePct[search.PhaseReplacement],
	}
}
