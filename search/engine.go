// Package search runs the generational genetic search: roulette-wheel
// selection, mutation, three-child crossover and elitist replacement, with
// concurrent fitness evaluation.
package search

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/floats"

	"github.com/homoluden/fedkf-ga/errkind"
	"github.com/homoluden/fedkf-ga/genetic"
)

// FitnessFunc scores a candidate; higher is better. It is called from
// several goroutines at once and must not share mutable state.
type FitnessFunc func(genetic.Candidate) float64

// Phase names reported to a PhaseTimer.
const (
	PhaseInitiation  = "initiation"
	PhaseSelection   = "selection"
	PhaseVariation   = "variation"
	PhaseEvaluation  = "evaluation"
	PhaseReplacement = "replacement"
)

// PhaseTimer receives phase boundaries of every generation.
type PhaseTimer interface {
	StartTick()
	StartPhase(phase string)
	EndTick()
}

// Engine drives one search run. It is not safe for concurrent use; only
// fitness evaluation fans out to worker goroutines.
type Engine struct {
	cfg      Config
	fitness  FitnessFunc
	observer Observer
	timer    PhaseTimer

	ops        *genetic.Operators
	population []genetic.Candidate
	table      []float64
	total      float64
	generation int
	best       genetic.Candidate

	evaluations atomic.Int64
}

// New creates an engine for cfg. The configuration is checked by Run.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// SetFitness binds the objective.
func (e *Engine) SetFitness(f FitnessFunc) { e.fitness = f }

// SetObserver installs a progress observer; nil disables notifications.
func (e *Engine) SetObserver(o Observer) { e.observer = o }

// SetPhaseTimer installs a timer for per-generation phase timings.
func (e *Engine) SetPhaseTimer(t PhaseTimer) { e.timer = t }

// Config returns the run settings.
func (e *Engine) Config() Config { return e.cfg }

// Run initiates the population and advances it exactly cfg.Generations
// times. The context is checked between generations.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Initiate(); err != nil {
		return err
	}
	for g := 0; g < e.cfg.Generations; g++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.Advance(); err != nil {
			return fmt.Errorf("generation %d: %w", g+1, err)
		}
	}
	return nil
}

// Initiate builds and evaluates the first population.
func (e *Engine) Initiate() error {
	if e.fitness == nil {
		return fmt.Errorf("%w: no fitness function bound", errkind.Configuration)
	}
	if err := e.cfg.Validate(); err != nil {
		return err
	}
	ops, err := genetic.NewOperators(e.cfg.operatorParams(), e.newRand())
	if err != nil {
		return err
	}
	e.ops = ops
	e.generation = 0
	e.best = genetic.Candidate{}
	e.evaluations.Store(0)

	e.startTick(0)
	e.phase(PhaseInitiation)
	pop := make([]genetic.Candidate, e.cfg.PopulationSize)
	for i := range pop {
		if pop[i], err = e.ops.Generate(e.cfg.GenomeSize); err != nil {
			return err
		}
	}

	e.phase(PhaseEvaluation)
	p := e.newPool()
	for i := range pop {
		p.Go(func() {
			pop[i] = e.evaluate(pop[i])
		})
	}
	p.Wait()

	e.phase(PhaseReplacement)
	sort.SliceStable(pop, func(i, j int) bool {
		return pop[i].Fitness.OrZero() < pop[j].Fitness.OrZero()
	})
	e.population = pop
	e.rebuildTable()
	e.endTick()
	return nil
}

// Advance breeds one generation and replaces the population with the
// fittest PopulationSize candidates of the offspring pool.
func (e *Engine) Advance() error {
	if e.ops == nil || len(e.population) == 0 {
		return fmt.Errorf("%w: population not initiated", errkind.Configuration)
	}
	n := len(e.population)
	e.generation++
	e.startTick(e.generation)

	next := newCollector(n * 2)
	if e.cfg.Elitism {
		next.add(e.population[n-1].Clone())
	}

	var offspring []genetic.Candidate
	for i := 0; i < e.cfg.PairsPerGeneration() && i < n; i++ {
		e.phase(PhaseSelection)
		idx1 := n - 1 - i
		idx2 := e.pickMate(idx1)

		e.phase(PhaseVariation)
		p1, err := e.ops.Mutate(e.population[idx1])
		if err != nil {
			return err
		}
		p2, err := e.ops.Mutate(e.population[idx2])
		if err != nil {
			return err
		}
		if e.ops.Float64() < e.cfg.CrossoverRate {
			children, err := e.ops.Crossover(p1, p2)
			if err != nil {
				return err
			}
			offspring = append(offspring, children[:]...)
		} else {
			offspring = append(offspring, p1, p2)
		}
	}

	e.phase(PhaseEvaluation)
	e.evaluateInto(offspring, next)

	e.phase(PhaseReplacement)
	e.population = e.replace(next.sorted(), n)
	e.rebuildTable()
	e.endTick()
	return nil
}

// RouletteSelect draws an index with probability proportional to fitness.
// When the total fitness is not positive and finite it falls back to a
// uniform draw.
func (e *Engine) RouletteSelect() int {
	n := len(e.table)
	if n == 0 {
		return -1
	}
	if !(e.total > 0) || math.IsInf(e.total, 1) {
		return e.ops.IntN(n)
	}
	u := e.ops.Float64() * e.total
	i := sort.SearchFloat64s(e.table, u)
	if i >= n {
		i = n - 1
	}
	return i
}

// Population returns a copy of the current population, ascending by fitness.
func (e *Engine) Population() []genetic.Candidate {
	out := make([]genetic.Candidate, len(e.population))
	for i, c := range e.population {
		out[i] = c.Clone()
	}
	return out
}

// Best returns the fittest candidate of the current population.
func (e *Engine) Best() (genetic.Candidate, bool) {
	if len(e.population) == 0 {
		return genetic.Candidate{}, false
	}
	return e.population[len(e.population)-1].Clone(), true
}

// TotalFitness returns the fitness sum of the current population.
func (e *Engine) TotalFitness() float64 { return e.total }

// CumulativeFitness returns a copy of the prefix-sum table.
func (e *Engine) CumulativeFitness() []float64 { return append([]float64(nil), e.table...) }

// Generation returns the number of completed Advance calls.
func (e *Engine) Generation() int { return e.generation }

// Evaluations returns the number of fitness function calls so far.
func (e *Engine) Evaluations() int64 { return e.evaluations.Load() }

// pickMate draws a roulette mate for idx that is a different, dissimilar
// candidate. After MaxResample draws it settles for the last draw with a
// different index, so a converged population cannot stall the run.
func (e *Engine) pickMate(idx int) int {
	attempts := e.cfg.MaxResample
	if attempts <= 0 {
		attempts = DefaultMaxResample
	}
	last := -1
	for a := 0; a < attempts; a++ {
		j := e.RouletteSelect()
		if j == idx {
			continue
		}
		last = j
		if !e.ops.IsSimilar(e.population[idx], e.population[j]) {
			return j
		}
	}
	if last >= 0 {
		return last
	}
	j := e.ops.IntN(len(e.population) - 1)
	if j >= idx {
		j++
	}
	return j
}

// evaluateInto scores unevaluated candidates concurrently and appends all
// of them to c.
func (e *Engine) evaluateInto(cands []genetic.Candidate, c *collector) {
	p := e.newPool()
	for i := range cands {
		seq := c.reserve()
		if cands[i].Fitness.IsEvaluated() {
			c.put(seq, cands[i])
			continue
		}
		p.Go(func() {
			c.put(seq, e.evaluate(cands[i]))
		})
	}
	p.Wait()
}

func (e *Engine) evaluate(c genetic.Candidate) genetic.Candidate {
	e.evaluations.Add(1)
	return c.WithFitness(e.fitness(c))
}

// replace keeps the n fittest of ranked (descending) and returns them in
// ascending order. A short pool is topped up with the current population's
// best candidates.
func (e *Engine) replace(ranked []genetic.Candidate, n int) []genetic.Candidate {
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	for i := len(e.population) - 1; len(ranked) < n && i >= 0; i-- {
		ranked = append(ranked, e.population[i])
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Fitness.OrZero() > ranked[j].Fitness.OrZero()
	})
	next := make([]genetic.Candidate, len(ranked))
	for i, c := range ranked {
		next[len(ranked)-1-i] = c
	}
	return next
}

func (e *Engine) rebuildTable() {
	values := make([]float64, len(e.population))
	for i, c := range e.population {
		values[i] = c.Fitness.OrZero()
	}
	e.table = floats.CumSum(make([]float64, len(values)), values)
	e.total = floats.Sum(values)
}

func (e *Engine) newPool() *pool.Pool {
	workers := e.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return pool.New().WithMaxGoroutines(workers)
}

func (e *Engine) newRand() *rand.Rand {
	seed := e.cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func (e *Engine) startTick(gen int) {
	if e.timer != nil {
		e.timer.StartTick()
	}
	if e.observer != nil {
		e.observer.GenerationStarted(gen)
	}
}

func (e *Engine) phase(name string) {
	if e.timer != nil {
		e.timer.StartPhase(name)
	}
}

func (e *Engine) endTick() {
	if e.timer != nil {
		e.timer.EndTick()
	}
	if e.observer == nil {
		return
	}
	best := e.population[len(e.population)-1]
	if !e.best.Fitness.IsEvaluated() || best.Fitness.OrZero() > e.best.Fitness.OrZero() {
		e.best = best.Clone()
		e.observer.NewBest(e.generation, e.best.Clone())
	}
	e.observer.GenerationFinished(Snapshot{
		Generation:   e.generation,
		Population:   e.Population(),
		TotalFitness: e.total,
		Evaluations:  e.Evaluations(),
	})
}

// collector is the offspring pool shared by evaluation goroutines. Entries
// keep their submission order so ties rank deterministically.
type collector struct {
	mu    sync.Mutex
	next  int
	items []collected
}

type collected struct {
	seq int
	c   genetic.Candidate
}

func newCollector(capacity int) *collector {
	return &collector{items: make([]collected, 0, capacity)}
}

func (c *collector) reserve() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := c.next
	c.next++
	return seq
}

func (c *collector) put(seq int, cand genetic.Candidate) {
	c.mu.Lock()
	c.items = append(c.items, collected{seq: seq, c: cand})
	c.mu.Unlock()
}

func (c *collector) add(cand genetic.Candidate) { c.put(c.reserve(), cand) }

// sorted returns the candidates by descending fitness, ties by submission.
func (c *collector) sorted() []genetic.Candidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	sort.Slice(c.items, func(i, j int) bool {
		fi, fj := c.items[i].c.Fitness.OrZero(), c.items[j].c.Fitness.OrZero()
		if fi != fj {
			return fi > fj
		}
		return c.items[i].seq < c.items[j].seq
	})
	out := make([]genetic.Candidate, len(c.items))
	for i, it := range c.items {
		out[i] = it.c
	}
	return out
}
