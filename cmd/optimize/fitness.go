package main

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"sync"

	"github.com/homoluden/fedkf-ga/genetic"
	"github.com/homoluden/fedkf-ga/sim"
	"github.com/homoluden/fedkf-ga/telemetry"
)

// FitnessEvaluator adapts the tracking objective to a minimization problem
// and keeps the best candidates seen. It is safe for concurrent use.
type FitnessEvaluator struct {
	params *ParamVector
	eval   *sim.Evaluator

	mu         sync.Mutex
	evalCount  int
	best       genetic.Candidate
	hallOfFame *telemetry.HallOfFame
	log        *csv.Writer
}

// NewFitnessEvaluator creates a new evaluator. log may be nil.
func NewFitnessEvaluator(params *ParamVector, eval *sim.Evaluator, hof *telemetry.HallOfFame, log *csv.Writer) *FitnessEvaluator {
	fe := &FitnessEvaluator{params: params, eval: eval, hallOfFame: hof, log: log}
	if log != nil {
		header := []string{"eval", "fitness"}
		for _, spec := range params.Specs {
			header = append(header, spec.Name)
		}
		log.Write(header)
		log.Flush()
	}
	return fe
}

// Objective returns the value CMA-ES minimizes for normalized x: the
// negated tracking fitness, clamped like the genetic search clamps it.
func (fe *FitnessEvaluator) Objective(x []float64) float64 {
	c := fe.params.Candidate(fe.params.Denormalize(x))
	fitness := genetic.Clamp(fe.eval.Evaluate(c))
	c.Fitness = genetic.Evaluated(fitness)
	fe.record(c)
	return -fitness
}

func (fe *FitnessEvaluator) record(c genetic.Candidate) {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	fe.evalCount++
	if !fe.best.Fitness.IsEvaluated() || c.Fitness.OrZero() > fe.best.Fitness.OrZero() {
		fe.best = c.Clone()
	}
	if fe.hallOfFame != nil {
		fe.hallOfFame.Consider(fe.evalCount, c)
	}
	if fe.log != nil {
		row := []string{strconv.Itoa(fe.evalCount), fmt.Sprintf("%.6f", c.Fitness.OrZero())}
		for _, g := range c.Genes {
			row = append(row, fmt.Sprintf("%.6f", g))
		}
		fe.log.Write(row)
		fe.log.Flush()
	}
}

// Best returns the fittest candidate evaluated so far.
func (fe *FitnessEvaluator) Best() (genetic.Candidate, bool) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.best.Clone(), fe.best.Fitness.IsEvaluated()
}

// Evaluations returns the number of objective calls so far.
func (fe *FitnessEvaluator) Evaluations() int {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.evalCount
}
