package search

import "github.com/homoluden/fedkf-ga/genetic"

// Snapshot describes the population at the end of a generation.
// Generation 0 is the initiated population.
type Snapshot struct {
	Generation   int
	Population   []genetic.Candidate // ascending by fitness
	TotalFitness float64
	Evaluations  int64
}

// Best returns the fittest candidate of the snapshot.
func (s Snapshot) Best() genetic.Candidate {
	if len(s.Population) == 0 {
		return genetic.Candidate{}
	}
	return s.Population[len(s.Population)-1]
}

// Fitnesses returns the fitness values in population order.
func (s Snapshot) Fitnesses() []float64 {
	out := make([]float64, len(s.Population))
	for i, c := range s.Population {
		out[i] = c.Fitness.OrZero()
	}
	return out
}

// Observer is notified at generation checkpoints. Calls happen on the
// engine goroutine, never during evaluation.
type Observer interface {
	GenerationStarted(gen int)
	GenerationFinished(s Snapshot)
	NewBest(gen int, best genetic.Candidate)
}

// Observers fans notifications out to several observers in order.
type Observers []Observer

func (o Observers) GenerationStarted(gen int) {
	for _, ob := range o {
		ob.GenerationStarted(gen)
	}
}

func (o Observers) GenerationFinished(s Snapshot) {
	for _, ob := range o {
		ob.GenerationFinished(s)
	}
}

func (o Observers) NewBest(gen int, best genetic.Candidate) {
	for _, ob := range o {
		ob.NewBest(gen, best)
	}
}
