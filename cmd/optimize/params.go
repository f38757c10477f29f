package main

import (
	"fmt"

	"github.com/homoluden/fedkf-ga/genetic"
	"github.com/homoluden/fedkf-ga/sim"
)

// ParamSpec defines a single optimizable gene.
type ParamSpec struct {
	Name    string  // sensor, polynomial and power, e.g. s1_den2
	Min     float64 // Lower bound
	Max     float64 // Upper bound
	Default float64 // Starting value
}

// ParamVector holds the genes CMA-ES searches over, in genome order.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector lays out one spec per gene of a genome decoded with p:
// per sensor NumOrder numerator then DenOrder denominator coefficients.
// Extra genes beyond the model are named g<index>.
func NewParamVector(p sim.Params, genomeSize int, minGene, maxGene float64) *ParamVector {
	mid := (minGene + maxGene) / 2
	block := p.NumOrder + p.DenOrder
	specs := make([]ParamSpec, genomeSize)
	for i := range specs {
		specs[i] = ParamSpec{Name: geneName(p, block, i), Min: minGene, Max: maxGene, Default: mid}
	}
	return &ParamVector{Specs: specs}
}

func geneName(p sim.Params, block, i int) string {
	sensor, k := i/block, i%block
	switch {
	case sensor >= p.SensorsCount:
		return fmt.Sprintf("g%d", i)
	case k < p.NumOrder:
		return fmt.Sprintf("s%d_num%d", sensor+1, k)
	default:
		return fmt.Sprintf("s%d_den%d", sensor+1, k-p.NumOrder)
	}
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// DefaultVector returns the default parameter values as a slice.
func (pv *ParamVector) DefaultVector() []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Default
	}
	return v
}

// SetDefaults replaces the starting point with genes. Missing genes keep
// their default and out-of-range values are clamped.
func (pv *ParamVector) SetDefaults(genes []float64) {
	for i := range pv.Specs {
		if i < len(genes) {
			pv.Specs[i].Default = min(max(genes[i], pv.Specs[i].Min), pv.Specs[i].Max)
		}
	}
}

// Normalize converts raw parameter values to [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp ensures all values are within bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		val := v[i]
		if val < spec.Min {
			val = spec.Min
		}
		if val > spec.Max {
			val = spec.Max
		}
		clamped[i] = val
	}
	return clamped
}

// Candidate turns raw values into an unevaluated candidate, clamped to
// the gene bounds the genetic search would use.
func (pv *ParamVector) Candidate(raw []float64) genetic.Candidate {
	return genetic.Candidate{Genes: pv.Clamp(raw), Fitness: genetic.Unevaluated()}
}
