package filter

import (
	"errors"
	"fmt"
	"math"

	"github.com/sourcegraph/conc/iter"
	"gonum.org/v1/gonum/mat"

	"github.com/homoluden/fedkf-ga/errkind"
)

// parallelThreshold is the minimum sensor count to step filters concurrently.
// Below this, sequential stepping is faster than spawning goroutines.
const parallelThreshold = 8

// FusionBank combines N independent per-sensor filters into one m-vector
// estimate by covariance-weighted least squares:
//
//	x̂ = (Hᵀ R⁻¹ H)⁻¹ Hᵀ R⁻¹ y
//
// where y stacks the filter outputs, H (N×m) maps the fused state to each
// sensor's scalar observable and R (N×N) is the sensor covariance.
type FusionBank struct {
	filters []*Kalman
	h       *mat.Dense
	rInv    *mat.Dense
	proj    *mat.Dense // (Hᵀ R⁻¹ H)⁻¹ Hᵀ R⁻¹, m×N

	outputs []float64
}

// NewFusionBank checks that filter count, H rows and R size agree and
// precomputes R⁻¹ and the fusion projection.
func NewFusionBank(filters []*Kalman, h, r mat.Matrix) (*FusionBank, error) {
	n := len(filters)
	hr, hc := h.Dims()
	rr, rc := r.Dims()
	if n == 0 || hr != n || rr != n || rc != n {
		return nil, fmt.Errorf("%w: %d filters, geometry %d×%d, covariance %d×%d",
			errkind.Dimension, n, hr, hc, rr, rc)
	}

	var rInv mat.Dense
	if err := invert(&rInv, r); err != nil {
		return nil, fmt.Errorf("%w: inverting sensor covariance: %v", errkind.Configuration, err)
	}

	var htRInv, info, infoInv, proj mat.Dense
	htRInv.Mul(h.T(), &rInv)
	info.Mul(&htRInv, h)
	if err := invert(&infoInv, &info); err != nil {
		return nil, fmt.Errorf("%w: geometry is not observable: %v", errkind.Configuration, err)
	}
	proj.Mul(&infoInv, &htRInv)

	return &FusionBank{
		filters: filters,
		h:       mat.DenseCopyOf(h),
		rInv:    &rInv,
		proj:    &proj,
		outputs: make([]float64, n),
	}, nil
}

// Sensors returns the number of filters in the bank.
func (b *FusionBank) Sensors() int { return len(b.filters) }

// StateDim returns the size of the fused estimate.
func (b *FusionBank) StateDim() int {
	_, m := b.h.Dims()
	return m
}

// Geometry returns the observation geometry H.
func (b *FusionBank) Geometry() mat.Matrix { return b.h }

// Step feeds measurement i and input i to filter i and returns the fused
// estimate. Per-sensor steps run independently; fusion waits for all of them.
func (b *FusionBank) Step(measurements, inputs []float64) (*mat.VecDense, error) {
	n := len(b.filters)
	if len(measurements) != n || len(inputs) != n {
		return nil, fmt.Errorf("%w: got %d measurements and %d inputs for %d sensors",
			errkind.Dimension, len(measurements), len(inputs), n)
	}

	if n >= parallelThreshold {
		iter.ForEachIdx(b.filters, func(i int, f **Kalman) {
			b.outputs[i] = (*f).Step(measurements[i], inputs[i])
		})
	} else {
		for i, f := range b.filters {
			b.outputs[i] = f.Step(measurements[i], inputs[i])
		}
	}

	var est mat.VecDense
	est.MulVec(b.proj, mat.NewVecDense(n, b.outputs))
	return &est, nil
}

// invert stores a⁻¹ in dst. Ill-conditioned but invertible matrices are
// accepted; only an exactly singular matrix is an error.
func invert(dst *mat.Dense, a mat.Matrix) error {
	err := dst.Inverse(a)
	var cond mat.Condition
	if errors.As(err, &cond) && !math.IsInf(float64(cond), 1) {
		return nil
	}
	return err
}
