package filter

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/homoluden/fedkf-ga/errkind"
)

// Kalman is a linear Kalman filter over one StateSpace model with a scalar
// measurement. The error covariance P starts at zero and, together with the
// model state, persists for the filter's lifetime.
type Kalman struct {
	model *StateSpace
	q     *mat.Dense // process noise covariance, n×n
	r     float64    // measurement noise variance

	p   *mat.Dense
	eye *mat.Dense
}

// NewKalman wraps model with measurement covariance measCov (1×1) and
// process covariance procCov (n×n, n = model order).
func NewKalman(model *StateSpace, measCov, procCov mat.Matrix) (*Kalman, error) {
	if model == nil || model.A == nil || model.C == nil || model.x == nil {
		return nil, fmt.Errorf("%w: kalman filter needs an initialized model", errkind.Configuration)
	}
	n := model.Order()
	if r, c := measCov.Dims(); r != 1 || c != 1 {
		return nil, fmt.Errorf("%w: measurement covariance is %d×%d, want 1×1", errkind.Dimension, r, c)
	}
	if r, c := procCov.Dims(); r != n || c != n {
		return nil, fmt.Errorf("%w: process covariance is %d×%d, want %d×%d", errkind.Dimension, r, c, n, n)
	}
	return &Kalman{
		model: model,
		q:     mat.DenseCopyOf(procCov),
		r:     measCov.At(0, 0),
		p:     mat.NewDense(n, n, nil),
		eye:   identity(n),
	}, nil
}

// Model returns the wrapped state-space model.
func (k *Kalman) Model() *StateSpace { return k.model }

// Covariance returns a copy of the state error covariance P.
func (k *Kalman) Covariance() *mat.Dense { return mat.DenseCopyOf(k.p) }

// Step runs one predict/correct cycle for measurement z and returns the
// filtered output C·x.
//
// The state prediction is x' = A·x without the B·u term, so input does not
// influence the estimate.
func (k *Kalman) Step(z, input float64) float64 {
	a := k.model.A
	c := k.model.C.RowView(0)

	// P' = A P Aᵀ + Q
	var pPred mat.Dense
	pPred.Product(a, k.p, a.T())
	pPred.Add(&pPred, k.q)

	// K = P' Cᵀ (C P' Cᵀ + R)⁻¹, the innovation covariance is a scalar.
	var pct mat.VecDense
	pct.MulVec(&pPred, c)
	s := mat.Dot(c, &pct) + k.r
	var gain mat.VecDense
	if s != 0 {
		gain.ScaleVec(1/s, &pct)
	} else {
		gain.ReuseAsVec(k.model.Order())
	}

	// P = (I - K C) P'
	var kc, ikc mat.Dense
	kc.Outer(1, &gain, c)
	ikc.Sub(k.eye, &kc)
	k.p.Mul(&ikc, &pPred)

	var xPred mat.VecDense
	xPred.MulVec(a, k.model.x)
	innovation := z - mat.Dot(c, &xPred)
	k.model.x.AddScaledVec(&xPred, innovation, &gain)

	return mat.Dot(c, k.model.x)
}
