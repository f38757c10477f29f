// Package filter implements the per-sensor models and filters tuned by the
// optimizer: transfer-function discretization, a scalar-measurement Kalman
// filter and the weighted least-squares fusion of several filters.
package filter

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/homoluden/fedkf-ga/errkind"
)

// StateSpace is a discrete single-input single-output model
//
//	x[k+1] = A x[k] + B u[k]
//	y[k]   = K (C x[k]) + D u[k]
//
// The state x persists between Step calls.
type StateSpace struct {
	A    *mat.Dense // n×n transition
	B    *mat.Dense // n×1 input
	C    *mat.Dense // 1×n output row
	D    float64    // feed-through
	Gain float64    // K
	Ts   float64    // sample period, seconds

	x *mat.VecDense
}

// NewStateSpace builds a model with a zero state vector.
func NewStateSpace(a, b, c *mat.Dense, d, ts, gain float64) (*StateSpace, error) {
	if a == nil || b == nil || c == nil {
		return nil, fmt.Errorf("%w: state-space matrices must be set", errkind.Configuration)
	}
	n, cols := a.Dims()
	if n != cols {
		return nil, fmt.Errorf("%w: A is %d×%d, want square", errkind.Dimension, n, cols)
	}
	if br, bc := b.Dims(); br != n || bc != 1 {
		return nil, fmt.Errorf("%w: B is %d×%d, want %d×1", errkind.Dimension, br, bc, n)
	}
	if cr, cc := c.Dims(); cr != 1 || cc != n {
		return nil, fmt.Errorf("%w: C is %d×%d, want 1×%d", errkind.Dimension, cr, cc, n)
	}
	return &StateSpace{A: a, B: b, C: c, D: d, Gain: gain, Ts: ts, x: mat.NewVecDense(n, nil)}, nil
}

// Order returns the dimension of the state vector.
func (s *StateSpace) Order() int {
	if s.A == nil {
		return 0
	}
	n, _ := s.A.Dims()
	return n
}

// Initialized reports whether the model can be stepped: all matrices set,
// a positive sample period and a finite gain.
func (s *StateSpace) Initialized() bool {
	return s.A != nil && s.B != nil && s.C != nil && s.x != nil &&
		s.Ts >= math.SmallestNonzeroFloat64 &&
		!math.IsNaN(s.Gain) && !math.IsInf(s.Gain, 0)
}

// Step advances the model one tick with input u and returns the output
// computed from the state before the advance.
func (s *StateSpace) Step(u float64) (float64, error) {
	if !s.Initialized() {
		return 0, fmt.Errorf("%w: state-space model stepped before initialization", errkind.Configuration)
	}
	var next mat.VecDense
	next.MulVec(s.A, s.x)
	next.AddScaledVec(&next, u, s.B.ColView(0))

	y := mat.Dot(s.C.RowView(0), s.x)
	s.x.CopyVec(&next)
	return y*s.Gain + s.D*u, nil
}

// StepWithState is Step that also returns the first state component after
// the advance.
func (s *StateSpace) StepWithState(u float64) (y, x0 float64, err error) {
	y, err = s.Step(u)
	if err != nil {
		return 0, 0, err
	}
	return y, s.x.AtVec(0), nil
}

// State returns a copy of the state vector.
func (s *StateSpace) State() []float64 {
	if s.x == nil {
		return nil
	}
	return mat.Col(nil, 0, s.x)
}

// SetState overwrites the state vector.
func (s *StateSpace) SetState(x []float64) error {
	if len(x) != s.Order() {
		return fmt.Errorf("%w: state has %d elements, model order is %d", errkind.Dimension, len(x), s.Order())
	}
	for i, v := range x {
		s.x.SetVec(i, v)
	}
	return nil
}

// AlignNumDen brings numerator and denominator to a common length. A shorter
// (or equal) numerator is padded with leading zeros, a shorter denominator
// with trailing zeros. The inputs are not modified.
func AlignNumDen(num, den []float64) (alignedNum, alignedDen []float64) {
	if d := len(den) - len(num); d >= 0 {
		alignedNum = make([]float64, len(den))
		copy(alignedNum[d:], num)
		alignedDen = append([]float64(nil), den...)
		return alignedNum, alignedDen
	}
	alignedNum = append([]float64(nil), num...)
	alignedDen = make([]float64, len(num))
	copy(alignedDen, den)
	return alignedNum, alignedDen
}

// C2D converts the continuous transfer function gain·num(s)/den(s) into a
// discrete controllable-canonical model with sample period ts.
//
// The matrix exponential is truncated after the second-order term
// (A_d = I + A·Ts + A²·Ts²/2), so the discrete model carries an O(Ts³)
// error per step.
func C2D(num, den []float64, gain, ts float64) (*StateSpace, error) {
	num, den = AlignNumDen(num, den)
	n := len(num)
	if n < 2 {
		return nil, fmt.Errorf("%w: transfer function needs at least 2 coefficients, got %d", errkind.Dimension, n)
	}
	if den[0] == 0 {
		return nil, fmt.Errorf("%w: leading denominator coefficient is zero", errkind.Configuration)
	}
	order := n - 1

	a := mat.NewDense(order, order, nil)
	for i := 0; i < order-1; i++ {
		a.Set(i, i+1, 1)
	}
	for i := 0; i < order; i++ {
		a.Set(order-1, i, -den[n-1-i]/den[0])
	}
	b := mat.NewDense(order, 1, nil)
	b.Set(order-1, 0, 1/den[0])

	d := num[0] / den[0]
	c := mat.NewDense(1, order, nil)
	for i := 0; i < order; i++ {
		c.Set(0, i, num[n-1-i]-den[n-1-i]*d)
	}

	eye := identity(order)

	var aTs, a2 mat.Dense
	aTs.Scale(ts, a)
	a2.Mul(a, a)
	a2.Scale(ts*ts/2, &a2)

	var ad mat.Dense
	ad.Add(eye, &aTs)
	ad.Add(&ad, &a2)

	var series, bd, aHalf mat.Dense
	series.Scale(ts, eye)
	aHalf.Scale(ts*ts/2, a)
	series.Add(&series, &aHalf)
	bd.Mul(&series, b)

	return NewStateSpace(&ad, &bd, c, d, ts, gain*den[n-1]/num[n-1])
}

// ParseTransferFunction parses bracketed coefficient lists such as
// "[1 0.5 2]" for the numerator and denominator. Values are separated by
// spaces, tabs, newlines or commas.
func ParseTransferFunction(numStr, denStr string) (num, den []float64, err error) {
	if strings.TrimSpace(numStr) == "" || strings.TrimSpace(denStr) == "" {
		return nil, nil, fmt.Errorf("%w: empty transfer function", errkind.Format)
	}
	num, err = parseCoefficients(numStr)
	if err != nil {
		return nil, nil, fmt.Errorf("numerator: %w", err)
	}
	den, err = parseCoefficients(denStr)
	if err != nil {
		return nil, nil, fmt.Errorf("denominator: %w", err)
	}
	return num, den, nil
}

func parseCoefficients(s string) ([]float64, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == ','
	})
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", errkind.Format, f)
		}
		out = append(out, v)
	}
	return out, nil
}

func identity(n int) *mat.Dense {
	eye := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		eye.Set(i, i, 1)
	}
	return eye
}
