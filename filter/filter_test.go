package filter

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/homoluden/fedkf-ga/errkind"
)

func TestAlignNumDen(t *testing.T) {
	tests := []struct {
		name    string
		num     []float64
		den     []float64
		wantNum []float64
		wantDen []float64
	}{
		{"shorter numerator", []float64{1}, []float64{1, 2, 3}, []float64{0, 0, 1}, []float64{1, 2, 3}},
		{"equal lengths", []float64{4, 5}, []float64{1, 2}, []float64{4, 5}, []float64{1, 2}},
		{"shorter denominator", []float64{1, 2, 3}, []float64{1}, []float64{1, 2, 3}, []float64{1, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			num, den := AlignNumDen(tt.num, tt.den)
			if !equalSlices(num, tt.wantNum) {
				t.Errorf("num = %v, want %v", num, tt.wantNum)
			}
			if !equalSlices(den, tt.wantDen) {
				t.Errorf("den = %v, want %v", den, tt.wantDen)
			}
		})
	}
}

func TestC2DFirstOrderPole(t *testing.T) {
	const ts = 0.01
	ss, err := C2D([]float64{1}, []float64{1, 1}, 1, ts)
	if err != nil {
		t.Fatalf("C2D: %v", err)
	}
	if ss.Order() != 1 {
		t.Fatalf("order = %d, want 1", ss.Order())
	}

	pole := ss.A.At(0, 0)
	if math.Abs(pole-math.Exp(-ts)) > ts*ts*ts {
		t.Errorf("discrete pole = %v, want ≈ %v", pole, math.Exp(-ts))
	}
	if got, want := ss.B.At(0, 0), ts-ts*ts/2; math.Abs(got-want) > 1e-15 {
		t.Errorf("B = %v, want %v", got, want)
	}
	if ss.D != 0 {
		t.Errorf("D = %v, want 0", ss.D)
	}
	if ss.C.At(0, 0) != 1 {
		t.Errorf("C = %v, want 1", ss.C.At(0, 0))
	}
	if ss.Gain != 1 {
		t.Errorf("gain = %v, want 1", ss.Gain)
	}
}

func TestC2DCanonicalForm(t *testing.T) {
	// (s + 3) / (2s² + 4s + 6)
	ss, err := C2D([]float64{1, 3}, []float64{2, 4, 6}, 2, 0.01)
	if err != nil {
		t.Fatalf("C2D: %v", err)
	}
	if ss.Order() != 2 {
		t.Fatalf("order = %d, want 2", ss.Order())
	}
	// Continuous A is [[0 1] [-3 -2]]; the diagonal of A_d is 1 + A·Ts + (A²)ᵢᵢ·Ts²/2.
	if got, want := ss.A.At(0, 1), 0.01+(-2)*0.0001/2; math.Abs(got-want) > 1e-12 {
		t.Errorf("A_d[0,1] = %v, want %v", got, want)
	}
	if got, want := ss.C.At(0, 0), 3.0; got != want {
		t.Errorf("C[0] = %v, want %v", got, want)
	}
	if got, want := ss.C.At(0, 1), 1.0; got != want {
		t.Errorf("C[1] = %v, want %v", got, want)
	}
	if got, want := ss.Gain, 2*6.0/3.0; got != want {
		t.Errorf("gain = %v, want %v", got, want)
	}
}

func TestC2DErrors(t *testing.T) {
	if _, err := C2D([]float64{1}, []float64{1}, 1, 0.01); !errors.Is(err, errkind.Dimension) {
		t.Errorf("single coefficient: err = %v, want Dimension", err)
	}
	if _, err := C2D([]float64{1}, []float64{0, 1}, 1, 0.01); !errors.Is(err, errkind.Configuration) {
		t.Errorf("zero leading denominator: err = %v, want Configuration", err)
	}
}

func TestStateSpaceStep(t *testing.T) {
	ss, err := C2D([]float64{1}, []float64{1, 1}, 1, 0.01)
	if err != nil {
		t.Fatalf("C2D: %v", err)
	}

	y, err := ss.Step(0)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if y != 0 {
		t.Errorf("zero state, zero input: y = %v, want 0", y)
	}

	y1, _ := ss.Step(1)
	y2, _ := ss.Step(1)
	if y1 == y2 {
		t.Errorf("repeated Step(1) returned %v twice, want state to advance", y1)
	}
	if y2 <= 0 {
		t.Errorf("step response y = %v, want positive", y2)
	}

	_, x0, err := ss.StepWithState(1)
	if err != nil {
		t.Fatalf("StepWithState: %v", err)
	}
	if x0 != ss.State()[0] {
		t.Errorf("x0 = %v, want %v", x0, ss.State()[0])
	}
}

func TestStateSpaceUninitialized(t *testing.T) {
	tests := []struct {
		name string
		ss   *StateSpace
	}{
		{"empty", &StateSpace{}},
		{"zero sample period", mustStateSpace(t, 0, 1)},
		{"infinite gain", mustStateSpace(t, 0.01, math.Inf(1))},
		{"nan gain", mustStateSpace(t, 0.01, math.NaN())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.ss.Step(1); !errors.Is(err, errkind.Configuration) {
				t.Errorf("Step err = %v, want Configuration", err)
			}
		})
	}
}

func TestParseTransferFunction(t *testing.T) {
	num, den, err := ParseTransferFunction("[1 2.5]", "[1,\t-3e-1, 4]")
	if err != nil {
		t.Fatalf("ParseTransferFunction: %v", err)
	}
	if !equalSlices(num, []float64{1, 2.5}) {
		t.Errorf("num = %v", num)
	}
	if !equalSlices(den, []float64{1, -0.3, 4}) {
		t.Errorf("den = %v", den)
	}

	if _, _, err := ParseTransferFunction("[1 x]", "[1 1]"); !errors.Is(err, errkind.Format) {
		t.Errorf("bad number: err = %v, want Format", err)
	}
	if _, _, err := ParseTransferFunction("", "[1 1]"); !errors.Is(err, errkind.Format) {
		t.Errorf("empty numerator: err = %v, want Format", err)
	}
}

func TestKalmanConvergesOnConstantMeasurement(t *testing.T) {
	ss, err := C2D([]float64{1}, []float64{1, 1}, 1, 0.01)
	if err != nil {
		t.Fatalf("C2D: %v", err)
	}
	kf, err := NewKalman(ss, mat.NewDense(1, 1, []float64{1e-2}), mat.NewDense(1, 1, []float64{1e-3}))
	if err != nil {
		t.Fatalf("NewKalman: %v", err)
	}

	const z = 2.0
	prev := math.Inf(1)
	for i := 0; i < 200; i++ {
		dev := math.Abs(kf.Step(z, 0) - z)
		if dev > prev+1e-12 {
			t.Fatalf("tick %d: deviation %v grew from %v", i, dev, prev)
		}
		prev = dev
	}
	if prev > 0.1 {
		t.Errorf("final deviation = %v, want < 0.1", prev)
	}
}

func TestKalmanZeroNoiseStaysFinite(t *testing.T) {
	ss, _ := C2D([]float64{1}, []float64{1, 1}, 1, 0.01)
	kf, err := NewKalman(ss, mat.NewDense(1, 1, []float64{0}), mat.NewDense(1, 1, []float64{0}))
	if err != nil {
		t.Fatalf("NewKalman: %v", err)
	}
	for i := 0; i < 10; i++ {
		if y := kf.Step(1, 0); math.IsNaN(y) || math.IsInf(y, 0) {
			t.Fatalf("tick %d: output %v is not finite", i, y)
		}
	}
}

func TestNewKalmanDimensions(t *testing.T) {
	ss, _ := C2D([]float64{1}, []float64{1, 3, 2}, 1, 0.01)
	if _, err := NewKalman(ss, mat.NewDense(1, 1, []float64{1}), mat.NewDense(1, 1, []float64{1})); !errors.Is(err, errkind.Dimension) {
		t.Errorf("1×1 process covariance for order 2: err = %v, want Dimension", err)
	}
	if _, err := NewKalman(ss, mat.NewDense(2, 2, nil), mat.NewDense(2, 2, nil)); !errors.Is(err, errkind.Dimension) {
		t.Errorf("2×2 measurement covariance: err = %v, want Dimension", err)
	}
}

func TestFusionBankStep(t *testing.T) {
	for _, sensors := range []int{4, parallelThreshold + 1} {
		bank := identityBank(t, sensors)

		// Direct feed-through filters reproduce the measurement on the first tick.
		meas := make([]float64, sensors)
		for i := range meas {
			meas[i] = float64(i%3 + 1)
		}
		est, err := bank.Step(meas, make([]float64, sensors))
		if err != nil {
			t.Fatalf("%d sensors: Step: %v", sensors, err)
		}
		if est.Len() != 3 {
			t.Fatalf("%d sensors: estimate has %d elements, want 3", sensors, est.Len())
		}
		for j := 0; j < 3; j++ {
			if math.Abs(est.AtVec(j)-float64(j+1)) > 1e-9 {
				t.Errorf("%d sensors: est[%d] = %v, want %v", sensors, j, est.AtVec(j), j+1)
			}
		}
	}
}

func TestFusionBankDimensionErrors(t *testing.T) {
	bank := identityBank(t, 4)
	if _, err := bank.Step(make([]float64, 3), make([]float64, 4)); !errors.Is(err, errkind.Dimension) {
		t.Errorf("3 measurements: err = %v, want Dimension", err)
	}
	if _, err := bank.Step(make([]float64, 4), make([]float64, 5)); !errors.Is(err, errkind.Dimension) {
		t.Errorf("5 inputs: err = %v, want Dimension", err)
	}

	filters := bank.filters[:3]
	if _, err := NewFusionBank(filters, mat.NewDense(4, 3, nil), identity(4)); !errors.Is(err, errkind.Dimension) {
		t.Errorf("3 filters, 4 geometry rows: err = %v, want Dimension", err)
	}
}

func TestFusionBankSingularCovariance(t *testing.T) {
	bank := identityBank(t, 4)
	if _, err := NewFusionBank(bank.filters, bank.h, mat.NewDense(4, 4, nil)); !errors.Is(err, errkind.Configuration) {
		t.Errorf("zero covariance: err = %v, want Configuration", err)
	}
}

// identityBank builds a bank whose filters trust measurements completely
// (zero measurement noise), over a geometry cycling through the axes.
func identityBank(t *testing.T, sensors int) *FusionBank {
	t.Helper()
	filters := make([]*Kalman, sensors)
	h := mat.NewDense(sensors, 3, nil)
	for i := range filters {
		ss, err := C2D([]float64{1}, []float64{1, 1}, 1, 0.01)
		if err != nil {
			t.Fatalf("C2D: %v", err)
		}
		kf, err := NewKalman(ss, mat.NewDense(1, 1, []float64{0}), mat.NewDense(1, 1, []float64{1}))
		if err != nil {
			t.Fatalf("NewKalman: %v", err)
		}
		filters[i] = kf
		h.Set(i, i%3, 1)
	}
	bank, err := NewFusionBank(filters, h, identity(sensors))
	if err != nil {
		t.Fatalf("NewFusionBank: %v", err)
	}
	return bank
}

func mustStateSpace(t *testing.T, ts, gain float64) *StateSpace {
	t.Helper()
	ss, err := NewStateSpace(identity(1), mat.NewDense(1, 1, []float64{1}), mat.NewDense(1, 1, []float64{1}), 0, ts, gain)
	if err != nil {
		t.Fatalf("NewStateSpace: %v", err)
	}
	return ss
}

func equalSlices(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
