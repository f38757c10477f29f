package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/sourcegraph/conc/iter"
	"gonum.org/v1/gonum/mat"

	"github.com/homoluden/fedkf-ga/dataio"
	"github.com/homoluden/fedkf-ga/errkind"
	"github.com/homoluden/fedkf-ga/filter"
	"github.com/homoluden/fedkf-ga/genetic"
)

// DefaultSamplePeriod is the discretization step of every sensor model.
const DefaultSamplePeriod = 0.01

// Params describe how genes map to filters and how long to simulate.
type Params struct {
	SensorsCount int
	NumOrder     int     // numerator coefficients per sensor
	DenOrder     int     // denominator coefficients per sensor
	SamplePeriod float64 // seconds
	MaxSimLength int     // samples replayed per evaluation, 0 = whole dataset
	FitnessCap   float64 // fitness reported for a zero tracking error
}

// DefaultParams returns the parameters of the four-sensor setup.
func DefaultParams() Params {
	return Params{
		SensorsCount: 4,
		NumOrder:     3,
		DenOrder:     4,
		SamplePeriod: DefaultSamplePeriod,
		MaxSimLength: 1000,
		FitnessCap:   genetic.InfinityFitness,
	}
}

// GenomeSize returns the minimum gene count a candidate needs.
func (p Params) GenomeSize() int { return p.SensorsCount * (p.NumOrder + p.DenOrder) }

// ModelOrder returns the state dimension of each decoded sensor model.
func (p Params) ModelOrder() int { return max(p.NumOrder, p.DenOrder) - 1 }

// Validate checks the parameters on their own.
func (p Params) Validate() error {
	switch {
	case p.SensorsCount <= 0:
		return fmt.Errorf("%w: sensors count %d", errkind.Configuration, p.SensorsCount)
	case p.NumOrder <= 0 || p.DenOrder <= 0:
		return fmt.Errorf("%w: numerator order %d, denominator order %d", errkind.Configuration, p.NumOrder, p.DenOrder)
	case p.ModelOrder() < 1:
		return fmt.Errorf("%w: transfer functions need at least 2 coefficients", errkind.Configuration)
	case !(p.SamplePeriod > 0):
		return fmt.Errorf("%w: sample period %v", errkind.Configuration, p.SamplePeriod)
	case p.MaxSimLength < 0:
		return fmt.Errorf("%w: max simulation length %d", errkind.Configuration, p.MaxSimLength)
	}
	return nil
}

// Recorder receives the fused estimate of every simulated sample.
type Recorder interface {
	Record(t int, estimate []float64)
}

// Result summarizes one simulation.
type Result struct {
	Steps        int
	SquaredError float64
	Fitness      float64 // NaN when the error diverged
}

// Evaluator scores candidates against a dataset. It is safe for
// concurrent use as long as no Recorder is attached.
type Evaluator struct {
	params   Params
	data     *Dataset
	recorder Recorder
}

// NewEvaluator checks params against data.
func NewEvaluator(params Params, data *Dataset) (*Evaluator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("%w: no dataset", errkind.Configuration)
	}
	if err := data.Validate(params.SensorsCount); err != nil {
		return nil, err
	}
	n := params.ModelOrder()
	if r, c := data.ProcessCov.Dims(); r != n || c != n {
		return nil, fmt.Errorf("%w: process covariance is %d×%d, model order is %d", errkind.Dimension, r, c, n)
	}
	if params.FitnessCap == 0 {
		params.FitnessCap = genetic.InfinityFitness
	}
	return &Evaluator{params: params, data: data}, nil
}

// Params returns the evaluator parameters.
func (e *Evaluator) Params() Params { return e.params }

// WithRecorder returns a copy of e that streams estimates to r.
func (e *Evaluator) WithRecorder(r Recorder) *Evaluator {
	cp := *e
	cp.recorder = r
	return &cp
}

// Decode builds the filter bank encoded by genes. Each sensor owns a
// contiguous block of NumOrder numerator then DenOrder denominator
// coefficients; blocks are decoded concurrently.
func (e *Evaluator) Decode(genes []float64) (*filter.FusionBank, error) {
	p := e.params
	if len(genes) < p.GenomeSize() {
		return nil, fmt.Errorf("%w: %d genes, need %d", errkind.Dimension, len(genes), p.GenomeSize())
	}

	block := p.NumOrder + p.DenOrder
	filters := make([]*filter.Kalman, p.SensorsCount)
	errs := make([]error, p.SensorsCount)
	iter.ForEachIdx(filters, func(i int, f **filter.Kalman) {
		off := i * block
		num := genes[off : off+p.NumOrder]
		den := genes[off+p.NumOrder : off+block]

		model, err := filter.C2D(num, den, 1, p.SamplePeriod)
		if err != nil {
			errs[i] = fmt.Errorf("sensor %d: %w", i, err)
			return
		}
		r := mat.NewDense(1, 1, []float64{e.data.SensorCov.At(i, i)})
		*f, errs[i] = filter.NewKalman(model, r, e.data.ProcessCov)
	})
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return filter.NewFusionBank(filters, e.data.Geometry, e.data.SensorCov)
}

// Simulate decodes c and replays the dataset through the bank. The input
// of every filter is the geometry applied to the previous fused estimate.
// A diverging error stops the replay and yields a NaN fitness.
func (e *Evaluator) Simulate(c genetic.Candidate) (Result, error) {
	bank, err := e.Decode(c.Genes)
	if err != nil {
		return Result{}, err
	}

	steps := e.data.Len()
	if e.params.MaxSimLength > 0 {
		steps = min(steps, e.params.MaxSimLength)
	}
	sensors := e.params.SensorsCount
	h := e.data.Geometry
	_, m := h.Dims()

	meas := make([]float64, sensors)
	prev := mat.NewVecDense(m, nil)
	var inputs mat.VecDense

	var sqErr float64
	for t := 0; t < steps; t++ {
		sig, noise := e.data.Signals[t], e.data.Noises[t]
		for i := range meas {
			meas[i] = component4(sig, i) + component4(noise, i)
		}
		inputs.MulVec(h, prev)

		est, err := bank.Step(meas, inputs.RawVector().Data)
		if err != nil {
			return Result{}, err
		}

		target := e.data.Targets[t]
		for j := 0; j < m; j++ {
			d := est.AtVec(j) - component3(target, j)
			sqErr += d * d
		}
		if e.recorder != nil {
			e.recorder.Record(t, est.RawVector().Data)
		}
		if math.IsNaN(sqErr) || math.IsInf(sqErr, 0) {
			return Result{Steps: t + 1, SquaredError: sqErr, Fitness: math.NaN()}, nil
		}
		prev = est
	}

	res := Result{Steps: steps, SquaredError: sqErr}
	if sqErr == 0 {
		res.Fitness = e.params.FitnessCap
	} else {
		res.Fitness = float64(steps) / sqErr
	}
	return res, nil
}

// Evaluate returns the fitness of c. Candidates that cannot be decoded or
// simulated score NaN, which the search clamps to zero.
func (e *Evaluator) Evaluate(c genetic.Candidate) float64 {
	res, err := e.Simulate(c)
	if err != nil {
		slog.Debug("candidate rejected", "error", err)
		return math.NaN()
	}
	return res.Fitness
}

func component4(v dataio.Vector4, i int) float64 {
	switch i {
	case 0:
		return v.W
	case 1:
		return v.X
	case 2:
		return v.Y
	}
	return v.Z
}

func component3(v dataio.Vector3, i int) float64 {
	switch i {
	case 0:
		return v.X
	case 1:
		return v.Y
	}
	return v.Z
}

// TraceRecorder collects fused estimates as 3-column rows. Estimates with
// fewer than 3 components are zero padded.
type TraceRecorder struct {
	mu   sync.Mutex
	rows []dataio.Vector3
}

// Record implements Recorder.
func (r *TraceRecorder) Record(_ int, est []float64) {
	var v [3]float64
	copy(v[:], est)
	r.mu.Lock()
	r.rows = append(r.rows, dataio.Vector3{X: v[0], Y: v[1], Z: v[2]})
	r.mu.Unlock()
}

// Rows returns the recorded estimates.
func (r *TraceRecorder) Rows() []dataio.Vector3 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dataio.Vector3(nil), r.rows...)
}

// WriteFile stores the trace in the table format dataio.ReadVector3File reads.
func (r *TraceRecorder) WriteFile(path string) error {
	return dataio.WriteVector3File(path, r.Rows())
}
