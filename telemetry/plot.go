package telemetry

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/homoluden/fedkf-ga/dataio"
)

// PlotFitness renders best and mean fitness per generation as a PNG (or
// any format plot supports, picked from the path extension).
func PlotFitness(history []GenerationStats, path string) error {
	if len(history) == 0 {
		return fmt.Errorf("plotting fitness: no generations")
	}
	best := make(plotter.XYs, len(history))
	mean := make(plotter.XYs, len(history))
	for i, s := range history {
		best[i].X, best[i].Y = float64(s.Generation), s.BestFitness
		mean[i].X, mean[i].Y = float64(s.Generation), s.MeanFitness
	}

	p := plot.New()
	p.Title.Text = "Fitness"
	p.X.Label.Text = "Generation"
	p.Y.Label.Text = "Fitness"
	if err := plotutil.AddLines(p, "best", best, "mean", mean); err != nil {
		return fmt.Errorf("plotting fitness: %w", err)
	}
	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("saving fitness plot: %w", err)
	}
	return nil
}

// PlotTrace renders each axis of the fused estimate against its target,
// one line pair per axis.
func PlotTrace(estimate, target []dataio.Vector3, samplePeriod float64, path string) error {
	n := min(len(estimate), len(target))
	if n == 0 {
		return fmt.Errorf("plotting trace: no samples")
	}

	axes := []string{"x", "y", "z"}
	var lines []any
	for j, axis := range axes {
		est := make(plotter.XYs, n)
		ref := make(plotter.XYs, n)
		for i := 0; i < n; i++ {
			tm := float64(i) * samplePeriod
			est[i].X, est[i].Y = tm, estimate[i].Slice()[j]
			ref[i].X, ref[i].Y = tm, target[i].Slice()[j]
		}
		lines = append(lines, axis+" estimate", est, axis+" target", ref)
	}

	p := plot.New()
	p.Title.Text = "Fused estimate"
	p.X.Label.Text = "Time, s"
	p.Y.Label.Text = "Value"
	if err := plotutil.AddLines(p, lines...); err != nil {
		return fmt.Errorf("plotting trace: %w", err)
	}
	if err := p.Save(10*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("saving trace plot: %w", err)
	}
	return nil
}
