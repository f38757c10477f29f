// Package sim turns a candidate gene vector into a federated Kalman filter
// bank and scores it by replaying recorded sensor data against a reference
// trajectory.
package sim

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/homoluden/fedkf-ga/dataio"
	"github.com/homoluden/fedkf-ga/errkind"
)

// channels is the width of the signal and noise tables.
const channels = 4

// Dataset is the recorded data one evaluation replays. It is read-only
// during a run and shared by all evaluations.
type Dataset struct {
	Geometry   *mat.Dense // H, sensors × state (state ≤ 3)
	SensorCov  mat.Matrix // sensors × sensors
	ProcessCov mat.Matrix // model order × model order
	Signals    []dataio.Vector4
	Noises     []dataio.Vector4
	Targets    []dataio.Vector3
}

// Len returns the number of complete samples available for replay.
func (d *Dataset) Len() int {
	return min(len(d.Signals), len(d.Noises), len(d.Targets))
}

// Validate checks that the dataset fits a bank of the given sensor count.
func (d *Dataset) Validate(sensors int) error {
	if d.Geometry == nil || d.SensorCov == nil || d.ProcessCov == nil {
		return fmt.Errorf("%w: dataset is missing geometry or covariances", errkind.Configuration)
	}
	if sensors < 1 || sensors > channels {
		return fmt.Errorf("%w: %d sensors configured, tables carry %d channels", errkind.Dimension, sensors, channels)
	}
	if r, c := d.Geometry.Dims(); r != sensors || c < 1 || c > 3 {
		return fmt.Errorf("%w: geometry is %d×%d, want %d rows and 1 to 3 columns", errkind.Dimension, r, c, sensors)
	}
	if r, c := d.SensorCov.Dims(); r != sensors || c != sensors {
		return fmt.Errorf("%w: sensor covariance is %d×%d, want %d×%d", errkind.Dimension, r, c, sensors, sensors)
	}
	if d.Len() == 0 {
		return fmt.Errorf("%w: no samples to replay", errkind.Dimension)
	}
	return nil
}

// Paths names the files a Dataset is loaded from. An empty SensorCov
// estimates the sensor covariance from the noise table.
type Paths struct {
	Geometry   string
	ProcessCov string
	SensorCov  string
	Signals    string
	Noises     string
	Targets    string
}

// LoadDataset reads all dataset files for a bank of the given sensor count.
// An estimated sensor covariance keeps the leading sensors×sensors block.
func LoadDataset(p Paths, sensors int) (*Dataset, error) {
	var (
		d   Dataset
		err error
	)
	if d.Geometry, err = dataio.ReadMatrixFile(p.Geometry); err != nil {
		return nil, fmt.Errorf("geometry: %w", err)
	}
	if d.ProcessCov, err = dataio.ReadMatrixFile(p.ProcessCov); err != nil {
		return nil, fmt.Errorf("process covariance: %w", err)
	}
	if d.Signals, err = dataio.ReadVector4File(p.Signals); err != nil {
		return nil, fmt.Errorf("signals: %w", err)
	}
	if d.Noises, err = dataio.ReadVector4File(p.Noises); err != nil {
		return nil, fmt.Errorf("noises: %w", err)
	}
	if d.Targets, err = dataio.ReadVector3File(p.Targets); err != nil {
		return nil, fmt.Errorf("targets: %w", err)
	}

	if p.SensorCov != "" {
		if d.SensorCov, err = dataio.ReadMatrixFile(p.SensorCov); err != nil {
			return nil, fmt.Errorf("sensor covariance: %w", err)
		}
	} else {
		cov, err := dataio.NoiseCovariance(d.Noises)
		if err != nil {
			return nil, fmt.Errorf("sensor covariance: %w", err)
		}
		if sensors < 1 || sensors > channels {
			return nil, fmt.Errorf("%w: %d sensors configured, tables carry %d channels", errkind.Dimension, sensors, channels)
		}
		d.SensorCov = cov.SliceSym(0, sensors)
	}
	if err := d.Validate(sensors); err != nil {
		return nil, err
	}
	return &d, nil
}
