package dataio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/homoluden/fedkf-ga/errkind"
)

// Delimiter separates columns in vector tables.
const Delimiter = ';'

// Vector4 is one row of a 4-channel signal or noise table.
type Vector4 struct {
	W float64 `csv:"w"`
	X float64 `csv:"x"`
	Y float64 `csv:"y"`
	Z float64 `csv:"z"`
}

// Vector3 is one row of a 3-channel target or estimate table.
type Vector3 struct {
	X float64 `csv:"x"`
	Y float64 `csv:"y"`
	Z float64 `csv:"z"`
}

// Slice returns the components in column order.
func (v Vector4) Slice() []float64 { return []float64{v.W, v.X, v.Y, v.Z} }

// Slice returns the components in column order.
func (v Vector3) Slice() []float64 { return []float64{v.X, v.Y, v.Z} }

// ReadVector4 parses a headerless 4-column table.
func ReadVector4(r io.Reader) ([]Vector4, error) {
	var rows []Vector4
	if err := readTable(r, 4, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// ReadVector3 parses a headerless 3-column table.
func ReadVector3(r io.Reader) ([]Vector3, error) {
	var rows []Vector3
	if err := readTable(r, 3, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// WriteVector3 writes rows as a headerless 3-column table that ReadVector3
// reads back.
func WriteVector3(w io.Writer, rows []Vector3) error {
	cw := csv.NewWriter(w)
	cw.Comma = Delimiter
	if err := gocsv.MarshalCSVWithoutHeaders(rows, gocsv.NewSafeCSVWriter(cw)); err != nil {
		return fmt.Errorf("writing vector table: %w", err)
	}
	return nil
}

// ReadVector4File reads a 4-column table from path.
func ReadVector4File(path string) ([]Vector4, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening table: %w", err)
	}
	defer f.Close()
	rows, err := ReadVector4(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return rows, nil
}

// ReadVector3File reads a 3-column table from path.
func ReadVector3File(path string) ([]Vector3, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening table: %w", err)
	}
	defer f.Close()
	rows, err := ReadVector3(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return rows, nil
}

// WriteVector3File writes rows to path.
func WriteVector3File(path string, rows []Vector3) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating table: %w", err)
	}
	if err := WriteVector3(f, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readTable(r io.Reader, columns int, out any) error {
	cr := csv.NewReader(r)
	cr.Comma = Delimiter
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = columns

	err := gocsv.UnmarshalCSVWithoutHeaders(cr, out)
	switch {
	case errors.Is(err, gocsv.ErrEmptyCSVFile):
		return fmt.Errorf("%w: empty table", errkind.Format)
	case err != nil:
		return fmt.Errorf("%w: %v", errkind.Format, err)
	}
	return nil
}

// Vector4Matrix stacks rows into a T×4 matrix. rows must not be empty.
func Vector4Matrix(rows []Vector4) *mat.Dense {
	data := make([]float64, 0, 4*len(rows))
	for _, v := range rows {
		data = append(data, v.W, v.X, v.Y, v.Z)
	}
	return mat.NewDense(len(rows), 4, data)
}

// NoiseCovariance estimates the channel covariance of a noise table with
// the unbiased (n-1) estimator.
func NoiseCovariance(rows []Vector4) (*mat.SymDense, error) {
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: covariance needs at least 2 noise rows, got %d", errkind.Dimension, len(rows))
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, Vector4Matrix(rows), nil)
	return &cov, nil
}
