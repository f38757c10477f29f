// Package dataio reads and writes the text files the tuner works with:
// bracketed matrices, semicolon-delimited vector tables and gene vectors.
// All numbers use '.' as decimal separator regardless of host locale.
package dataio

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/homoluden/fedkf-ga/errkind"
)

// ParseMatrix parses a matrix literal such as "[1, 0 0; 0 1 0]": rows are
// separated by ';', values by commas, tabs or spaces, and the whole matrix
// may be wrapped in brackets.
func ParseMatrix(s string) (*mat.Dense, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]\r\n")

	var rows [][]float64
	for _, line := range strings.Split(s, ";") {
		fields := splitValues(line)
		if len(fields) == 0 {
			continue
		}
		row := make([]float64, len(fields))
		for j, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d: %q is not a number", errkind.Format, len(rows), f)
			}
			row[j] = v
		}
		if len(rows) > 0 && len(row) != len(rows[0]) {
			return nil, fmt.Errorf("%w: row %d has %d values, row 0 has %d",
				errkind.Format, len(rows), len(row), len(rows[0]))
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty matrix", errkind.Format)
	}

	m := mat.NewDense(len(rows), len(rows[0]), nil)
	for i, row := range rows {
		m.SetRow(i, row)
	}
	return m, nil
}

// FormatMatrix renders m in the format ParseMatrix reads.
func FormatMatrix(m mat.Matrix) string {
	r, c := m.Dims()
	var b strings.Builder
	b.WriteByte('[')
	for i := 0; i < r; i++ {
		if i > 0 {
			b.WriteString("; ")
		}
		for j := 0; j < c; j++ {
			if j > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(strconv.FormatFloat(m.At(i, j), 'g', -1, 64))
		}
	}
	b.WriteByte(']')
	return b.String()
}

// ReadMatrixFile parses the matrix stored in path.
func ReadMatrixFile(path string) (*mat.Dense, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading matrix file: %w", err)
	}
	m, err := ParseMatrix(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return m, nil
}

// WriteMatrixFile stores m in path.
func WriteMatrixFile(path string, m mat.Matrix) error {
	if err := os.WriteFile(path, []byte(FormatMatrix(m)+"\n"), 0644); err != nil {
		return fmt.Errorf("writing matrix file: %w", err)
	}
	return nil
}

// ParseGenes parses a flat list of numbers separated by spaces, commas or
// tabs (line breaks are accepted too).
func ParseGenes(s string) ([]float64, error) {
	fields := splitValues(s)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no genes", errkind.Format)
	}
	genes := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: gene %d: %q is not a number", errkind.Format, i, f)
		}
		genes[i] = v
	}
	return genes, nil
}

// ReadGenes reads a gene vector written by WriteGenes or by hand.
func ReadGenes(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading genes file: %w", err)
	}
	genes, err := ParseGenes(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return genes, nil
}

// WriteGenes stores genes space-separated on one line.
func WriteGenes(path string, genes []float64) error {
	parts := make([]string, len(genes))
	for i, g := range genes {
		parts[i] = strconv.FormatFloat(g, 'g', -1, 64)
	}
	if err := os.WriteFile(path, []byte(strings.Join(parts, " ")+"\n"), 0644); err != nil {
		return fmt.Errorf("writing genes file: %w", err)
	}
	return nil
}

func splitValues(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case ',', ' ', '\t', '\r', '\n':
			return true
		}
		return false
	})
}
