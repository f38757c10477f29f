// Package errkind defines the error categories shared by the optimizer,
// the filter bank and the data readers.
//
// Callers wrap a sentinel with detail and test for it with errors.Is:
//
//	return fmt.Errorf("%w: genome size %d", errkind.Configuration, n)
package errkind

import "errors"

var (
	// Configuration marks a missing or invalid setting: an unbound fitness
	// function, a non-positive genome size, a model stepped before it was
	// initialized.
	Configuration = errors.New("configuration error")

	// Dimension marks mismatched lengths or matrix shapes.
	Dimension = errors.New("dimension error")

	// Format marks malformed numeric text in an input file.
	Format = errors.New("format error")
)
