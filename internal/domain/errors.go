package domain

import (
	"errors"
	"fmt"
)

// Retrieval errors. Adapters wrap backend-native failures into one of these
// so callers can tell "no data yet" apart from "broken".
var (
	// ErrConfiguration indicates a required parameter is missing for the selected backend.
	ErrConfiguration = errors.New("configuration error")

	// ErrUnsupportedBackend indicates the configured backend kind has no adapter.
	ErrUnsupportedBackend = errors.New("unsupported vector store backend")

	// ErrStoreUnavailable indicates no index, collection or connection exists yet.
	// Recoverable by running ingestion or reconnecting.
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrBackendQuery indicates a transport, authentication or malformed-request failure.
	ErrBackendQuery = errors.New("vector store query failed")

	// ErrDimensionMismatch indicates a vector of the wrong dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoDocuments indicates the corpus directory yielded nothing to ingest.
	ErrNoDocuments = errors.New("no documents found")
)

// DimensionMismatchError reports a vector whose length differs from the store dimension.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Is makes errors.Is(err, ErrDimensionMismatch) hold for every DimensionMismatchError.
func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// CheckDimension returns a *DimensionMismatchError when len(vec) != dim.
func CheckDimension(vec []float32, dim int) error {
	if len(vec) != dim {
		return &DimensionMismatchError{Expected: dim, Actual: len(vec)}
	}
	return nil
}
