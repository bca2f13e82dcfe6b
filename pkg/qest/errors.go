package qest

import "errors"

var (
	// ErrValidation marks malformed input: a bad chunk file, missing fields,
	// inconsistent embedding lengths.
	ErrValidation = errors.New("validation error")

	// ErrEmptyInput is returned when an operation needs at least one item.
	ErrEmptyInput = errors.New("empty input")

	// ErrDimensionMismatch means a vector does not fit the collection it targets.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrCollectionNotFound is returned by stores for an absent collection.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrExternal marks failures of the vector store or language model.
	ErrExternal = errors.New("external service error")
)
