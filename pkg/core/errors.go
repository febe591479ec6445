// Package core provides the recall client: it wires a store, an embedder
// and an optional LLM into the hybrid retrieval pipeline.
package core

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates that a connection to the storage backend failed.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrEmbeddingFailed indicates that embedding generation failed.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrInvalidInput indicates that the provided input is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStorageOperation indicates that a storage operation failed.
	ErrStorageOperation = errors.New("storage operation failed")

	// ErrLLMOperation indicates that an LLM operation failed.
	ErrLLMOperation = errors.New("llm operation failed")
)

// RecallError wraps errors with operation context.
//
// Example:
//
//	err := &RecallError{
//	    Op:  "Import",
//	    Err: ErrEmbeddingFailed,
//	}
//	// Error() returns: "recall: Import: embedding generation failed"
type RecallError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns "recall: <Op>: <Err>".
func (e *RecallError) Error() string {
	return fmt.Sprintf("recall: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error, so errors.Is and errors.As see
// through a RecallError.
func (e *RecallError) Unwrap() error {
	return e.Err
}

// NewRecallError wraps err with the operation name. It returns nil when err
// is nil, so it can wrap unconditionally:
//
//	return NewRecallError("Search", err)
func NewRecallError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RecallError{
		Op:  op,
		Err: err,
	}
}
