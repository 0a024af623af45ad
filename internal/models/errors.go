package models

import "errors"

// Error kinds shared by the chunker, vector index, and retriever. Callers match them with errors.Is.
var (
	// ErrConfiguration marks invalid construction parameters.
	ErrConfiguration = errors.New("configuration error")
	// ErrValidation marks rejected input; no state was changed.
	ErrValidation = errors.New("validation error")
	// ErrEmbedding marks a failure of the embedding capability.
	ErrEmbedding = errors.New("embedding error")
	// ErrEngine marks a failure of the vector engine.
	ErrEngine = errors.New("engine error")
)
