package domain

import "errors"

var (
	// ErrLengthMismatch means ids, vectors and metadatas differ in length.
	ErrLengthMismatch = errors.New("ids, vectors and metadatas must have equal length")
	// ErrDimensionMismatch means a vector does not match the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrModelMismatch means the index was built with a different embedding model.
	ErrModelMismatch = errors.New("embedding model does not match index")
	// ErrIndexNotFound means no persisted index exists under the configured name.
	ErrIndexNotFound = errors.New("vector index not found")
	// ErrEmptyQuery is returned for blank queries.
	ErrEmptyQuery = errors.New("query is empty")
	// ErrNoPassages means retrieval returned nothing to answer from.
	ErrNoPassages = errors.New("no passages retrieved")
	// ErrInvalidDocument is returned for documents missing identity fields.
	ErrInvalidDocument = errors.New("invalid document")
	// ErrMissingCitation means index metadata lacks a citation field.
	ErrMissingCitation = errors.New("metadata missing citation field")
)
