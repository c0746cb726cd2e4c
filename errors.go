package caterva

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidLayout rejects shape, chunk or block arguments before any
	// bytes are written
	ErrInvalidLayout = errors.New("invalid layout")
	// ErrShapeMismatch means an array disagrees with the declared container
	// shape, or with its siblings in a stack
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrOutOfRange means an index or offset lies outside declared bounds
	ErrOutOfRange = errors.New("out of range")
	// ErrAlreadyExists is returned when creating over an existing container
	ErrAlreadyExists = errors.New("container already exists")
	// ErrNotFound is returned for never-written blocks and missing containers
	ErrNotFound = errors.New("not found")
	// ErrIncompleteData is returned when reading a chunk whose blocks have not
	// all been written. Retry after the writer finishes
	ErrIncompleteData = errors.New("incomplete data")
	// ErrCorrupt is returned when a stored block fails its checksum
	ErrCorrupt = errors.New("corrupt block")
	// ErrSealed is returned for writes to a sealed container
	ErrSealed = errors.New("container is sealed")
)

// ComposeError reports the member a compose stopped at and the slabs of the
// stacked container that were fully written before it
type ComposeError struct {
	// Index of the failing member
	Index int
	// ID of the failing member's container
	ID string
	// Written lists slab indices that hold complete data
	Written []int
	Err     error
}

func (e *ComposeError) Error() string {
	return fmt.Sprintf("compose member %d (%s): %v; slabs written: %v", e.Index, e.ID, e.Err, e.Written)
}

func (e *ComposeError) Unwrap() error { return e.Err }

// ResumeFrom is the member index a retried compose should start at
func (e *ComposeError) ResumeFrom() int { return e.Index }
