package apperrors

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrSelfMerge          = errors.New("cannot merge an entity into itself")
	ErrCycleDetected      = errors.New("merge chain cycle detected")
	ErrUndoNotLatest      = errors.New("only the most recent merge can be undone")
	ErrNoUsableIdentifier = errors.New("no usable identifier or valid name supplied")
	ErrInvalidName        = errors.New("name failed validity check")
	ErrInvalidStrongID    = errors.New("strong identifier failed format check")
	ErrInvalidObservation = errors.New("observation is not usable for estimation")
)
