package apperr

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// ErrDecode marks corrupt or unsupported image input. The job that
	// hit it fails; the rest of the batch continues.
	ErrDecode = errors.New("decode failed")

	// ErrCapacity means the import queue cannot hold the whole batch.
	// Nothing from the batch is queued.
	ErrCapacity = errors.New("capacity exceeded")

	// ErrTimeout marks a job that exceeded its time budget.
	ErrTimeout = errors.New("timed out")

	// ErrCanceled marks a job dropped by batch cancellation.
	ErrCanceled = errors.New("canceled")
)
