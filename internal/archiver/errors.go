package archiver

import "errors"

// Archiver-specific error types
var (
	ErrAlreadyRunning = errors.New("archiver is already running")
	ErrNotRunning     = errors.New("archiver is not running")
	ErrQueueFull      = errors.New("archive queue is full")
	ErrNilAlert       = errors.New("alert cannot be nil")
)
