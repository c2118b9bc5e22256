package stream

import "errors"

// Stream ownership error types
var (
	ErrEmptyUserID       = errors.New("user id cannot be empty")
	ErrInvalidStreamID   = errors.New("invalid stream id")
	ErrUnknownOperation  = errors.New("unknown stream operation")
	ErrStoreNotAvailable = errors.New("stream store not available")
)
