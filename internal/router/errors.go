package router

import "errors"

// Dispatcher construction errors
var (
	ErrNilRegistry = errors.New("registry cannot be nil")
	ErrNilVerifier = errors.New("session verifier cannot be nil")
)

// Per-message errors mapped to protocol codes by codeFor
var (
	ErrUnauthorized      = errors.New("not authorized for stream")
	ErrStreamIDGenerator = errors.New("failed to generate stream id")
)
