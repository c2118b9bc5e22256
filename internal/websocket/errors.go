package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendTimeout      = errors.New("send queue full")
	ErrInvalidJSON      = errors.New("invalid JSON data")
	ErrAuthTimeout      = errors.New("authentication window expired")
)

// Handler-related errors
var (
	ErrNilDispatcher = errors.New("dispatcher cannot be nil")
)
