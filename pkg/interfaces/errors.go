package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrStreamNotFound       = errors.New("stream not found")
	ErrAlreadyAuthenticated = errors.New("connection already authenticated")
	ErrUnauthenticated      = errors.New("connection not authenticated")
)
