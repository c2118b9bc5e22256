package registry

import "errors"

// Registry-related errors
var (
	ErrNilConnection           = errors.New("connection cannot be nil")
	ErrNilMetadata             = errors.New("metadata cannot be nil")
	ErrAlreadyRegistered       = errors.New("connection already registered")
	ErrConnectionNotAuthorized = errors.New("connection must be authenticated before registration")
)
