package types

import (
	"errors"
	"fmt"
)

// ARCHITECTURAL DISCOVERY: Every validation failure wraps ErrInvalidMessage so the
// dispatcher can map the whole family to one protocol code with errors.Is
var (
	ErrInvalidMessage     = errors.New("invalid message")
	ErrUnknownMessageType = errors.New("unknown message type")

	ErrMalformedJSON     = fmt.Errorf("%w: malformed JSON envelope", ErrInvalidMessage)
	ErrMissingType       = fmt.Errorf("%w: missing or non-string type field", ErrInvalidMessage)
	ErrMissingToken      = fmt.Errorf("%w: token is required", ErrInvalidMessage)
	ErrInvalidClientType = fmt.Errorf("%w: clientType not allowed for this message", ErrInvalidMessage)
	ErrInvalidKind       = fmt.Errorf("%w: kinds must be video-frame or alert", ErrInvalidMessage)
	ErrMissingStreamID   = fmt.Errorf("%w: streamId is required", ErrInvalidMessage)
	ErrInvalidStreamID   = fmt.Errorf("%w: streamId must be 1-128 characters of [A-Za-z0-9_.:-]", ErrInvalidMessage)
	ErrEmptyConsumes     = fmt.Errorf("%w: consumes must not be empty", ErrInvalidMessage)
	ErrEmptyFrameData    = fmt.Errorf("%w: data must not be empty", ErrInvalidMessage)
	ErrInvalidSeverity   = fmt.Errorf("%w: severity must be low, medium, high or critical", ErrInvalidMessage)
	ErrEmptyAlertMessage = fmt.Errorf("%w: alert message must not be empty", ErrInvalidMessage)
	ErrInvalidMetadata   = fmt.Errorf("%w: metadata must be a JSON object", ErrInvalidMessage)
	ErrInvalidTimestamp  = fmt.Errorf("%w: timestamp must be a JSON number", ErrInvalidMessage)
)
