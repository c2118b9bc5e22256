package interfaces

import (
	"context"

	"streamrelay/pkg/types"
)

// SessionVerifier maps an opaque credential to a user identity or rejects it
type SessionVerifier interface {
	Verify(ctx context.Context, credential string) (*types.Identity, error)
}

// Operation names the stream action an ownership check is asked about
type Operation string

const (
	OperationRegister  Operation = "register"
	OperationSubscribe Operation = "subscribe"
	OperationPublish   Operation = "publish"
)

// OwnershipChecker decides whether a user may touch a stream
// FUNCTIONAL DISCOVERY: Errors are collaborator failures; callers log and allow
type OwnershipChecker interface {
	CheckOwnership(ctx context.Context, userID, streamID string, op Operation) (bool, error)
}

// AllowAll is the ownership checker used when no store is wired
type AllowAll struct{}

func (AllowAll) CheckOwnership(ctx context.Context, userID, streamID string, op Operation) (bool, error) {
	return true, nil
}
