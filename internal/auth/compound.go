package auth

import (
	"context"
	"net/http"
)

type CompoundAuthEngine struct {
	engines []AuthEngine
}

// NewCompoundAuthEngine creates a new CompoundAuthEngine trying engines in
// order.
func NewCompoundAuthEngine(engines ...AuthEngine) *CompoundAuthEngine {
	return &CompoundAuthEngine{
		engines: engines,
	}
}

// NewDefaultAuthEngine accepts creds through AWS SigV4 or HTTP Basic.
func NewDefaultAuthEngine(creds Credentials) *CompoundAuthEngine {
	return NewCompoundAuthEngine(
		NewAwsHmacAuthEngine(creds),
		NewBasicAuthEngine(creds),
	)
}

// AuthenticateRequest returns the user of the first engine that accepts the
// request. If none does, the first error reported is returned.
func (e *CompoundAuthEngine) AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error) {
	var firstErr error
	for _, engine := range e.engines {
		user, err := engine.AuthenticateRequest(ctx, r)
		if user != nil && err == nil {
			return user, nil
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return nil, firstErr
}
