// Package auth authenticates requests made to the gateway.
package auth

import (
	"context"
	"errors"
	"net/http"
)

// ErrInvalidCredentials is returned when a request carries credentials that
// do not match.
var ErrInvalidCredentials = errors.New("invalid credentials")

type User struct {
	AccessKeyID string
}

// Credentials is the key pair an engine accepts.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
}

type AuthEngine interface {

	// AuthenticateRequest inspects the given HTTP request for credentials.
	// It returns the User when they are valid, nil and no error when the
	// request does not use this engine's scheme, and an error when the
	// scheme matches but the credentials are wrong.
	AuthenticateRequest(ctx context.Context, rq *http.Request) (*User, error)
}
