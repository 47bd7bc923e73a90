package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
)

type BasicAuthEngine struct {
	creds Credentials
}

func NewBasicAuthEngine(creds Credentials) *BasicAuthEngine {
	return &BasicAuthEngine{creds: creds}
}

func (e *BasicAuthEngine) AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error) {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return nil, nil
	}

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(e.creds.AccessKeyID)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(e.creds.SecretAccessKey)) == 1
	if !userOK || !passOK {
		return nil, ErrInvalidCredentials
	}

	return &User{
		AccessKeyID: user,
	}, nil
}
