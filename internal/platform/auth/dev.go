package auth

import (
	"context"
	"net/http"
)

type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

// DevAuthenticator returns a fixed identity for local development.
type DevAuthenticator struct {
	identity Identity
}

func NewDevAuthenticator(cfg Config) *DevAuthenticator {
	identity := cfg.Dev
	if identity.Username == "" {
		identity.Username = identity.Subject
	}
	return &DevAuthenticator{identity: identity}
}

func (a *DevAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return a.identity, nil
}

// DisabledAuthenticator treats every request as anonymous.
type DisabledAuthenticator struct{}

func (DisabledAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return Identity{}, ErrUnauthenticated
}
