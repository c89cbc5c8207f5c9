package session

import (
	"context"
	"errors"
)

// ErrNoCredential is returned by Resume when nothing was persisted.
var ErrNoCredential = errors.New("no persisted credential")

// Identity is the authenticated principal held by a credential. The
// profile it maps to lives in the user repository and is hydrated
// separately by the Store.
type Identity struct {
	UserID string
	Email  string
}

// Credentials is the credential service collaborator: sign-up/sign-in
// against stored secrets, resumption of a previously persisted
// credential, and change notification for credential events that happen
// outside an explicit call (expiry, external logout).
type Credentials interface {
	SignUp(ctx context.Context, email, password string) (*Identity, error)
	SignIn(ctx context.Context, email, password string) (*Identity, error)
	SignOut(ctx context.Context) error
	Resume(ctx context.Context) (*Identity, error)
	// OnChange registers a listener invoked with the new identity, or
	// nil when the credential went away. Returns an unregister func.
	OnChange(fn func(*Identity)) func()
}
