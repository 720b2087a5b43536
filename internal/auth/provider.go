package auth

import (
	"context"

	"github.com/danghamo/passport/internal/domain/user"
)

// Session represents the provider's current-authenticated-identity pointer.
// The account service reads it, never owns it.
type Session struct {
	UserID      user.ID `json:"user_id"`
	IsAnonymous bool    `json:"is_anonymous"`
	Email       string  `json:"email,omitempty"`
	Token       string  `json:"token,omitempty"`
}

// Credential represents a federated sign-in credential (e.g. a Google ID token).
// The account service does not incorporate its identity claims beyond what
// the current session already provides.
type Credential struct {
	Provider string `json:"provider"`
	IDToken  string `json:"id_token"`
}

// GoogleCredential creates a credential for Google federated sign-in
func GoogleCredential(idToken string) Credential {
	return Credential{Provider: "google", IDToken: idToken}
}

// RemoveListenerFunc deregisters a previously added session-state listener
type RemoveListenerFunc func()

// Provider defines the capability set of the external authentication provider
type Provider interface {
	// SignInWithPassword verifies the credential and makes the identity current
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)

	// SignInAnonymously creates a throwaway identity and makes it current
	SignInAnonymously(ctx context.Context) (*Session, error)

	// LinkWithCredential attaches a mail credential to the current anonymous identity
	LinkWithCredential(ctx context.Context, email, password string) (*Session, error)

	// SendPasswordResetEmail dispatches a recovery mail for the given address
	SendPasswordResetEmail(ctx context.Context, email string) error

	// CurrentSession returns the current session, or nil if none
	CurrentSession() *Session

	// AddStateListener registers a listener invoked on every session-state
	// change (sign-in, sign-out, link, deletion, token refresh). The returned
	// func is the only way to deregister it.
	AddStateListener(fn func(*Session)) RemoveListenerFunc

	// SignOut clears the current session
	SignOut(ctx context.Context) error

	// DeleteIdentity removes the current identity from the provider and
	// clears the session
	DeleteIdentity(ctx context.Context) error
}

// Mailer dispatches provider-originated mail
type Mailer interface {
	SendRecoveryEmail(ctx context.Context, email, token string) error
}
