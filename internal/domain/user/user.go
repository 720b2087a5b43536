package user

import (
	"github.com/danghamo/passport/internal/domain/shared"
)

// ID represents a unique user identifier (the provider UID)
type ID shared.ID

// NewID creates a new user ID
func NewID() ID {
	return ID(shared.NewID())
}

// String returns string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if ID is empty
func (id ID) IsEmpty() bool {
	return string(id) == ""
}

// AuthMethod represents how the user authenticated
type AuthMethod string

const (
	AuthMethodMail   AuthMethod = "mail"
	AuthMethodGoogle AuthMethod = "google"
	AuthMethodUnset  AuthMethod = "unset"
)

// String returns string representation
func (m AuthMethod) String() string {
	return string(m)
}

// IsValid checks if the auth method is valid
func (m AuthMethod) IsValid() bool {
	return m == AuthMethodMail || m == AuthMethodGoogle || m == AuthMethodUnset
}

// User represents the application-level account profile.
// It is constructed transiently on each read and persisted as a document
// in the users collection, located by a query on the id field rather than
// by document key.
type User struct {
	ID          ID         `json:"id"`
	IsAnonymous bool       `json:"is_anonymous"`
	AuthMethod  AuthMethod `json:"auth_method"`
	Login       string     `json:"login,omitempty"`
}

// New creates a user with no auth method attached
func New(id ID) User {
	return User{
		ID:         id,
		AuthMethod: AuthMethodUnset,
	}
}

// NewMailUser creates a mail-tagged user
func NewMailUser(id ID, email string) (User, error) {
	if email == "" {
		return User{}, shared.ErrInvalidInput("Email cannot be empty for mail user")
	}
	return User{
		ID:         id,
		AuthMethod: AuthMethodMail,
		Login:      email,
	}, nil
}

// NewGoogleUser creates a google-tagged user
func NewGoogleUser(id ID) User {
	return User{
		ID:         id,
		AuthMethod: AuthMethodGoogle,
	}
}

// WithID returns a copy of the user stamped with the given ID
func (u User) WithID(id ID) User {
	u.ID = id
	return u
}

// HasLogin checks if the user carries a login identifier
func (u User) HasLogin() bool {
	return u.Login != ""
}
