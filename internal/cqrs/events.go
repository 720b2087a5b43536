package cqrs

import (
	"encoding/json"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/danghamo/passport/internal/domain/user"
)

// SessionChangedEvent represents a session-state transition: sign-in,
// sign-out, credential link, identity deletion or token refresh.
// Delta carries a JSON merge patch from the previous snapshot to the
// current one so consumers can apply the change without diffing.
type SessionChangedEvent struct {
	UserID    string          `json:"user_id,omitempty"`
	Previous  *user.User      `json:"previous,omitempty"`
	Current   *user.User      `json:"current,omitempty"`
	Delta     json.RawMessage `json:"delta,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewSessionChangedEvent builds the event including the merge-patch delta
func NewSessionChangedEvent(previous, current *user.User) (*SessionChangedEvent, error) {
	prevJSON := []byte("{}")
	currJSON := []byte("{}")

	var err error
	if previous != nil {
		if prevJSON, err = json.Marshal(previous); err != nil {
			return nil, err
		}
	}
	if current != nil {
		if currJSON, err = json.Marshal(current); err != nil {
			return nil, err
		}
	}

	delta, err := jsonpatch.CreateMergePatch(prevJSON, currJSON)
	if err != nil {
		return nil, err
	}

	event := &SessionChangedEvent{
		Previous:  previous,
		Current:   current,
		Delta:     delta,
		Timestamp: time.Now(),
	}
	if current != nil {
		event.UserID = current.ID.String()
	} else if previous != nil {
		event.UserID = previous.ID.String()
	}

	return event, nil
}

// ProfileCreatedEvent represents a newly persisted user profile
type ProfileCreatedEvent struct {
	UserID     string    `json:"user_id"`
	AuthMethod string    `json:"auth_method"`
	Login      string    `json:"login,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ProfileDeletedEvent represents a removed user profile
type ProfileDeletedEvent struct {
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}
