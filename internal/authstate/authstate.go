// Package authstate carries sign-in and sign-out transitions from the
// identity service to whoever routes on them.
package authstate

import (
	"context"
	"time"

	"github.com/knowex/knowex-api/internal/model"
)

// EventType is the kind of auth-state transition.
type EventType string

const (
	SignedIn  EventType = "SIGNED_IN"
	SignedOut EventType = "SIGNED_OUT"
)

// Event is one auth-state transition. Session is nil for SignedOut and never
// carries the access token.
type Event struct {
	Type    EventType      `json:"type"`
	UserID  string         `json:"user_id"`
	Session *model.Session `json:"session,omitempty"`
	At      time.Time      `json:"at"`
}

// NewSignedIn builds a SignedIn event with the token stripped.
func NewSignedIn(s model.Session) Event {
	s.AccessToken = ""
	return Event{Type: SignedIn, UserID: s.User.ID, Session: &s, At: time.Now()}
}

// NewSignedOut builds a SignedOut event.
func NewSignedOut(userID string) Event {
	return Event{Type: SignedOut, UserID: userID, At: time.Now()}
}

// Bus fans events out to subscribers.
//
// Subscribe returns a channel that receives every event published after the
// call returns. The channel is closed once ctx is done, which is also how a
// subscriber unsubscribes.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context) (<-chan Event, error)
	Close() error
}
