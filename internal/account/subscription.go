package account

import (
	"sync"

	"github.com/danghamo/passport/internal/auth"
	"github.com/danghamo/passport/internal/domain/user"
)

// Subscription is a lazy, unbounded sequence of User snapshots. It emits
// once immediately on creation and again on every session-state change for
// as long as the subscriber listens. Cancel unregisters the underlying
// provider listener; there is no other exit path.
type Subscription struct {
	out    chan user.User
	in     chan user.User
	done   chan struct{}
	cancel sync.Once
	remove auth.RemoveListenerFunc
}

// Subscribe registers a session-state listener and returns the subscription
func (s *Service) Subscribe() *Subscription {
	sub := &Subscription{
		out:  make(chan user.User),
		in:   make(chan user.User, 16),
		done: make(chan struct{}),
	}

	go sub.pump()

	sub.remove = s.provider.AddStateListener(func(session *auth.Session) {
		select {
		case sub.in <- snapshotOf(session):
		case <-sub.done:
		}
	})

	// Initial snapshot is queued after the listener is registered so a
	// session change landing in between is never lost; the ordered queue
	// tolerates the duplicate emission that can result.
	sub.in <- snapshotOf(s.provider.CurrentSession())

	return sub
}

// Updates returns the snapshot channel. It is closed after Cancel.
func (sub *Subscription) Updates() <-chan user.User {
	return sub.out
}

// Cancel deterministically unregisters the provider listener and closes
// the snapshot channel. Safe to call more than once.
func (sub *Subscription) Cancel() {
	sub.cancel.Do(func() {
		sub.remove()
		close(sub.done)
	})
}

// pump forwards incoming snapshots to the subscriber without ever blocking
// the provider's listener path: undelivered snapshots queue in order.
func (sub *Subscription) pump() {
	defer close(sub.out)

	var queue []user.User
	for {
		var (
			send chan user.User
			head user.User
		)
		if len(queue) > 0 {
			send = sub.out
			head = queue[0]
		}

		select {
		case u := <-sub.in:
			queue = append(queue, u)
		case send <- head:
			queue = queue[1:]
		case <-sub.done:
			return
		}
	}
}

// snapshotOf converts a provider session into a User snapshot
func snapshotOf(session *auth.Session) user.User {
	if session == nil {
		return user.New("")
	}
	u := user.New(session.UserID)
	u.IsAnonymous = session.IsAnonymous
	u.Login = session.Email
	return u
}
