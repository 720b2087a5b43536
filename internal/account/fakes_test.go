package account

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/danghamo/passport/internal/auth"
	"github.com/danghamo/passport/internal/domain/shared"
	"github.com/danghamo/passport/internal/domain/user"
	"github.com/danghamo/passport/internal/store"
)

// fakeIdentity is a provider-side identity record for tests
type fakeIdentity struct {
	email     string
	password  string
	anonymous bool
}

// fakeProvider is an in-memory auth.Provider substitute. addListenerHook,
// when set, runs before a listener is stored; it simulates a session change
// landing while registration is still in flight.
type fakeProvider struct {
	mu              sync.Mutex
	session         *auth.Session
	identities      map[string]*fakeIdentity
	emails          map[string]string
	listeners       map[int]func(*auth.Session)
	next            int
	recoveries      []string
	addListenerHook func()
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		identities: make(map[string]*fakeIdentity),
		emails:     make(map[string]string),
		listeners:  make(map[int]func(*auth.Session)),
	}
}

func (p *fakeProvider) register(email, password string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	uid := shared.NewID().String()
	p.identities[uid] = &fakeIdentity{email: email, password: password}
	p.emails[email] = uid
	return uid
}

func (p *fakeProvider) hasIdentity(uid string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.identities[uid]
	return ok
}

func (p *fakeProvider) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	p.mu.Lock()
	uid, ok := p.emails[email]
	if !ok || p.identities[uid].password != password {
		p.mu.Unlock()
		return nil, shared.ErrInvalidCredentials()
	}
	session := &auth.Session{UserID: user.ID(uid), Email: email}
	p.mu.Unlock()

	p.setSession(session)
	return session, nil
}

func (p *fakeProvider) SignInAnonymously(ctx context.Context) (*auth.Session, error) {
	p.mu.Lock()
	uid := shared.NewID().String()
	p.identities[uid] = &fakeIdentity{anonymous: true}
	session := &auth.Session{UserID: user.ID(uid), IsAnonymous: true}
	p.mu.Unlock()

	p.setSession(session)
	return session, nil
}

func (p *fakeProvider) LinkWithCredential(ctx context.Context, email, password string) (*auth.Session, error) {
	p.mu.Lock()
	if p.session == nil || !p.session.IsAnonymous {
		p.mu.Unlock()
		return nil, shared.ErrPreconditionFailed("Current session is not anonymous")
	}
	uid := p.session.UserID.String()
	p.identities[uid] = &fakeIdentity{email: email, password: password}
	p.emails[email] = uid
	session := &auth.Session{UserID: user.ID(uid), Email: email}
	p.mu.Unlock()

	p.setSession(session)
	return session, nil
}

func (p *fakeProvider) SendPasswordResetEmail(ctx context.Context, email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.emails[email]; !ok {
		return shared.ErrNotFound("identity for email")
	}
	p.recoveries = append(p.recoveries, email)
	return nil
}

func (p *fakeProvider) CurrentSession() *auth.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	s := *p.session
	return &s
}

func (p *fakeProvider) AddStateListener(fn func(*auth.Session)) auth.RemoveListenerFunc {
	if p.addListenerHook != nil {
		p.addListenerHook()
	}

	p.mu.Lock()
	id := p.next
	p.next++
	p.listeners[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *fakeProvider) SignOut(ctx context.Context) error {
	p.setSession(nil)
	return nil
}

func (p *fakeProvider) DeleteIdentity(ctx context.Context) error {
	p.mu.Lock()
	if p.session == nil {
		p.mu.Unlock()
		return shared.ErrPreconditionFailed("No current session to delete")
	}
	uid := p.session.UserID.String()
	if ident, ok := p.identities[uid]; ok && ident.email != "" {
		delete(p.emails, ident.email)
	}
	delete(p.identities, uid)
	p.mu.Unlock()

	p.setSession(nil)
	return nil
}

func (p *fakeProvider) setSession(session *auth.Session) {
	p.mu.Lock()
	p.session = session
	fns := make([]func(*auth.Session), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		if session == nil {
			fn(nil)
		} else {
			s := *session
			fn(&s)
		}
	}
}

// fakeStore is an in-memory store.Store substitute. queryHook, when set,
// runs after the query result is computed and before it is returned; the
// race test uses it as a barrier.
type fakeStore struct {
	mu        sync.Mutex
	docs      map[string]map[string]json.RawMessage
	queries   int
	queryHook func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string]map[string]json.RawMessage)}
}

func (s *fakeStore) QueryByField(ctx context.Context, collection, field, value string) ([]store.Document, error) {
	s.mu.Lock()
	s.queries++
	var result []store.Document
	for key, data := range s.docs[collection] {
		var doc map[string]interface{}
		if err := json.Unmarshal(data, &doc); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		if v, ok := doc[field].(string); ok && v == value {
			result = append(result, store.Document{Key: key, Data: data})
		}
	}
	hook := s.queryHook
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return result, nil
}

func (s *fakeStore) Add(ctx context.Context, collection string, data interface{}) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.docs[collection] == nil {
		s.docs[collection] = make(map[string]json.RawMessage)
	}
	key := shared.NewID().String()
	s.docs[collection][key] = payload
	return key, nil
}

func (s *fakeStore) DeleteByKey(ctx context.Context, collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[collection][key]; !ok {
		return shared.ErrNotFound("document")
	}
	delete(s.docs[collection], key)
	return nil
}

func (s *fakeStore) count(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs[collection])
}

func (s *fakeStore) queryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries
}

// fakePublisher is an in-memory EventPublisher substitute
type fakePublisher struct {
	mu     sync.Mutex
	events []interface{}
}

func (p *fakePublisher) Publish(ctx context.Context, event interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) published() []interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]interface{}(nil), p.events...)
}
