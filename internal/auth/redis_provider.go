package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/danghamo/passport/internal/domain/shared"
	"github.com/danghamo/passport/internal/domain/user"
	"github.com/danghamo/passport/pkg/logger"
)

// identity is the provider-side record for a registered identity
type identity struct {
	UID          string    `json:"uid"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"password_hash,omitempty"`
	IsAnonymous  bool      `json:"is_anonymous"`
	CreatedAt    time.Time `json:"created_at"`
}

// RedisProvider is a managed-authentication-provider stand-in backed by Redis.
// Identities live in Redis; the current session is an in-process pointer,
// matching the client-SDK shape the account service is written against.
type RedisProvider struct {
	client      *redis.Client
	tokens      *TokenService
	mailer      Mailer
	logger      *logger.Logger
	recoveryTTL time.Duration

	mu           sync.RWMutex
	session      *Session
	listeners    map[int]func(*Session)
	nextListener int
}

// NewRedisProvider creates a new Redis-backed provider
func NewRedisProvider(client *redis.Client, tokens *TokenService, mailer Mailer, recoveryTTL time.Duration, log *logger.Logger) *RedisProvider {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if mailer == nil {
		mailer = NewLogMailer(log)
	}
	return &RedisProvider{
		client:      client,
		tokens:      tokens,
		mailer:      mailer,
		logger:      log.WithComponent("auth-provider"),
		recoveryTTL: recoveryTTL,
		listeners:   make(map[int]func(*Session)),
	}
}

func identityKey(uid string) string {
	return fmt.Sprintf("identity:%s", uid)
}

func emailIndexKey(email string) string {
	return fmt.Sprintf("idx:identity:email:%s", email)
}

func recoveryKey(token string) string {
	return fmt.Sprintf("recovery:%s", token)
}

// SignInWithPassword verifies the credential and makes the identity current
func (p *RedisProvider) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	uid, err := p.client.Get(ctx, emailIndexKey(email)).Result()
	if err == redis.Nil {
		return nil, shared.ErrInvalidCredentials()
	}
	if err != nil {
		return nil, err
	}

	ident, err := p.getIdentity(ctx, uid)
	if err != nil {
		return nil, err
	}
	if ident == nil {
		return nil, shared.ErrInvalidCredentials()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(ident.PasswordHash), []byte(password)); err != nil {
		return nil, shared.WrapDomainError(err, shared.ErrCodeInvalidCredentials, "Invalid credentials")
	}

	session := &Session{
		UserID:      user.ID(ident.UID),
		IsAnonymous: false,
		Email:       ident.Email,
	}
	if err := p.stampToken(session); err != nil {
		return nil, err
	}

	p.setSession(session)
	p.logger.Info("Signed in with password", zap.String("uid", ident.UID))

	return session, nil
}

// SignInAnonymously creates a throwaway identity and makes it current
func (p *RedisProvider) SignInAnonymously(ctx context.Context) (*Session, error) {
	ident := &identity{
		UID:         shared.NewID().String(),
		IsAnonymous: true,
		CreatedAt:   time.Now(),
	}

	if err := p.putIdentity(ctx, ident); err != nil {
		return nil, err
	}

	session := &Session{
		UserID:      user.ID(ident.UID),
		IsAnonymous: true,
	}
	if err := p.stampToken(session); err != nil {
		return nil, err
	}

	p.setSession(session)
	p.logger.Info("Signed in anonymously", zap.String("uid", ident.UID))

	return session, nil
}

// LinkWithCredential attaches a mail credential to the current anonymous identity
func (p *RedisProvider) LinkWithCredential(ctx context.Context, email, password string) (*Session, error) {
	current := p.CurrentSession()
	if current == nil {
		return nil, shared.ErrPreconditionFailed("No current session to link")
	}
	if !current.IsAnonymous {
		return nil, shared.ErrPreconditionFailed("Current session is not anonymous")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	uid := current.UserID.String()
	key := identityKey(uid)
	indexKey := emailIndexKey(email)

	err = p.client.Watch(ctx, func(tx *redis.Tx) error {
		taken, err := tx.Exists(ctx, indexKey).Result()
		if err != nil {
			return err
		}
		if taken > 0 {
			return shared.ErrAlreadyExists("identity for email")
		}

		data := tx.HGet(ctx, key, "data")
		if data.Err() == redis.Nil {
			return shared.ErrNotFound("identity")
		}
		if data.Err() != nil {
			return data.Err()
		}

		ident := &identity{}
		if err := json.Unmarshal([]byte(data.Val()), ident); err != nil {
			return err
		}

		ident.Email = email
		ident.PasswordHash = string(hash)
		ident.IsAnonymous = false

		payload, err := json.Marshal(ident)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "data", string(payload))
			pipe.Set(ctx, indexKey, uid, 0)
			return nil
		})
		return err
	}, key, indexKey)
	if err != nil {
		return nil, err
	}

	session := &Session{
		UserID:      user.ID(uid),
		IsAnonymous: false,
		Email:       email,
	}
	if err := p.stampToken(session); err != nil {
		return nil, err
	}

	p.setSession(session)
	p.logger.Info("Linked anonymous identity to mail credential", zap.String("uid", uid))

	return session, nil
}

// SendPasswordResetEmail dispatches a recovery mail for the given address
func (p *RedisProvider) SendPasswordResetEmail(ctx context.Context, email string) error {
	uid, err := p.client.Get(ctx, emailIndexKey(email)).Result()
	if err == redis.Nil {
		return shared.ErrNotFound("identity for email")
	}
	if err != nil {
		return err
	}

	token := shared.NewID().String()
	if err := p.client.Set(ctx, recoveryKey(token), uid, p.recoveryTTL).Err(); err != nil {
		return err
	}

	return p.mailer.SendRecoveryEmail(ctx, email, token)
}

// CurrentSession returns a copy of the current session, or nil if none
func (p *RedisProvider) CurrentSession() *Session {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.session == nil {
		return nil
	}
	s := *p.session
	return &s
}

// AddStateListener registers a session-state listener. The returned func is
// the only way to deregister it.
func (p *RedisProvider) AddStateListener(fn func(*Session)) RemoveListenerFunc {
	p.mu.Lock()
	id := p.nextListener
	p.nextListener++
	p.listeners[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// RefreshSession reissues the session token and notifies listeners
func (p *RedisProvider) RefreshSession(ctx context.Context) (*Session, error) {
	current := p.CurrentSession()
	if current == nil {
		return nil, shared.ErrPreconditionFailed("No current session to refresh")
	}

	if err := p.stampToken(current); err != nil {
		return nil, err
	}

	p.setSession(current)
	p.logger.Debug("Session token refreshed", zap.String("uid", current.UserID.String()))

	return current, nil
}

// SignOut clears the current session
func (p *RedisProvider) SignOut(ctx context.Context) error {
	p.setSession(nil)
	p.logger.Info("Signed out")
	return nil
}

// DeleteIdentity removes the current identity from the provider and clears the session
func (p *RedisProvider) DeleteIdentity(ctx context.Context) error {
	current := p.CurrentSession()
	if current == nil {
		return shared.ErrPreconditionFailed("No current session to delete")
	}

	uid := current.UserID.String()
	key := identityKey(uid)

	err := p.client.Watch(ctx, func(tx *redis.Tx) error {
		data := tx.HGet(ctx, key, "data")
		if data.Err() == redis.Nil {
			return shared.ErrNotFound("identity")
		}
		if data.Err() != nil {
			return data.Err()
		}

		ident := &identity{}
		if err := json.Unmarshal([]byte(data.Val()), ident); err != nil {
			return err
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			if ident.Email != "" {
				pipe.Del(ctx, emailIndexKey(ident.Email))
			}
			return nil
		})
		return err
	}, key)
	if err != nil {
		return err
	}

	p.setSession(nil)
	p.logger.Info("Identity deleted", zap.String("uid", uid))

	return nil
}

// RegisterIdentity provisions a mail identity without signing it in.
// Deployments seed accounts with it; tests use it to arrange credentials.
func (p *RedisProvider) RegisterIdentity(ctx context.Context, email, password string) (user.ID, error) {
	if email == "" {
		return "", shared.ErrInvalidInput("Email cannot be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	ident := &identity{
		UID:          shared.NewID().String(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}

	indexKey := emailIndexKey(email)
	key := identityKey(ident.UID)

	err = p.client.Watch(ctx, func(tx *redis.Tx) error {
		taken, err := tx.Exists(ctx, indexKey).Result()
		if err != nil {
			return err
		}
		if taken > 0 {
			return shared.ErrAlreadyExists("identity for email")
		}

		payload, err := json.Marshal(ident)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "data", string(payload))
			pipe.Set(ctx, indexKey, ident.UID, 0)
			return nil
		})
		return err
	}, indexKey)
	if err != nil {
		return "", err
	}

	return user.ID(ident.UID), nil
}

// HasIdentity reports whether the provider still holds an identity record
func (p *RedisProvider) HasIdentity(ctx context.Context, id user.ID) (bool, error) {
	n, err := p.client.Exists(ctx, identityKey(id.String())).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *RedisProvider) getIdentity(ctx context.Context, uid string) (*identity, error) {
	data, err := p.client.HGet(ctx, identityKey(uid), "data").Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ident := &identity{}
	if err := json.Unmarshal([]byte(data), ident); err != nil {
		return nil, err
	}
	return ident, nil
}

func (p *RedisProvider) putIdentity(ctx context.Context, ident *identity) error {
	payload, err := json.Marshal(ident)
	if err != nil {
		return err
	}
	return p.client.HSet(ctx, identityKey(ident.UID), "data", string(payload)).Err()
}

func (p *RedisProvider) stampToken(session *Session) error {
	if p.tokens == nil {
		return nil
	}
	token, err := p.tokens.Generate(session)
	if err != nil {
		return err
	}
	session.Token = token
	return nil
}

// setSession swaps the current session and notifies listeners with a copy
func (p *RedisProvider) setSession(session *Session) {
	p.mu.Lock()
	p.session = session
	listeners := make([]func(*Session), 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	p.mu.Unlock()

	for _, fn := range listeners {
		if session == nil {
			fn(nil)
		} else {
			s := *session
			fn(&s)
		}
	}
}
