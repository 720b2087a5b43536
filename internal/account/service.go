package account

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/passport/internal/auth"
	cqrsevents "github.com/danghamo/passport/internal/cqrs"
	"github.com/danghamo/passport/internal/domain/shared"
	"github.com/danghamo/passport/internal/domain/user"
	"github.com/danghamo/passport/internal/metrics"
	"github.com/danghamo/passport/internal/store"
	"github.com/danghamo/passport/pkg/logger"
)

// DefaultUsersCollection is the document collection holding user profiles
const DefaultUsersCollection = "users"

// EventPublisher publishes account domain events onto an external bus
type EventPublisher interface {
	Publish(ctx context.Context, event interface{}) error
}

// Config holds account service configuration
type Config struct {
	UsersCollection string
	Events          EventPublisher
}

// Service translates application-level account operations into calls
// against the authentication provider and the document store. It keeps no
// independent state; all verification and durability is delegated.
type Service struct {
	provider   auth.Provider
	store      store.Store
	collection string
	events     EventPublisher
	metrics    metrics.Recorder
	logger     *logger.Logger
}

// NewService creates a new account service
func NewService(provider auth.Provider, st store.Store, cfg Config, log *logger.Logger, rec metrics.Recorder) *Service {
	if cfg.UsersCollection == "" {
		cfg.UsersCollection = DefaultUsersCollection
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if rec == nil {
		rec = metrics.NopRecorder{}
	}
	return &Service{
		provider:   provider,
		store:      st,
		collection: cfg.UsersCollection,
		events:     cfg.Events,
		metrics:    rec,
		logger:     log.WithComponent("account-service"),
	}
}

// CurrentUserID returns the identifier of the currently authenticated
// session, or empty string if none
func (s *Service) CurrentUserID() string {
	session := s.provider.CurrentSession()
	if session == nil {
		return ""
	}
	return session.UserID.String()
}

// CurrentUserData constructs a User value stamped with CurrentUserID.
// It does not read the store.
func (s *Service) CurrentUserData() user.User {
	return user.New(user.ID(s.CurrentUserID()))
}

// HasUser reports whether a session exists and is not anonymous
func (s *Service) HasUser() bool {
	session := s.provider.CurrentSession()
	return session != nil && !session.IsAnonymous
}

// Authenticate delegates credential verification to the provider and, on
// success, persists a mail-tagged profile for the session.
// Provider rejections propagate to the caller.
func (s *Service) Authenticate(ctx context.Context, email, password string) (err error) {
	defer s.observe("authenticate", time.Now(), &err)

	session, err := s.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return err
	}

	u, err := user.NewMailUser(session.UserID, email)
	if err != nil {
		return err
	}

	return s.SaveCurrentUserData(ctx, u)
}

// SendRecoveryEmail delegates password-reset dispatch to the provider
func (s *Service) SendRecoveryEmail(ctx context.Context, email string) (err error) {
	defer s.observe("send_recovery_email", time.Now(), &err)

	return s.provider.SendPasswordResetEmail(ctx, email)
}

// LinkAccount signs in anonymously, links the mail credential to that
// identity, then creates a mail-tagged profile. The anonymous session is a
// side effect callers must anticipate.
func (s *Service) LinkAccount(ctx context.Context, email, password string) (err error) {
	defer s.observe("link_account", time.Now(), &err)

	if _, err := s.provider.SignInAnonymously(ctx); err != nil {
		return err
	}

	if _, err := s.provider.LinkWithCredential(ctx, email, password); err != nil {
		return err
	}

	return s.CreateUserFromMail(ctx, email)
}

// CreateUserFromCredentials builds and persists a google-tagged profile for
// the current session. The credential's identity claims are not incorporated
// beyond what the session already provides.
func (s *Service) CreateUserFromCredentials(ctx context.Context, cred auth.Credential) (err error) {
	defer s.observe("create_user_from_credentials", time.Now(), &err)

	session := s.provider.CurrentSession()
	if session == nil {
		return shared.ErrPreconditionFailed("No authenticated session")
	}

	u := user.NewGoogleUser(session.UserID)
	return s.SaveCurrentUserData(ctx, u)
}

// CreateUserFromMail builds and persists a mail-tagged profile for the
// current session
func (s *Service) CreateUserFromMail(ctx context.Context, email string) (err error) {
	defer s.observe("create_user_from_mail", time.Now(), &err)

	session := s.provider.CurrentSession()
	if session == nil {
		return shared.ErrPreconditionFailed("No authenticated session")
	}

	u, err := user.NewMailUser(session.UserID, email)
	if err != nil {
		return err
	}

	return s.SaveCurrentUserData(ctx, u)
}

// CreateUserFromID looks up an existing profile by id and re-saves it under
// the current session. Returns NOT_FOUND if no profile exists.
func (s *Service) CreateUserFromID(ctx context.Context, id string) (err error) {
	defer s.observe("create_user_from_id", time.Now(), &err)

	docs, err := s.store.QueryByField(ctx, s.collection, "id", id)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return shared.ErrNotFound("user profile")
	}

	var u user.User
	if err := docs[0].Decode(&u); err != nil {
		return err
	}

	return s.SaveCurrentUserData(ctx, u)
}

// DeleteAccount deletes the current user's profile document, then the
// identity itself. Order matters: if the second step fails, the profile is
// already gone and is not restored.
func (s *Service) DeleteAccount(ctx context.Context) (err error) {
	defer s.observe("delete_account", time.Now(), &err)

	uid := s.CurrentUserID()
	if uid == "" {
		return shared.ErrPreconditionFailed("No authenticated session")
	}

	if err := s.DeleteCurrentUserData(ctx, uid); err != nil {
		return err
	}

	return s.provider.DeleteIdentity(ctx)
}

// SignOut clears the session. Anonymous sessions have their identity
// deleted first; the deletion is awaited and its error propagates.
func (s *Service) SignOut(ctx context.Context) (err error) {
	defer s.observe("sign_out", time.Now(), &err)

	session := s.provider.CurrentSession()
	if session != nil && session.IsAnonymous {
		if err := s.provider.DeleteIdentity(ctx); err != nil {
			return err
		}
	}

	return s.provider.SignOut(ctx)
}

// GetCurrentUserData returns CurrentUserData. Despite the name it does not
// query the store.
func (s *Service) GetCurrentUserData() user.User {
	return s.CurrentUserData()
}

// SaveCurrentUserData stamps the session UID onto u and inserts a profile
// document if none exists for that id. An existing profile is left
// unchanged (observed upstream behavior, pinned by tests): mutation of a
// stored profile is not supported through this path.
//
// Two concurrent callers can both observe "not found" and both insert; the
// check-then-insert is not guarded by any store-side uniqueness constraint.
func (s *Service) SaveCurrentUserData(ctx context.Context, u user.User) (err error) {
	defer s.observe("save_current_user_data", time.Now(), &err)

	uid := s.CurrentUserID()
	if uid == "" {
		return shared.ErrPreconditionFailed("No authenticated session")
	}

	u = u.WithID(user.ID(uid))

	docs, err := s.store.QueryByField(ctx, s.collection, "id", uid)
	if err != nil {
		return err
	}
	if len(docs) > 0 {
		return nil
	}

	key, err := s.store.Add(ctx, s.collection, u)
	if err != nil {
		return err
	}

	s.logger.Info("User profile created",
		zap.String("user_id", uid),
		zap.String("doc_key", key),
		zap.String("auth_method", u.AuthMethod.String()),
	)

	s.publish(ctx, &cqrsevents.ProfileCreatedEvent{
		UserID:     uid,
		AuthMethod: u.AuthMethod.String(),
		Login:      u.Login,
		Timestamp:  time.Now(),
	})

	return nil
}

// DeleteCurrentUserData deletes the profile document matching the given id.
// Returns NOT_FOUND if no matching document exists.
func (s *Service) DeleteCurrentUserData(ctx context.Context, id string) (err error) {
	defer s.observe("delete_current_user_data", time.Now(), &err)

	docs, err := s.store.QueryByField(ctx, s.collection, "id", id)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return shared.ErrNotFound("user profile")
	}

	if err := s.store.DeleteByKey(ctx, s.collection, docs[0].Key); err != nil {
		return err
	}

	s.publish(ctx, &cqrsevents.ProfileDeletedEvent{
		UserID:    id,
		Timestamp: time.Now(),
	})

	return nil
}

// publish forwards an event to the configured bus. Publish failures do not
// fail the operation that produced the event.
func (s *Service) publish(ctx context.Context, event interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish account event", zap.Error(err))
	}
}

func (s *Service) observe(operation string, start time.Time, err *error) {
	s.metrics.RecordOperation(operation, *err)
	s.metrics.RecordLatency(operation, time.Since(start))
}
