package account

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/passport/internal/auth"
	cqrsevents "github.com/danghamo/passport/internal/cqrs"
	"github.com/danghamo/passport/internal/domain/shared"
	"github.com/danghamo/passport/internal/domain/user"
	"github.com/danghamo/passport/pkg/logger"
)

func newTestService(provider *fakeProvider, st *fakeStore) *Service {
	return NewService(provider, st, Config{}, logger.NewDefault(), nil)
}

func TestService_Authenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("should sign in and persist mail-tagged profile", func(t *testing.T) {
		provider := newFakeProvider()
		st := newFakeStore()
		svc := newTestService(provider, st)

		uid := provider.register("alice@example.com", "secret123")

		err := svc.Authenticate(ctx, "alice@example.com", "secret123")
		require.NoError(t, err)

		assert.True(t, svc.HasUser())
		assert.Equal(t, uid, svc.CurrentUserID())

		docs, err := st.QueryByField(ctx, DefaultUsersCollection, "id", uid)
		require.NoError(t, err)
		require.Len(t, docs, 1)

		var u user.User
		require.NoError(t, docs[0].Decode(&u))
		assert.Equal(t, user.AuthMethodMail, u.AuthMethod)
		assert.Equal(t, "alice@example.com", u.Login)
	})

	t.Run("should propagate invalid credentials", func(t *testing.T) {
		provider := newFakeProvider()
		st := newFakeStore()
		svc := newTestService(provider, st)

		provider.register("alice@example.com", "secret123")

		err := svc.Authenticate(ctx, "alice@example.com", "wrong")
		require.Error(t, err)
		assert.True(t, shared.HasCode(err, shared.ErrCodeInvalidCredentials))
		assert.False(t, svc.HasUser())
		assert.Zero(t, st.count(DefaultUsersCollection))
	})
}

func TestService_CurrentUserData(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	st := newFakeStore()
	svc := newTestService(provider, st)

	t.Run("should return empty user without session", func(t *testing.T) {
		u := svc.CurrentUserData()
		assert.True(t, u.ID.IsEmpty())
		assert.Equal(t, user.AuthMethodUnset, u.AuthMethod)
	})

	t.Run("should stamp session UID and never read the store", func(t *testing.T) {
		provider.register("bob@example.com", "secret123")
		_, err := provider.SignInWithPassword(ctx, "bob@example.com", "secret123")
		require.NoError(t, err)

		before := st.queryCount()
		u := svc.GetCurrentUserData()
		assert.Equal(t, svc.CurrentUserID(), u.ID.String())
		assert.Equal(t, before, st.queryCount(), "GetCurrentUserData must not query the store")
	})
}

func TestService_HasUser(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	svc := newTestService(provider, newFakeStore())

	assert.False(t, svc.HasUser(), "no session")

	_, err := provider.SignInAnonymously(ctx)
	require.NoError(t, err)
	assert.False(t, svc.HasUser(), "anonymous session does not count")

	provider.register("carol@example.com", "secret123")
	_, err = provider.SignInWithPassword(ctx, "carol@example.com", "secret123")
	require.NoError(t, err)
	assert.True(t, svc.HasUser())
}

func TestService_LinkAccount(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	st := newFakeStore()
	svc := newTestService(provider, st)

	err := svc.LinkAccount(ctx, "dave@example.com", "secret123")
	require.NoError(t, err)

	// The anonymous identity was created first and then linked; the final
	// session carries the mail credential under the same UID.
	assert.True(t, svc.HasUser())

	uid := svc.CurrentUserID()
	docs, err := st.QueryByField(ctx, DefaultUsersCollection, "id", uid)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	var u user.User
	require.NoError(t, docs[0].Decode(&u))
	assert.Equal(t, user.AuthMethodMail, u.AuthMethod)
	assert.Equal(t, "dave@example.com", u.Login)

	// Password sign-in works against the linked credential
	_, err = provider.SignInWithPassword(ctx, "dave@example.com", "secret123")
	assert.NoError(t, err)
}

func TestService_CreateUserFromCredentials(t *testing.T) {
	ctx := context.Background()

	t.Run("should fail without a session", func(t *testing.T) {
		svc := newTestService(newFakeProvider(), newFakeStore())

		err := svc.CreateUserFromCredentials(ctx, auth.GoogleCredential("test-id-token"))
		require.Error(t, err)
		assert.True(t, shared.IsPreconditionFailed(err))
	})

	t.Run("should persist google-tagged profile for current session", func(t *testing.T) {
		provider := newFakeProvider()
		st := newFakeStore()
		svc := newTestService(provider, st)

		provider.register("erin@example.com", "secret123")
		_, err := provider.SignInWithPassword(ctx, "erin@example.com", "secret123")
		require.NoError(t, err)

		require.NoError(t, svc.CreateUserFromCredentials(ctx, auth.GoogleCredential("test-id-token")))

		docs, err := st.QueryByField(ctx, DefaultUsersCollection, "id", svc.CurrentUserID())
		require.NoError(t, err)
		require.Len(t, docs, 1)

		var u user.User
		require.NoError(t, docs[0].Decode(&u))
		assert.Equal(t, user.AuthMethodGoogle, u.AuthMethod)
		assert.Empty(t, u.Login)
	})
}

func TestService_CreateUserFromID(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	st := newFakeStore()
	svc := newTestService(provider, st)

	provider.register("frank@example.com", "secret123")
	require.NoError(t, svc.Authenticate(ctx, "frank@example.com", "secret123"))
	uid := svc.CurrentUserID()

	t.Run("should fail for unknown id", func(t *testing.T) {
		err := svc.CreateUserFromID(ctx, "no-such-user")
		require.Error(t, err)
		assert.True(t, shared.IsNotFound(err))
	})

	t.Run("should re-save found profile under current session", func(t *testing.T) {
		err := svc.CreateUserFromID(ctx, uid)
		require.NoError(t, err)
		assert.Equal(t, 1, st.count(DefaultUsersCollection))
	})

	t.Run("should fail after profile deletion", func(t *testing.T) {
		require.NoError(t, svc.DeleteCurrentUserData(ctx, uid))

		err := svc.CreateUserFromID(ctx, uid)
		require.Error(t, err)
		assert.True(t, shared.IsNotFound(err))
	})
}

func TestService_SaveCurrentUserData(t *testing.T) {
	ctx := context.Background()

	t.Run("should fail without a session", func(t *testing.T) {
		svc := newTestService(newFakeProvider(), newFakeStore())

		err := svc.SaveCurrentUserData(ctx, user.User{})
		require.Error(t, err)
		assert.True(t, shared.IsPreconditionFailed(err))
	})

	t.Run("two sequential saves create exactly one document", func(t *testing.T) {
		provider := newFakeProvider()
		st := newFakeStore()
		svc := newTestService(provider, st)

		_, err := provider.SignInAnonymously(ctx)
		require.NoError(t, err)

		u := svc.CurrentUserData()
		require.NoError(t, svc.SaveCurrentUserData(ctx, u))
		require.NoError(t, svc.SaveCurrentUserData(ctx, u))

		assert.Equal(t, 1, st.count(DefaultUsersCollection))
	})

	t.Run("existing profile is left unchanged", func(t *testing.T) {
		provider := newFakeProvider()
		st := newFakeStore()
		svc := newTestService(provider, st)

		provider.register("grace@example.com", "secret123")
		require.NoError(t, svc.Authenticate(ctx, "grace@example.com", "secret123"))
		uid := svc.CurrentUserID()

		// Attempt to overwrite with a different auth method
		modified := user.NewGoogleUser(user.ID(uid))
		require.NoError(t, svc.SaveCurrentUserData(ctx, modified))

		docs, err := st.QueryByField(ctx, DefaultUsersCollection, "id", uid)
		require.NoError(t, err)
		require.Len(t, docs, 1)

		var stored user.User
		require.NoError(t, docs[0].Decode(&stored))
		assert.Equal(t, user.AuthMethodMail, stored.AuthMethod, "silent no-op must not touch the stored profile")
		assert.Equal(t, "grace@example.com", stored.Login)
	})

	t.Run("concurrent saves can both insert (documented race)", func(t *testing.T) {
		provider := newFakeProvider()
		st := newFakeStore()
		svc := newTestService(provider, st)

		_, err := provider.SignInAnonymously(ctx)
		require.NoError(t, err)
		u := svc.CurrentUserData()

		// Barrier: both callers must finish their existence query before
		// either is allowed to insert.
		var barrier sync.WaitGroup
		barrier.Add(2)
		st.queryHook = func() {
			barrier.Done()
			barrier.Wait()
		}

		var wg sync.WaitGroup
		wg.Add(2)
		for i := 0; i < 2; i++ {
			go func() {
				defer wg.Done()
				assert.NoError(t, svc.SaveCurrentUserData(ctx, u))
			}()
		}
		wg.Wait()

		assert.Equal(t, 2, st.count(DefaultUsersCollection),
			"unguarded check-then-insert permits duplicate profiles under concurrency")
	})
}

func TestService_DeleteAccount(t *testing.T) {
	ctx := context.Background()

	t.Run("should fail without a session", func(t *testing.T) {
		svc := newTestService(newFakeProvider(), newFakeStore())

		err := svc.DeleteAccount(ctx)
		require.Error(t, err)
		assert.True(t, shared.IsPreconditionFailed(err))
	})

	t.Run("should delete profile then identity", func(t *testing.T) {
		provider := newFakeProvider()
		st := newFakeStore()
		svc := newTestService(provider, st)

		provider.register("henry@example.com", "secret123")
		require.NoError(t, svc.Authenticate(ctx, "henry@example.com", "secret123"))
		uid := svc.CurrentUserID()

		require.NoError(t, svc.DeleteAccount(ctx))

		assert.Zero(t, st.count(DefaultUsersCollection))
		assert.False(t, provider.hasIdentity(uid))
		assert.Empty(t, svc.CurrentUserID())
	})
}

func TestService_SignOut(t *testing.T) {
	ctx := context.Background()

	t.Run("anonymous session has its identity deleted", func(t *testing.T) {
		provider := newFakeProvider()
		svc := newTestService(provider, newFakeStore())

		session, err := provider.SignInAnonymously(ctx)
		require.NoError(t, err)
		uid := session.UserID.String()

		require.NoError(t, svc.SignOut(ctx))

		assert.False(t, svc.HasUser())
		assert.False(t, provider.hasIdentity(uid), "anonymous identity must be removed from the provider")
	})

	t.Run("named session only signs out", func(t *testing.T) {
		provider := newFakeProvider()
		svc := newTestService(provider, newFakeStore())

		uid := provider.register("iris@example.com", "secret123")
		_, err := provider.SignInWithPassword(ctx, "iris@example.com", "secret123")
		require.NoError(t, err)

		require.NoError(t, svc.SignOut(ctx))

		assert.False(t, svc.HasUser())
		assert.True(t, provider.hasIdentity(uid), "named identity survives sign-out")
	})
}

func TestService_Subscribe(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	svc := newTestService(provider, newFakeStore())

	recv := func(t *testing.T, sub *Subscription) user.User {
		t.Helper()
		select {
		case u := <-sub.Updates():
			return u
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for snapshot")
			return user.User{}
		}
	}

	sub := svc.Subscribe()
	defer sub.Cancel()

	// Emits once immediately
	initial := recv(t, sub)
	assert.True(t, initial.ID.IsEmpty())

	// Emits on sign-in
	provider.register("judy@example.com", "secret123")
	_, err := provider.SignInWithPassword(ctx, "judy@example.com", "secret123")
	require.NoError(t, err)

	onSignIn := recv(t, sub)
	assert.Equal(t, svc.CurrentUserID(), onSignIn.ID.String())
	assert.False(t, onSignIn.IsAnonymous)

	// Emits on sign-out
	require.NoError(t, svc.SignOut(ctx))
	onSignOut := recv(t, sub)
	assert.True(t, onSignOut.ID.IsEmpty())

	// Stops after cancellation
	sub.Cancel()

	_, err = provider.SignInAnonymously(ctx)
	require.NoError(t, err)

	select {
	case _, open := <-sub.Updates():
		assert.False(t, open, "channel must be closed after Cancel")
	case <-time.After(100 * time.Millisecond):
		// Closed channel should be readable immediately; reaching here
		// means the pump leaked, fail explicitly.
		t.Fatal("subscription channel not closed after Cancel")
	}
}

func TestService_SendRecoveryEmail(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	svc := newTestService(provider, newFakeStore())

	t.Run("should fail for unknown email", func(t *testing.T) {
		err := svc.SendRecoveryEmail(ctx, "unknown@example.com")
		require.Error(t, err)
		assert.True(t, shared.IsNotFound(err))
	})

	t.Run("should dispatch for known email", func(t *testing.T) {
		provider.register("kate@example.com", "secret123")
		require.NoError(t, svc.SendRecoveryEmail(ctx, "kate@example.com"))
		assert.Equal(t, []string{"kate@example.com"}, provider.recoveries)
	})
}

func TestService_ProfileEvents(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	st := newFakeStore()
	pub := &fakePublisher{}
	svc := NewService(provider, st, Config{Events: pub}, logger.NewDefault(), nil)

	provider.register("mona@example.com", "secret123")
	require.NoError(t, svc.Authenticate(ctx, "mona@example.com", "secret123"))

	events := pub.published()
	require.Len(t, events, 1)
	created, ok := events[0].(*cqrsevents.ProfileCreatedEvent)
	require.True(t, ok)
	assert.Equal(t, svc.CurrentUserID(), created.UserID)
	assert.Equal(t, user.AuthMethodMail.String(), created.AuthMethod)
	assert.Equal(t, "mona@example.com", created.Login)

	// No-op save on an existing profile publishes nothing
	require.NoError(t, svc.SaveCurrentUserData(ctx, svc.CurrentUserData()))
	assert.Len(t, pub.published(), 1)

	uid := svc.CurrentUserID()
	require.NoError(t, svc.DeleteAccount(ctx))

	events = pub.published()
	require.Len(t, events, 2)
	deleted, ok := events[1].(*cqrsevents.ProfileDeletedEvent)
	require.True(t, ok)
	assert.Equal(t, uid, deleted.UserID)
}

func TestService_SubscribeSeesChangeDuringRegistration(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	svc := newTestService(provider, newFakeStore())

	// A sign-in that lands while the listener is being registered must
	// still be reflected in the first emitted snapshot.
	provider.register("nina@example.com", "secret123")
	provider.addListenerHook = func() {
		provider.addListenerHook = nil
		_, err := provider.SignInWithPassword(ctx, "nina@example.com", "secret123")
		require.NoError(t, err)
	}

	sub := svc.Subscribe()
	defer sub.Cancel()

	select {
	case u := <-sub.Updates():
		assert.Equal(t, svc.CurrentUserID(), u.ID.String())
		assert.Equal(t, "nina@example.com", u.Login)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
}
