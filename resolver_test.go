package authkit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolverSessionContainerPath(t *testing.T) {
	ctx := context.Background()
	repo := newCountingRepo(testRepo(t))
	resolver := NewResolver(repo, testConfig())
	user := createTestUser(t, repo, "resolve@example.com", "password123")

	rc := newTestRequest()
	_, err := resolver.Login(ctx, rc, user, false)
	require.NoError(t, err)

	next := rc.nextRequest()
	principal, err := resolver.CurrentPrincipal(ctx, next)
	require.NoError(t, err)
	require.NotNil(t, principal)
	assert.Equal(t, user.ID, principal.ID)
}

func TestResolverMemoizesPerRequest(t *testing.T) {
	ctx := context.Background()
	repo := newCountingRepo(testRepo(t))
	resolver := NewResolver(repo, testConfig())
	user := createTestUser(t, repo, "memo@example.com", "password123")

	rc := newTestRequest()
	_, err := resolver.Login(ctx, rc, user, false)
	require.NoError(t, err)

	next := rc.nextRequest()
	for i := 0; i < 5; i++ {
		principal, err := resolver.CurrentPrincipal(ctx, next)
		require.NoError(t, err)
		require.NotNil(t, principal)
	}

	assert.Equal(t, int32(1), repo.sessions.getActive.Load())
	assert.Equal(t, int32(1), repo.users.getByID.Load())
}

func TestResolverMemoizesNegativeOutcome(t *testing.T) {
	ctx := context.Background()
	repo := newCountingRepo(testRepo(t))
	resolver := NewResolver(repo, testConfig())

	rc := newTestRequest()
	rc.remember = "no-such-token"

	for i := 0; i < 3; i++ {
		principal, err := resolver.CurrentPrincipal(ctx, rc)
		require.NoError(t, err)
		assert.Nil(t, principal)
	}

	assert.Equal(t, int32(1), repo.sessions.getActiveByToken.Load())
}

func TestResolverRememberCookiePath(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)
	resolver := NewResolver(repo, testConfig())
	user := createTestUser(t, repo, "cookie@example.com", "password123")

	rc := newTestRequest()
	_, err := resolver.Login(ctx, rc, user, true)
	require.NoError(t, err)
	require.NotEmpty(t, rc.remember)

	// A new browser session: the container is gone, the cookie is not.
	next := rc.nextRequest()
	next.session = NewMemorySessionContainer()

	principal, err := resolver.CurrentPrincipal(ctx, next)
	require.NoError(t, err)
	require.NotNil(t, principal)
	assert.Equal(t, user.ID, principal.ID)

	// A hit repopulates the container so follow-up requests can use the
	// cheaper session path.
	assert.NotEmpty(t, next.session.Get(sessionKeyUserSession))
}

func TestResolverNoRememberCookieWithoutOptIn(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)
	resolver := NewResolver(repo, testConfig())
	user := createTestUser(t, repo, "no-remember@example.com", "password123")

	rc := newTestRequest()
	_, err := resolver.Login(ctx, rc, user, false)
	require.NoError(t, err)
	assert.Empty(t, rc.remember)

	// Container lost, no cookie: nothing resolves.
	next := rc.nextRequest()
	next.session = NewMemorySessionContainer()

	principal, err := resolver.CurrentPrincipal(ctx, next)
	require.NoError(t, err)
	assert.Nil(t, principal)
}

func TestResolverInactiveSessionResolvesToNone(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)
	resolver := NewResolver(repo, testConfig())
	user := createTestUser(t, repo, "inactive@example.com", "password123")

	rc := newTestRequest()
	session, err := resolver.Login(ctx, rc, user, true)
	require.NoError(t, err)

	require.NoError(t, repo.UserSessions().Revoke(ctx, session))

	next := rc.nextRequest()
	principal, err := resolver.CurrentPrincipal(ctx, next)
	require.NoError(t, err)
	assert.Nil(t, principal, "revoked session must resolve silently to none")
}

func TestResolverLoginResetsContainer(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)
	resolver := NewResolver(repo, testConfig())
	user := createTestUser(t, repo, "fixation@example.com", "password123")

	rc := newTestRequest()
	rc.session.Set("attacker_planted", "value")
	rc.session.Set(sessionKeyUserSession, "11111111-1111-1111-1111-111111111111")

	_, err := resolver.Login(ctx, rc, user, false)
	require.NoError(t, err)

	assert.Empty(t, rc.session.Get("attacker_planted"))
	assert.NotEqual(t, "11111111-1111-1111-1111-111111111111", rc.session.Get(sessionKeyUserSession))
	assert.NotEmpty(t, rc.session.Get(sessionKeyUserSession))
}

func TestResolverLoginTracksSignIn(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)
	resolver := NewResolver(repo, testConfig())
	user := createTestUser(t, repo, "track@example.com", "password123")

	rc := newTestRequest()
	_, err := resolver.Login(ctx, rc, user, false)
	require.NoError(t, err)

	reloaded, err := repo.Users().GetByID(ctx, user.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.SignInCount)
	assert.Equal(t, rc.ip, reloaded.CurrentSignInIP)
}

func TestResolverLoginHonorsDoNotTrack(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)
	resolver := NewResolver(repo, testConfig())
	user := createTestUser(t, repo, "dnt@example.com", "password123")

	rc := newTestRequest()
	rc.dnt = true

	_, err := resolver.Login(ctx, rc, user, false)
	require.NoError(t, err)

	reloaded, err := repo.Users().GetByID(ctx, user.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.SignInCount)
	assert.Empty(t, reloaded.CurrentSignInIP)

	// The login itself still works.
	principal, err := resolver.CurrentPrincipal(ctx, rc)
	require.NoError(t, err)
	require.NotNil(t, principal)
}

func TestResolverLoginPropagatesTimeZone(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)
	resolver := NewResolver(repo, testConfig())

	user := &User{Email: "tz@example.com", TimeZone: "Europe/Madrid"}
	require.NoError(t, SetPassword(user, "password123", "password123"))
	user, err := repo.Users().Register(ctx, user)
	require.NoError(t, err)

	rc := newTestRequest()
	_, err = resolver.Login(ctx, rc, user, false)
	require.NoError(t, err)

	assert.Equal(t, "Europe/Madrid", resolver.TimeZone(rc))
}

func TestRequireLogin(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)
	resolver := NewResolver(repo, testConfig())
	user := createTestUser(t, repo, "gate@example.com", "password123")

	t.Run("anonymous is denied and return url captured", func(t *testing.T) {
		rc := newTestRequest()
		rc.url = "/billing/invoices"

		_, err := resolver.RequireLogin(ctx, rc)
		assert.ErrorIs(t, err, ErrLoginRequired)
		assert.Equal(t, "/billing/invoices", rc.session.Get(sessionKeyReturnURL))
		assert.Equal(t, "/billing/invoices", resolver.ReturnURL(rc, "/"))
	})

	t.Run("logged in passes", func(t *testing.T) {
		rc := newTestRequest()
		_, err := resolver.Login(ctx, rc, user, false)
		require.NoError(t, err)

		got, err := resolver.RequireLogin(ctx, rc.nextRequest())
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
	})

	t.Run("suspended resolves but is denied distinctly", func(t *testing.T) {
		suspended := createTestUser(t, repo, "suspended@example.com", "password123")

		rc := newTestRequest()
		_, err := resolver.Login(ctx, rc, suspended, false)
		require.NoError(t, err)

		require.NoError(t, repo.Users().Suspend(ctx, suspended))

		_, err = resolver.RequireLogin(ctx, rc.nextRequest())
		assert.ErrorIs(t, err, ErrUserSuspended)
		assert.NotErrorIs(t, err, ErrLoginRequired)
	})
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)
	resolver := NewResolver(repo, testConfig())
	user := createTestUser(t, repo, "logout@example.com", "password123")

	rc := newTestRequest()
	session, err := resolver.Login(ctx, rc, user, true)
	require.NoError(t, err)

	require.NoError(t, resolver.Logout(ctx, rc))

	assert.True(t, rc.rememberDeleted)
	assert.Empty(t, rc.session.Get(sessionKeyUserSession))

	// The record is terminated server side, the remember token is dead
	// even if a copy of the cookie survived.
	_, err = repo.UserSessions().GetActiveByToken(ctx, session.RememberToken)
	assert.Error(t, err)

	principal, err := resolver.CurrentPrincipal(ctx, rc.nextRequest())
	require.NoError(t, err)
	assert.Nil(t, principal)
}

func TestSudoElevation(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)
	resolver := NewResolver(repo, testConfig())
	user := createTestUser(t, repo, "sudo@example.com", "password123")

	rc := newTestRequest()
	_, err := resolver.Login(ctx, rc, user, false)
	require.NoError(t, err)

	_, err = resolver.RequireSudo(ctx, rc)
	assert.ErrorIs(t, err, ErrSudoRequired)

	require.NoError(t, resolver.EnableSudo(ctx, rc))

	// A fresh request sees the persisted elevation.
	got, err := resolver.RequireSudo(ctx, rc.nextRequest())
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	// Beyond the sudo window the gate closes again.
	resolver.WithClock(fixedClock(time.Now().Add(2 * time.Hour)))
	_, err = resolver.RequireSudo(ctx, rc.nextRequest())
	assert.ErrorIs(t, err, ErrSudoRequired)
}

func TestRequireCompleteProfile(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)

	cfg := testConfig()
	cfg.UsernameEnabled = true
	resolver := NewResolver(repo, cfg)

	t.Run("complete profile passes", func(t *testing.T) {
		user := &User{Email: "complete@example.com", Username: "complete"}
		require.NoError(t, SetPassword(user, "password123", "password123"))
		user, err := repo.Users().Register(ctx, user)
		require.NoError(t, err)

		rc := newTestRequest()
		_, err = resolver.Login(ctx, rc, user, false)
		require.NoError(t, err)

		_, err = resolver.RequireCompleteProfile(ctx, rc.nextRequest())
		assert.NoError(t, err)
	})

	t.Run("missing username is incomplete", func(t *testing.T) {
		user := createTestUser(t, repo, "nousername@example.com", "password123")

		rc := newTestRequest()
		_, err := resolver.Login(ctx, rc, user, false)
		require.NoError(t, err)

		_, err = resolver.RequireCompleteProfile(ctx, rc.nextRequest())
		assert.ErrorIs(t, err, ErrIncompleteProfile)
	})
}
