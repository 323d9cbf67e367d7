package admin_test

import (
	"context"
	"net/http/httptest"
	"testing"
	stdtime "time"

	"github.com/dhannusch/pincer/admin"
	"github.com/dhannusch/pincer/config/params"
	"github.com/dhannusch/pincer/db/kv"
	"github.com/dhannusch/pincer/errs"
	"github.com/dhannusch/pincer/testing/assert"
	"github.com/dhannusch/pincer/testing/require"
)

const (
	testToken    = "bootstrap-token"
	testUser     = "root"
	testPassword = "correct-horse-battery"
	testClient   = "203.0.113.7"
)

// fastConfig lowers the PBKDF2 cost so login tests stay quick.
func fastConfig(t *testing.T) {
	t.Helper()
	prior := params.BoundaryConfig()
	cfg := prior.Copy()
	cfg.Pbkdf2Iterations = 16
	params.OverrideBoundaryConfig(cfg)
	t.Cleanup(func() {
		params.OverrideBoundaryConfig(prior)
	})
}

type settableClock struct {
	t stdtime.Time
}

func (c *settableClock) now() stdtime.Time { return c.t }

func (c *settableClock) advance(d stdtime.Duration) { c.t = c.t.Add(d) }

func setupManager(t *testing.T) (*admin.Manager, *settableClock) {
	t.Helper()
	fastConfig(t)
	db, err := kv.NewKVStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	clock := &settableClock{t: stdtime.Unix(1_700_000_000, 0).UTC()}
	return admin.NewManager(db, testToken).WithClock(clock.now), clock
}

func bootstrapped(t *testing.T) (*admin.Manager, *settableClock) {
	t.Helper()
	m, clock := setupManager(t)
	_, err := m.Bootstrap(context.Background(), testToken, testUser, testPassword)
	require.NoError(t, err)
	return m, clock
}

func TestBootstrapValidation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		token    string
		username string
		password string
		wantKind string
	}{
		{"wrong token", "nope", testUser, testPassword, errs.KindInvalidBootstrapToken},
		{"short username", testToken, "ab", testPassword, errs.KindInvalidUsername},
		{"bad username chars", testToken, "root!", testPassword, errs.KindInvalidUsername},
		{"short password", testToken, testUser, "short", errs.KindInvalidPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := setupManager(t)
			_, err := m.Bootstrap(ctx, tt.token, tt.username, tt.password)
			require.NotNil(t, err)
			assert.Equal(t, tt.wantKind, errs.As(err).Kind)
		})
	}
}

func TestBootstrapOnce(t *testing.T) {
	m, _ := setupManager(t)
	ctx := context.Background()

	needs, err := m.NeedsBootstrap(ctx)
	require.NoError(t, err)
	assert.Equal(t, true, needs)

	username, err := m.Bootstrap(ctx, testToken, "  Root  ", testPassword)
	require.NoError(t, err)
	assert.Equal(t, "root", username)

	needs, err = m.NeedsBootstrap(ctx)
	require.NoError(t, err)
	assert.Equal(t, false, needs)

	_, err = m.Bootstrap(ctx, testToken, testUser, testPassword)
	require.NotNil(t, err)
	assert.Equal(t, errs.KindAdminAlreadyInitialized, errs.As(err).Kind)
}

func TestLoginSuccess(t *testing.T) {
	m, _ := bootstrapped(t)
	ctx := context.Background()

	sess, err := m.Login(ctx, "ROOT", testPassword, testClient)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, testUser, sess.Username)
	assert.NotEqual(t, "", sess.ID)
	assert.NotEqual(t, "", sess.CsrfToken)
	assert.Equal(t, sess.CreatedAtMs+(8*stdtime.Hour).Milliseconds(), sess.AbsoluteExpiry)
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	m, clock := bootstrapped(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := m.Login(ctx, testUser, "wrong-password", testClient)
		require.NotNil(t, err)
		assert.Equal(t, errs.KindInvalidCredentials, errs.As(err).Kind)
	}

	// The fifth failure crosses the threshold and locks the pair.
	_, err := m.Login(ctx, testUser, "wrong-password", testClient)
	require.NotNil(t, err)
	e := errs.As(err)
	assert.Equal(t, errs.KindLoginLocked, e.Kind)
	assert.Equal(t, int64(30), e.Details["retryAfterSeconds"])

	// Even the right password is refused while locked.
	_, err = m.Login(ctx, testUser, testPassword, testClient)
	require.NotNil(t, err)
	assert.Equal(t, errs.KindLoginLocked, errs.As(err).Kind)

	// A different client id is unaffected.
	sess, err := m.Login(ctx, testUser, testPassword, "198.51.100.9")
	require.NoError(t, err)
	require.NotNil(t, sess)

	// After the lock expires a good login succeeds and clears the counter.
	clock.advance(31 * stdtime.Second)
	sess, err = m.Login(ctx, testUser, testPassword, testClient)
	require.NoError(t, err)
	require.NotNil(t, sess)
}

func TestLoginLockoutBackoffDoubles(t *testing.T) {
	m, clock := bootstrapped(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := m.Login(ctx, testUser, "wrong-password", testClient)
		require.NotNil(t, err)
	}
	clock.advance(31 * stdtime.Second)

	_, err := m.Login(ctx, testUser, "wrong-password", testClient)
	require.NotNil(t, err)
	e := errs.As(err)
	assert.Equal(t, errs.KindLoginLocked, e.Kind)
	assert.Equal(t, int64(60), e.Details["retryAfterSeconds"])
}

func TestAuthenticateLifecycle(t *testing.T) {
	m, clock := bootstrapped(t)
	ctx := context.Background()

	sess, err := m.Login(ctx, testUser, testPassword, testClient)
	require.NoError(t, err)

	got, rotated, err := m.Authenticate(ctx, sess.ID, "", false)
	require.NoError(t, err)
	assert.Equal(t, false, rotated)
	assert.Equal(t, sess.ID, got.ID)

	// CSRF is enforced only when requested.
	_, _, err = m.Authenticate(ctx, sess.ID, "wrong", true)
	require.NotNil(t, err)
	assert.Equal(t, errs.KindInvalidCsrfToken, errs.As(err).Kind)

	_, rotated, err = m.Authenticate(ctx, sess.ID, sess.CsrfToken, true)
	require.NoError(t, err)
	assert.Equal(t, false, rotated)

	// Past the rotation interval the id and CSRF token are replaced and the
	// old id stops working.
	clock.advance(16 * stdtime.Minute)
	fresh, rotated, err := m.Authenticate(ctx, sess.ID, "", false)
	require.NoError(t, err)
	assert.Equal(t, true, rotated)
	assert.NotEqual(t, sess.ID, fresh.ID)
	assert.NotEqual(t, sess.CsrfToken, fresh.CsrfToken)

	_, _, err = m.Authenticate(ctx, sess.ID, "", false)
	require.NotNil(t, err)
	assert.Equal(t, errs.KindInvalidAdminSession, errs.As(err).Kind)
}

func TestAuthenticateExpiry(t *testing.T) {
	m, clock := bootstrapped(t)
	ctx := context.Background()

	_, _, err := m.Authenticate(ctx, "", "", false)
	require.NotNil(t, err)
	assert.Equal(t, errs.KindMissingAdminSession, errs.As(err).Kind)

	_, _, err = m.Authenticate(ctx, "unknown-session", "", false)
	require.NotNil(t, err)
	assert.Equal(t, errs.KindInvalidAdminSession, errs.As(err).Kind)

	// Idle expiry.
	sess, err := m.Login(ctx, testUser, testPassword, testClient)
	require.NoError(t, err)
	clock.advance(31 * stdtime.Minute)
	_, _, err = m.Authenticate(ctx, sess.ID, "", false)
	require.NotNil(t, err)
	assert.Equal(t, errs.KindExpiredAdminSession, errs.As(err).Kind)

	// Absolute expiry: keep the session warm past eight hours.
	sess, err = m.Login(ctx, testUser, testPassword, testClient)
	require.NoError(t, err)
	current := sess
	for i := 0; i < 16; i++ {
		clock.advance(29 * stdtime.Minute)
		refreshed, _, err := m.Authenticate(ctx, current.ID, "", false)
		require.NoError(t, err)
		current = refreshed
	}
	clock.advance(29 * stdtime.Minute)
	_, _, err = m.Authenticate(ctx, current.ID, "", false)
	require.NotNil(t, err)
	assert.Equal(t, errs.KindExpiredAdminSession, errs.As(err).Kind)
}

func TestLogout(t *testing.T) {
	m, _ := bootstrapped(t)
	ctx := context.Background()

	sess, err := m.Login(ctx, testUser, testPassword, testClient)
	require.NoError(t, err)
	require.NoError(t, m.Logout(ctx, sess.ID))

	_, _, err = m.Authenticate(ctx, sess.ID, "", false)
	require.NotNil(t, err)
	assert.Equal(t, errs.KindInvalidAdminSession, errs.As(err).Kind)

	// Logging out with no cookie is a no-op.
	require.NoError(t, m.Logout(ctx, ""))
}

func TestClientID(t *testing.T) {
	r := httptest.NewRequest("POST", "/v1/admin/login", nil)
	assert.Equal(t, "unknown", admin.ClientID(r))

	r.Header.Set("cf-connecting-ip", "203.0.113.7")
	assert.Equal(t, "203.0.113.7", admin.ClientID(r))
}
