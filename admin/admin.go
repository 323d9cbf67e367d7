// Package admin implements the single-account admin subsystem: bootstrap,
// PBKDF2 password verification, cookie sessions with CSRF tokens and
// rotation, and exponential login lockout per (username, clientId).
package admin

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"regexp"
	"strings"
	stdtime "time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/pbkdf2"

	"github.com/dhannusch/pincer/config/params"
	"github.com/dhannusch/pincer/crypto/hash"
	cryptorand "github.com/dhannusch/pincer/crypto/rand"
	"github.com/dhannusch/pincer/db/kv"
	"github.com/dhannusch/pincer/errs"
	pincerTime "github.com/dhannusch/pincer/time"
)

var log = logrus.WithField("prefix", "admin")

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{3,64}$`)

const (
	saltLength  = 16
	tokenLength = 24
)

type database interface {
	AdminUser(ctx context.Context) (*kv.AdminUser, error)
	SaveAdminUser(ctx context.Context, user *kv.AdminUser, ifAbsent bool) error
	Session(ctx context.Context, sessionID string) (*kv.Session, error)
	SaveSession(ctx context.Context, sess *kv.Session) error
	DeleteSession(ctx context.Context, sessionID string) error
	LoginState(ctx context.Context, username, clientID string) (*kv.LoginState, error)
	SaveLoginState(ctx context.Context, username, clientID string, state *kv.LoginState) error
	DeleteLoginState(ctx context.Context, username, clientID string) error
}

// Manager owns the admin account and its sessions.
type Manager struct {
	db             database
	bootstrapToken string
	now            func() stdtime.Time
}

// NewManager constructs a Manager. bootstrapToken is the externally
// configured secret required to create the admin account.
func NewManager(db database, bootstrapToken string) *Manager {
	return &Manager{db: db, bootstrapToken: bootstrapToken, now: pincerTime.Now}
}

// WithClock overrides the manager clock. Used by tests.
func (m *Manager) WithClock(now func() stdtime.Time) *Manager {
	m.now = now
	return m
}

// NeedsBootstrap reports whether no admin account exists yet.
func (m *Manager) NeedsBootstrap(ctx context.Context) (bool, error) {
	user, err := m.db.AdminUser(ctx)
	if err != nil {
		return false, err
	}
	return user == nil, nil
}

// Bootstrap creates the admin account. It refuses when an account exists,
// verifies the bootstrap token in constant time, and hashes the password
// with PBKDF2-HMAC-SHA-256.
func (m *Manager) Bootstrap(ctx context.Context, token, username, password string) (string, error) {
	existing, err := m.db.AdminUser(ctx)
	if err != nil {
		return "", errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	if existing != nil {
		return "", errs.New(errs.KindAdminAlreadyInitialized, http.StatusConflict)
	}
	if m.bootstrapToken == "" || !hash.ConstantTimeEqual(token, m.bootstrapToken) {
		return "", errs.New(errs.KindInvalidBootstrapToken, http.StatusUnauthorized)
	}
	username = strings.ToLower(strings.TrimSpace(username))
	if !usernamePattern.MatchString(username) {
		return "", errs.New(errs.KindInvalidUsername, http.StatusBadRequest)
	}
	if len(password) < params.BoundaryConfig().PasswordMinLength {
		return "", errs.New(errs.KindInvalidPassword, http.StatusBadRequest)
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	cfg := params.BoundaryConfig()
	derived := pbkdf2.Key([]byte(password), salt, cfg.Pbkdf2Iterations, cfg.Pbkdf2KeyLength, sha256.New)
	now := pincerTime.ISO8601(m.now())
	user := &kv.AdminUser{
		Username:        username,
		PasswordSaltHex: hex.EncodeToString(salt),
		PasswordHashHex: hex.EncodeToString(derived),
		Iterations:      cfg.Pbkdf2Iterations,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := m.db.SaveAdminUser(ctx, user, true); err != nil {
		if errors.Is(err, kv.ErrAdminExists) {
			return "", errs.New(errs.KindAdminAlreadyInitialized, http.StatusConflict)
		}
		return "", errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	log.WithField("username", username).Info("Admin account initialized")
	return username, nil
}

// Login verifies credentials under the lockout policy and mints a session on
// success.
func (m *Manager) Login(ctx context.Context, username, password, clientID string) (*kv.Session, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	nowMs := pincerTime.UnixMs(m.now())

	state, err := m.db.LoginState(ctx, username, clientID)
	if err != nil {
		return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	if state != nil && state.LockUntilMs > nowMs {
		retryAfter := (state.LockUntilMs - nowMs + 999) / 1000
		return nil, errs.New(errs.KindLoginLocked, http.StatusTooManyRequests).
			WithDetail("retryAfterSeconds", retryAfter)
	}

	user, err := m.db.AdminUser(ctx)
	if err != nil {
		return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	if user == nil || user.Username != username || !verifyPassword(user, password) {
		return nil, m.recordFailure(ctx, username, clientID, state, nowMs)
	}

	if err := m.db.DeleteLoginState(ctx, username, clientID); err != nil {
		return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	return m.mintSession(ctx, username)
}

func verifyPassword(user *kv.AdminUser, password string) bool {
	salt, err := hex.DecodeString(user.PasswordSaltHex)
	if err != nil {
		return false
	}
	iterations := user.Iterations
	if iterations <= 0 {
		iterations = params.BoundaryConfig().Pbkdf2Iterations
	}
	derived := pbkdf2.Key([]byte(password), salt, iterations, params.BoundaryConfig().Pbkdf2KeyLength, sha256.New)
	return hash.ConstantTimeEqual(hex.EncodeToString(derived), user.PasswordHashHex)
}

func (m *Manager) recordFailure(ctx context.Context, username, clientID string, state *kv.LoginState, nowMs int64) error {
	cfg := params.BoundaryConfig()
	if state == nil {
		state = &kv.LoginState{}
	}
	state.FailedCount++
	state.UpdatedAtMs = nowMs

	if state.FailedCount >= cfg.LockoutThreshold {
		lockSeconds := lockDurationSeconds(state.FailedCount, cfg)
		state.LockUntilMs = nowMs + lockSeconds*1000
		if err := m.db.SaveLoginState(ctx, username, clientID, state); err != nil {
			return errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
		}
		return errs.New(errs.KindLoginLocked, http.StatusTooManyRequests).
			WithDetail("retryAfterSeconds", lockSeconds)
	}
	if err := m.db.SaveLoginState(ctx, username, clientID, state); err != nil {
		return errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	return errs.New(errs.KindInvalidCredentials, http.StatusUnauthorized)
}

// lockDurationSeconds computes min(LockoutMaxDelay, base·2^(n−threshold)).
func lockDurationSeconds(failedCount int, cfg *params.Config) int64 {
	exp := failedCount - cfg.LockoutThreshold
	if exp > 30 {
		exp = 30
	}
	seconds := int64(cfg.LockoutBaseDelay/stdtime.Second) << uint(exp)
	max := int64(cfg.LockoutMaxDelay / stdtime.Second)
	if seconds > max || seconds <= 0 {
		return max
	}
	return seconds
}

func (m *Manager) mintSession(ctx context.Context, username string) (*kv.Session, error) {
	id, err := cryptorand.HexToken(tokenLength)
	if err != nil {
		return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	csrf, err := cryptorand.HexToken(tokenLength)
	if err != nil {
		return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	cfg := params.BoundaryConfig()
	nowMs := pincerTime.UnixMs(m.now())
	sess := &kv.Session{
		ID:             id,
		Username:       username,
		CsrfToken:      csrf,
		CreatedAtMs:    nowMs,
		RotatedAtMs:    nowMs,
		LastSeenAtMs:   nowMs,
		AbsoluteExpiry: nowMs + cfg.SessionAbsoluteTTL.Milliseconds(),
		IdleExpiry:     nowMs + cfg.SessionIdleTTL.Milliseconds(),
	}
	if err := m.db.SaveSession(ctx, sess); err != nil {
		return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	return sess, nil
}

// Authenticate enforces an admin session. It returns the (possibly rotated)
// session and whether rotation occurred, in which case the caller must issue
// a fresh cookie.
func (m *Manager) Authenticate(ctx context.Context, sessionID, csrfHeader string, requireCsrf bool) (*kv.Session, bool, error) {
	if sessionID == "" {
		return nil, false, errs.New(errs.KindMissingAdminSession, http.StatusUnauthorized)
	}
	sess, err := m.db.Session(ctx, sessionID)
	if err != nil {
		return nil, false, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	if sess == nil {
		return nil, false, errs.New(errs.KindInvalidAdminSession, http.StatusUnauthorized)
	}

	cfg := params.BoundaryConfig()
	nowMs := pincerTime.UnixMs(m.now())
	if nowMs > sess.AbsoluteExpiry || nowMs > sess.IdleExpiry {
		if err := m.db.DeleteSession(ctx, sess.ID); err != nil {
			log.WithError(err).Warn("Could not delete expired session")
		}
		return nil, false, errs.New(errs.KindExpiredAdminSession, http.StatusUnauthorized)
	}
	if requireCsrf && !hash.ConstantTimeEqual(csrfHeader, sess.CsrfToken) {
		return nil, false, errs.New(errs.KindInvalidCsrfToken, http.StatusForbidden)
	}

	if nowMs-sess.RotatedAtMs >= cfg.SessionRotateAfter.Milliseconds() {
		if err := m.db.DeleteSession(ctx, sess.ID); err != nil {
			return nil, false, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
		}
		newID, err := cryptorand.HexToken(tokenLength)
		if err != nil {
			return nil, false, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
		}
		newCsrf, err := cryptorand.HexToken(tokenLength)
		if err != nil {
			return nil, false, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
		}
		rotated := *sess
		rotated.ID = newID
		rotated.CsrfToken = newCsrf
		rotated.RotatedAtMs = nowMs
		rotated.LastSeenAtMs = nowMs
		rotated.IdleExpiry = nowMs + cfg.SessionIdleTTL.Milliseconds()
		if err := m.db.SaveSession(ctx, &rotated); err != nil {
			return nil, false, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
		}
		return &rotated, true, nil
	}

	sess.LastSeenAtMs = nowMs
	sess.IdleExpiry = nowMs + cfg.SessionIdleTTL.Milliseconds()
	if err := m.db.SaveSession(ctx, sess); err != nil {
		return nil, false, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	return sess, false, nil
}

// Logout deletes the session server-side.
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return m.db.DeleteSession(ctx, sessionID)
}

// ClientID derives the lockout bucket from the connecting-address header.
// Deliberately coarse: clearing cookies must not reset the counter.
func ClientID(r *http.Request) string {
	if ip := r.Header.Get("cf-connecting-ip"); ip != "" {
		return ip
	}
	return "unknown"
}
