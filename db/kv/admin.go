package kv

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// AdminUser is the single administrator account. The password is stored as a
// PBKDF2-HMAC-SHA-256 hash beside its salt and iteration count.
type AdminUser struct {
	Username        string `json:"username"`
	PasswordSaltHex string `json:"passwordSaltHex"`
	PasswordHashHex string `json:"passwordHashHex"`
	Iterations      int    `json:"iterations"`
	CreatedAt       string `json:"createdAt"`
	UpdatedAt       string `json:"updatedAt"`
}

// Session is one admin cookie session. Time fields are unix milliseconds.
type Session struct {
	ID             string `json:"sessionId"`
	Username       string `json:"username"`
	CsrfToken      string `json:"csrfToken"`
	CreatedAtMs    int64  `json:"createdAtMs"`
	RotatedAtMs    int64  `json:"rotatedAtMs"`
	LastSeenAtMs   int64  `json:"lastSeenAtMs"`
	AbsoluteExpiry int64  `json:"absoluteExpiryMs"`
	IdleExpiry     int64  `json:"idleExpiryMs"`
}

// LoginState tracks failed logins per (username, clientId) for lockout.
type LoginState struct {
	FailedCount int   `json:"failedCount"`
	LockUntilMs int64 `json:"lockUntilMs"`
	UpdatedAtMs int64 `json:"updatedAtMs"`
}

// AdminUser retrieves the primary admin account, or nil before bootstrap.
func (s *Store) AdminUser(_ context.Context) (*AdminUser, error) {
	var user *AdminUser
	err := s.view(func(tx *bolt.Tx) error {
		enc := tx.Bucket(adminUsersBucket).Get(adminPrimaryKey)
		if len(enc) == 0 {
			return nil
		}
		user = &AdminUser{}
		return json.Unmarshal(enc, user)
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not read admin user")
	}
	return user, nil
}

// SaveAdminUser persists the primary admin account. When ifAbsent is set the
// write fails if an account already exists, so concurrent bootstrap attempts
// race safely inside one transaction.
func (s *Store) SaveAdminUser(_ context.Context, user *AdminUser, ifAbsent bool) error {
	enc, err := json.Marshal(user)
	if err != nil {
		return errors.Wrap(err, "could not encode admin user")
	}
	return s.update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(adminUsersBucket)
		if ifAbsent && len(bkt.Get(adminPrimaryKey)) != 0 {
			return ErrAdminExists
		}
		return bkt.Put(adminPrimaryKey, enc)
	})
}

// ErrAdminExists is returned when bootstrap races an existing admin account.
var ErrAdminExists = errors.New("admin user already exists")

// Session retrieves a session by id, or nil when absent.
func (s *Store) Session(_ context.Context, sessionID string) (*Session, error) {
	var sess *Session
	err := s.view(func(tx *bolt.Tx) error {
		enc := tx.Bucket(sessionsBucket).Get([]byte(sessionID))
		if len(enc) == 0 {
			return nil
		}
		sess = &Session{}
		return json.Unmarshal(enc, sess)
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not read session")
	}
	return sess, nil
}

// SaveSession persists a session under its id.
func (s *Store) SaveSession(_ context.Context, sess *Session) error {
	enc, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "could not encode session")
	}
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(sess.ID), enc)
	})
}

// DeleteSession removes a session. Unknown ids are a no-op.
func (s *Store) DeleteSession(_ context.Context, sessionID string) error {
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(sessionID))
	})
}

func loginStateKey(username, clientID string) []byte {
	return []byte(fmt.Sprintf("%s:%s", username, clientID))
}

// LoginState retrieves the lockout state for (username, clientId), or nil.
func (s *Store) LoginState(_ context.Context, username, clientID string) (*LoginState, error) {
	var state *LoginState
	err := s.view(func(tx *bolt.Tx) error {
		enc := tx.Bucket(loginStateBucket).Get(loginStateKey(username, clientID))
		if len(enc) == 0 {
			return nil
		}
		state = &LoginState{}
		return json.Unmarshal(enc, state)
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not read login state")
	}
	return state, nil
}

// SaveLoginState persists the lockout state for (username, clientId).
func (s *Store) SaveLoginState(_ context.Context, username, clientID string, state *LoginState) error {
	enc, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "could not encode login state")
	}
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(loginStateBucket).Put(loginStateKey(username, clientID), enc)
	})
}

// DeleteLoginState clears the lockout state after a successful login.
func (s *Store) DeleteLoginState(_ context.Context, username, clientID string) error {
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(loginStateBucket).Delete(loginStateKey(username, clientID))
	})
}
