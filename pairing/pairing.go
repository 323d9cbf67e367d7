// Package pairing issues and consumes the one-time codes the admin hands an
// agent in exchange for runtime credentials.
package pairing

import (
	"context"
	"net/http"
	"strings"
	stdtime "time"

	"github.com/pkg/errors"

	"github.com/dhannusch/pincer/config/params"
	cryptorand "github.com/dhannusch/pincer/crypto/rand"
	"github.com/dhannusch/pincer/db/kv"
	"github.com/dhannusch/pincer/errs"
	pincerTime "github.com/dhannusch/pincer/time"
)

type database interface {
	SavePairing(ctx context.Context, code string, rec *kv.PairingRecord) error
	ConsumePairing(ctx context.Context, code string, nowMs int64) (*kv.PairingRecord, error)
}

// Store issues and redeems pairing codes.
type Store struct {
	db  database
	now func() stdtime.Time
}

// NewStore constructs a pairing store.
func NewStore(db database) *Store {
	return &Store{db: db, now: pincerTime.Now}
}

// WithClock overrides the store clock. Used by tests.
func (s *Store) WithClock(now func() stdtime.Time) *Store {
	s.now = now
	return s
}

// Create mints a fresh code and stores the credential bundle under it.
// Returns the code and its TTL in seconds.
func (s *Store) Create(ctx context.Context, workerURL, runtimeKey, hmacSecret string) (string, int64, error) {
	code, err := cryptorand.PairingCode()
	if err != nil {
		return "", 0, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	ttl := params.BoundaryConfig().PairingTTL
	rec := &kv.PairingRecord{
		WorkerURL:   workerURL,
		RuntimeKey:  runtimeKey,
		HmacSecret:  hmacSecret,
		ExpiresAtMs: pincerTime.UnixMs(s.now()) + ttl.Milliseconds(),
	}
	if err := s.db.SavePairing(ctx, code, rec); err != nil {
		return "", 0, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	return code, int64(ttl / stdtime.Second), nil
}

// Consume redeems a code exactly once. The first successful delete-and-read
// wins; later callers observe absence.
func (s *Store) Consume(ctx context.Context, code string) (*kv.PairingRecord, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, errs.New(errs.KindInvalidOrExpiredCode, http.StatusNotFound)
	}
	rec, err := s.db.ConsumePairing(ctx, code, pincerTime.UnixMs(s.now()))
	if err != nil {
		if errors.Is(err, kv.ErrCorruptPairingRecord) {
			return nil, errs.New(errs.KindCorruptPairingRecord, http.StatusInternalServerError)
		}
		return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	if rec == nil {
		return nil, errs.New(errs.KindInvalidOrExpiredCode, http.StatusNotFound)
	}
	return rec, nil
}
