// Package auth implements runtime request authentication: bearer key check
// plus a timestamped HMAC signature over the canonical request string, with a
// bounded replay window.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	stdtime "time"

	"github.com/dhannusch/pincer/crypto/hash"
	"github.com/dhannusch/pincer/db/kv"
	"github.com/dhannusch/pincer/errs"
	pincerTime "github.com/dhannusch/pincer/time"
)

// Header names carried on every signed runtime request.
const (
	HeaderTimestamp  = "x-pincer-timestamp"
	HeaderBodySha256 = "x-pincer-body-sha256"
	HeaderSignature  = "x-pincer-signature"
)

// SignaturePrefix is the accepted version tag on the signature header.
const SignaturePrefix = "v1="

// Headers are the authentication inputs extracted from the request.
type Headers struct {
	Authorization string
	Timestamp     string
	BodySha256    string
	Signature     string
}

// HeadersFromRequest pulls the signed-request headers off r.
func HeadersFromRequest(r *http.Request) Headers {
	return Headers{
		Authorization: r.Header.Get("authorization"),
		Timestamp:     r.Header.Get(HeaderTimestamp),
		BodySha256:    r.Header.Get(HeaderBodySha256),
		Signature:     r.Header.Get(HeaderSignature),
	}
}

// CanonicalString builds the signing string: METHOD, path (query and fragment
// excluded), timestamp, and the lowercase hex body hash, newline-joined.
func CanonicalString(method, path string, timestamp, bodySha256 string) string {
	return fmt.Sprintf("%s\n%s\n%s\n%s", strings.ToUpper(method), path, timestamp, bodySha256)
}

type database interface {
	RuntimeKey(ctx context.Context) (*kv.RuntimeKeyRecord, error)
}

type secretResolver interface {
	Resolve(ctx context.Context, binding string) (string, error)
}

// Verifier authenticates signed runtime requests against the runtime key
// record and the vault-held HMAC secret.
type Verifier struct {
	db      database
	secrets secretResolver
	now     func() stdtime.Time
}

// NewVerifier constructs a Verifier.
func NewVerifier(db database, secrets secretResolver) *Verifier {
	return &Verifier{db: db, secrets: secrets, now: pincerTime.Now}
}

// WithClock overrides the verifier clock. Used by tests.
func (v *Verifier) WithClock(now func() stdtime.Time) *Verifier {
	v.now = now
	return v
}

// Verify authenticates one request and returns the runtime key id. Failures
// carry the stable reason kinds from the error catalog; all hash, HMAC and
// secret comparisons are constant time.
func (v *Verifier) Verify(ctx context.Context, method, path string, body []byte, hdr Headers) (string, error) {
	keyID, keySecret, ok := parseBearer(hdr.Authorization)
	if !ok {
		return "", errs.New(errs.KindInvalidRuntimeKeyFormat, http.StatusUnauthorized)
	}

	rec, err := v.db.RuntimeKey(ctx)
	if err != nil {
		return "", errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	if rec == nil {
		return "", errs.New(errs.KindMissingRuntimeConfig, http.StatusInternalServerError)
	}
	if keyID != rec.ID {
		return "", errs.New(errs.KindUnknownRuntimeKey, http.StatusUnauthorized)
	}
	if !hash.ConstantTimeEqual(hash.Sha256Hex([]byte(keySecret)), rec.KeyHash) {
		return "", errs.New(errs.KindInvalidRuntimeKey, http.StatusUnauthorized)
	}

	hmacSecret, err := v.secrets.Resolve(ctx, rec.HmacBinding())
	if err != nil {
		return "", errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	if hmacSecret == "" {
		return "", errs.New(errs.KindMissingHmacSecret, http.StatusInternalServerError)
	}

	if err := v.verifySignature(method, path, body, hdr, rec.Skew(), hmacSecret); err != nil {
		return "", err
	}
	return keyID, nil
}

func (v *Verifier) verifySignature(method, path string, body []byte, hdr Headers, skewSeconds int64, hmacSecret string) error {
	ts, err := strconv.ParseInt(strings.TrimSpace(hdr.Timestamp), 10, 64)
	if err != nil {
		return errs.New(errs.KindInvalidTimestamp, http.StatusUnauthorized)
	}
	now := v.now().Unix()
	skew := now - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > skewSeconds {
		return errs.New(errs.KindStaleTimestamp, http.StatusUnauthorized)
	}

	if !hash.ConstantTimeEqual(hash.Sha256Hex(body), strings.ToLower(hdr.BodySha256)) {
		return errs.New(errs.KindInvalidBodyHash, http.StatusUnauthorized)
	}

	canonical := CanonicalString(method, path, strings.TrimSpace(hdr.Timestamp), strings.ToLower(hdr.BodySha256))
	expected := hash.HmacSha256Hex([]byte(hmacSecret), []byte(canonical))
	presented := strings.TrimPrefix(hdr.Signature, SignaturePrefix)
	if !hash.ConstantTimeEqual(expected, presented) {
		return errs.New(errs.KindInvalidSignature, http.StatusUnauthorized)
	}
	return nil
}

func parseBearer(authorization string) (keyID, keySecret string, ok bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(authorization, prefix) {
		return "", "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authorization, prefix))
	idx := strings.IndexByte(token, '.')
	if idx <= 0 || idx == len(token)-1 {
		return "", "", false
	}
	return token[:idx], token[idx+1:], true
}
