// Package vault implements the boundary's encrypted secret store. Entries are
// sealed with AES-256-GCM under a key derived from the KEK; resolution falls
// back to same-named environment bindings so deployments can pre-seed secrets
// without writing them into the store.
package vault

import (
	"context"
	"net/http"
	"os"
	"regexp"
	"sort"
	stdtime "time"

	"github.com/sirupsen/logrus"

	"github.com/dhannusch/pincer/crypto/aesgcm"
	"github.com/dhannusch/pincer/db/kv"
	"github.com/dhannusch/pincer/errs"
	pincerTime "github.com/dhannusch/pincer/time"
)

var log = logrus.WithField("prefix", "vault")

var bindingPattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,128}$`)

type database interface {
	VaultSecret(ctx context.Context, binding string) (*kv.VaultSecretRecord, error)
	SaveVaultSecret(ctx context.Context, binding string, rec *kv.VaultSecretRecord) error
	DeleteVaultSecret(ctx context.Context, binding string) error
	VaultBindings(ctx context.Context) ([]string, error)
}

// Vault mediates all access to encrypted secret records. Plaintexts only
// leave through Get and Resolve; the metadata listing never carries values.
type Vault struct {
	db        database
	key       []byte
	lookupEnv func(string) string
	now       func() stdtime.Time
}

// Option configures a Vault.
type Option func(*Vault)

// WithEnvLookup overrides the environment fallback source. Used by tests.
func WithEnvLookup(fn func(string) string) Option {
	return func(v *Vault) { v.lookupEnv = fn }
}

// WithClock overrides the vault clock. Used by tests.
func WithClock(now func() stdtime.Time) Option {
	return func(v *Vault) { v.now = now }
}

// New constructs a vault sealing under SHA-256(kek).
func New(db database, kek string, opts ...Option) *Vault {
	v := &Vault{
		db:        db,
		key:       aesgcm.DeriveKey(kek),
		lookupEnv: os.Getenv,
		now:       pincerTime.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidBinding reports whether name is an acceptable binding name.
func ValidBinding(name string) bool {
	return bindingPattern.MatchString(name)
}

// Put validates the binding, rejects empty plaintexts, and stores a freshly
// sealed record.
func (v *Vault) Put(ctx context.Context, binding, plaintext, updatedBy string) error {
	if !ValidBinding(binding) {
		return errs.NewMsg(errs.KindInvalidPayload, http.StatusBadRequest, "invalid binding name")
	}
	if plaintext == "" {
		return errs.New(errs.KindInvalidSecretValue, http.StatusBadRequest)
	}
	nonce, ciphertext, err := aesgcm.Seal(v.key, []byte(plaintext))
	if err != nil {
		return errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	rec := &kv.VaultSecretRecord{
		KeyID:      "v1",
		Nonce:      nonce,
		Ciphertext: ciphertext,
		UpdatedAt:  pincerTime.ISO8601(v.now()),
		UpdatedBy:  updatedBy,
	}
	if err := v.db.SaveVaultSecret(ctx, binding, rec); err != nil {
		return errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	return nil
}

// Get returns the stored plaintext for binding. Decrypt failures return an
// empty string rather than an error: callers treat empty as absent.
func (v *Vault) Get(ctx context.Context, binding string) (string, error) {
	rec, err := v.db.VaultSecret(ctx, binding)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", nil
	}
	plaintext, err := aesgcm.Open(v.key, rec.Nonce, rec.Ciphertext)
	if err != nil {
		log.WithField("binding", binding).Warn("Vault record failed to decrypt")
		return "", nil
	}
	return string(plaintext), nil
}

// Resolve returns the vault plaintext for binding when non-empty, otherwise
// the same-named environment binding, otherwise empty.
func (v *Vault) Resolve(ctx context.Context, binding string) (string, error) {
	plaintext, err := v.Get(ctx, binding)
	if err != nil {
		return "", err
	}
	if plaintext != "" {
		return plaintext, nil
	}
	return v.lookupEnv(binding), nil
}

// Delete removes the record for binding.
func (v *Vault) Delete(ctx context.Context, binding string) error {
	if !ValidBinding(binding) {
		return errs.NewMsg(errs.KindInvalidPayload, http.StatusBadRequest, "invalid binding name")
	}
	return v.db.DeleteVaultSecret(ctx, binding)
}

// SecretMetadata describes one binding without exposing its value. Present
// accounts for the environment fallback.
type SecretMetadata struct {
	Binding   string `json:"binding"`
	Present   bool   `json:"present"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// Metadata reports the union of hint names and stored bindings.
func (v *Vault) Metadata(ctx context.Context, hints []string) ([]SecretMetadata, error) {
	stored, err := v.db.VaultBindings(ctx)
	if err != nil {
		return nil, err
	}
	names := map[string]bool{}
	for _, h := range hints {
		if h != "" {
			names[h] = true
		}
	}
	for _, b := range stored {
		names[b] = true
	}
	ordered := make([]string, 0, len(names))
	for n := range names {
		ordered = append(ordered, n)
	}
	sort.Strings(ordered)

	out := make([]SecretMetadata, 0, len(ordered))
	for _, binding := range ordered {
		meta := SecretMetadata{Binding: binding}
		rec, err := v.db.VaultSecret(ctx, binding)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			meta.UpdatedAt = rec.UpdatedAt
			if plaintext, err := v.Get(ctx, binding); err == nil && plaintext != "" {
				meta.Present = true
			}
		}
		if !meta.Present && v.lookupEnv(binding) != "" {
			meta.Present = true
		}
		out = append(out, meta)
	}
	return out, nil
}
