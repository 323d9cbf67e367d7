package kv

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/dhannusch/pincer/config/params"
)

// RuntimeKeyRecord is the singleton runtime credential record. KeyHash is the
// hex SHA-256 of the shared key secret; the two binding names point at the
// vault entries holding the HMAC secret and the key secret plaintexts.
type RuntimeKeyRecord struct {
	ID                string `json:"id"`
	KeyHash           string `json:"keyHash"`
	HmacSecretBinding string `json:"hmacSecretBinding,omitempty"`
	KeySecretBinding  string `json:"keySecretBinding,omitempty"`
	SkewSeconds       int64  `json:"skewSeconds,omitempty"`
	UpdatedAt         string `json:"updatedAt"`
}

// HmacBinding returns the configured HMAC secret binding, falling back to the
// default name when the field is absent. Older record shapes predate the
// explicit binding fields.
func (r *RuntimeKeyRecord) HmacBinding() string {
	if r.HmacSecretBinding != "" {
		return r.HmacSecretBinding
	}
	return params.BoundaryConfig().DefaultHmacSecretBinding
}

// KeyBinding returns the configured key secret binding with default fallback.
func (r *RuntimeKeyRecord) KeyBinding() string {
	if r.KeySecretBinding != "" {
		return r.KeySecretBinding
	}
	return params.BoundaryConfig().DefaultKeySecretBinding
}

// Skew returns the allowed timestamp skew in seconds.
func (r *RuntimeKeyRecord) Skew() int64 {
	if r.SkewSeconds > 0 {
		return r.SkewSeconds
	}
	return params.BoundaryConfig().DefaultSkewSeconds
}

// RuntimeKey retrieves the active runtime key record, or nil when the
// boundary has not been set up yet.
func (s *Store) RuntimeKey(_ context.Context) (*RuntimeKeyRecord, error) {
	var rec *RuntimeKeyRecord
	err := s.view(func(tx *bolt.Tx) error {
		enc := tx.Bucket(runtimeBucket).Get(runtimeKey)
		if len(enc) == 0 {
			return nil
		}
		rec = &RuntimeKeyRecord{}
		return json.Unmarshal(enc, rec)
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not read runtime key record")
	}
	return rec, nil
}

// SaveRuntimeKey persists the runtime key record.
func (s *Store) SaveRuntimeKey(_ context.Context, rec *RuntimeKeyRecord) error {
	enc, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "could not encode runtime key record")
	}
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(runtimeBucket).Put(runtimeKey, enc)
	})
}
