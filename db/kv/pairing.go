package kv

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// PairingRecord is a one-time credential bundle exchanged for a pairing code.
// ExpiresAtMs stands in for the reference KV's native TTL: expired records
// are treated as absent and removed on read.
type PairingRecord struct {
	WorkerURL   string `json:"workerUrl"`
	RuntimeKey  string `json:"runtimeKey"`
	HmacSecret  string `json:"hmacSecret"`
	ExpiresAtMs int64  `json:"expiresAtMs"`
}

// ErrCorruptPairingRecord marks a stored pairing value that fails to decode.
// The record is deleted before this error is returned.
var ErrCorruptPairingRecord = errors.New("corrupt pairing record")

// SavePairing stores a pairing record under its uppercased code.
func (s *Store) SavePairing(_ context.Context, code string, rec *PairingRecord) error {
	enc, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "could not encode pairing record")
	}
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(pairingBucket).Put([]byte(code), enc)
	})
}

// ConsumePairing deletes and returns the record for code in one transaction,
// so a code is consumable at most once even under concurrent connect calls.
// Returns nil when the code is unknown or expired.
func (s *Store) ConsumePairing(_ context.Context, code string, nowMs int64) (*PairingRecord, error) {
	var rec *PairingRecord
	var corrupt bool
	err := s.update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(pairingBucket)
		key := []byte(code)
		enc := bkt.Get(key)
		if len(enc) == 0 {
			return nil
		}
		if err := bkt.Delete(key); err != nil {
			return err
		}
		decoded := &PairingRecord{}
		if err := json.Unmarshal(enc, decoded); err != nil {
			corrupt = true
			return nil
		}
		if decoded.ExpiresAtMs > 0 && decoded.ExpiresAtMs <= nowMs {
			return nil
		}
		rec = decoded
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not consume pairing code")
	}
	if corrupt {
		return nil, ErrCorruptPairingRecord
	}
	return rec, nil
}
