package kv

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// VaultSecretRecord is one encrypted vault entry. Nonce and Ciphertext are
// raw bytes (base64 in the stored JSON); KeyID names the sealing scheme so a
// future key rotation can coexist with v1 records.
type VaultSecretRecord struct {
	KeyID      string `json:"keyId"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	UpdatedAt  string `json:"updatedAt"`
	UpdatedBy  string `json:"updatedBy,omitempty"`
}

// VaultSecret retrieves the encrypted record for a binding, or nil when
// absent.
func (s *Store) VaultSecret(_ context.Context, binding string) (*VaultSecretRecord, error) {
	var rec *VaultSecretRecord
	err := s.view(func(tx *bolt.Tx) error {
		enc := tx.Bucket(vaultBucket).Get([]byte(binding))
		if len(enc) == 0 {
			return nil
		}
		rec = &VaultSecretRecord{}
		return json.Unmarshal(enc, rec)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "could not read vault record %s", binding)
	}
	return rec, nil
}

// SaveVaultSecret persists an encrypted vault record under its binding name.
func (s *Store) SaveVaultSecret(_ context.Context, binding string, rec *VaultSecretRecord) error {
	enc, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "could not encode vault record")
	}
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(vaultBucket).Put([]byte(binding), enc)
	})
}

// DeleteVaultSecret removes the record for a binding. Deleting an absent
// binding is a no-op.
func (s *Store) DeleteVaultSecret(_ context.Context, binding string) error {
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(vaultBucket).Delete([]byte(binding))
	})
}

// VaultBindings lists every stored binding name in sorted order.
func (s *Store) VaultBindings(_ context.Context) ([]string, error) {
	var bindings []string
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(vaultBucket).ForEach(func(k, _ []byte) error {
			bindings = append(bindings, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(bindings)
	return bindings, nil
}
