package kv

import (
	bolt "go.etcd.io/bbolt"
)

// SchemaVersion is stamped under meta:version when the store is opened and
// surfaced as configVersion on the health endpoint.
const SchemaVersion = "1"

func (s *Store) ensureVersion() error {
	return s.update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(metaBucket)
		if len(bkt.Get(versionKey)) != 0 {
			return nil
		}
		return bkt.Put(versionKey, []byte(SchemaVersion))
	})
}

// Version returns the stored schema version.
func (s *Store) Version() (string, error) {
	var v string
	err := s.view(func(tx *bolt.Tx) error {
		v = string(tx.Bucket(metaBucket).Get(versionKey))
		return nil
	})
	return v, err
}
