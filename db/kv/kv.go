// Package kv implements the boundary's single persistent namespace on top of
// BoltDB. Every key family from the persisted layout owns one bucket; records
// are stored as JSON blobs. Bolt transactions give per-batch atomicity, which
// is stronger than the per-key linearizability the registry's write order is
// designed for, but the write order is kept anyway so the invariants do not
// depend on it.
package kv

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var log = logrus.WithField("prefix", "db")

const databaseFileName = "pincer.db"

// Store is the bolt-backed implementation of the boundary database.
type Store struct {
	db           *bolt.DB
	databasePath string
}

// NewKVStore initializes the key-value store at the directory path specified,
// creates the buckets for each key family, and stamps the schema version.
func NewKVStore(dirPath string) (*Store, error) {
	if err := os.MkdirAll(dirPath, 0700); err != nil {
		return nil, err
	}
	datafile := filepath.Join(dirPath, databaseFileName)
	boltDB, err := bolt.Open(datafile, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, errors.New("cannot obtain database lock, database may be in use by another process")
		}
		return nil, err
	}
	kv := &Store{db: boltDB, databasePath: datafile}
	if err := kv.db.Update(func(tx *bolt.Tx) error {
		return createBuckets(
			tx,
			metaBucket,
			runtimeBucket,
			vaultBucket,
			registryBucket,
			proposalsBucket,
			manifestsBucket,
			auditBucket,
			pairingBucket,
			adminUsersBucket,
			sessionsBucket,
			loginStateBucket,
		)
	}); err != nil {
		return nil, err
	}
	if err := kv.ensureVersion(); err != nil {
		return nil, err
	}
	return kv, nil
}

func createBuckets(tx *bolt.Tx, buckets ...[]byte) error {
	for _, bucket := range buckets {
		if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying bolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DatabasePath at which this database writes files.
func (s *Store) DatabasePath() string {
	return s.databasePath
}

// ClearDB removes any previously stored data at the configured data directory.
func (s *Store) ClearDB() error {
	if _, err := os.Stat(s.databasePath); os.IsNotExist(err) {
		return nil
	}
	log.WithField("path", s.databasePath).Info("Removing database")
	return os.Remove(s.databasePath)
}

func (s *Store) update(fn func(*bolt.Tx) error) error {
	return s.db.Update(fn)
}

func (s *Store) view(fn func(*bolt.Tx) error) error {
	return s.db.View(fn)
}
