package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const bucketObjects = "objects"

// BoltStore keeps objects in a single bbolt database file. bbolt holds an
// exclusive file lock while the database is open, so a second process opening
// the same file waits for Timeout and then fails.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database at dbPath.
func NewBoltStore(dbPath string, timeout time.Duration) (*BoltStore, error) {
	path, err := ExpandHome(dbPath)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = time.Second
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: timeout})
	if errors.Is(err, bolt.ErrTimeout) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketObjects)); err != nil {
			return fmt.Errorf("creating objects bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close releases the database and its file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Get reads the object stored under key.
func (s *BoltStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketObjects)).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		// v is only valid for the life of the transaction
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Put stores data under key in a single transaction, which commits or rolls
// back as a whole.
func (s *BoltStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(bucketObjects)).Put([]byte(key), data); err != nil {
			return fmt.Errorf("storing %s: %w", key, err)
		}
		return nil
	})
}
