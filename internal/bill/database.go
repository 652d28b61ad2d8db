package bill

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	bucketName  = "medbill"
	snapshotKey = "med_bills"
)

// DB stores the bill list as one opaque snapshot
type DB interface {
	// LoadSnapshot returns the stored snapshot, or nil if none was ever saved
	LoadSnapshot() ([]byte, error)

	// SaveSnapshot replaces the stored snapshot
	SaveSnapshot(data []byte) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// LoadSnapshot reads the snapshot slot
func (b *BoltDB) LoadSnapshot() ([]byte, error) {
	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(bucketName)).Get([]byte(snapshotKey))
		if v != nil {
			// v is only valid inside the transaction
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	return data, nil
}

// SaveSnapshot overwrites the snapshot slot in a single transaction
func (b *BoltDB) SaveSnapshot(data []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(snapshotKey), data)
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
