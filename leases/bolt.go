package leases

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// BoltBucket is the bucket holding lease records. Keys are upper-case
// hardware addresses, values are JSON-encoded RawRecords.
var BoltBucket = []byte("leases")

// boltOpenTimeout bounds how long a lookup waits for a writer to release
// the database file.
const boltOpenTimeout = time.Second

// BoltStore reads leases from a bolt database.
//
// The file is opened read-only for each lookup and closed straight after,
// so the tool that manages the table can take the write lock between
// requests.
type BoltStore struct {
	path string
}

var _ Store = &BoltStore{}

// OpenBolt checks that path is a bolt database with a leases bucket and
// returns a store reading from it.
func OpenBolt(path string) (*BoltStore, error) {
	_, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open lease database %s", path)
	}

	store := &BoltStore{path: path}
	err = store.view(func(bucket *bolt.Bucket) error {
		return nil
	})
	if err != nil {
		return nil, err
	}

	return store, nil
}

// Lookup implements Store.
func (store *BoltStore) Lookup(ctx context.Context, hardwareAddress string) (RawRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return RawRecord{}, false, err
	}

	var record RawRecord
	var found bool
	err := store.view(func(bucket *bolt.Bucket) error {
		value := bucket.Get([]byte(hardwareAddress))
		if value == nil {
			return nil
		}
		found = true

		return json.Unmarshal(value, &record)
	})
	if err != nil {
		return RawRecord{}, false, err
	}

	return record, found, nil
}

// Close implements Store. The database is only open during lookups.
func (store *BoltStore) Close() error {
	return nil
}

func (store *BoltStore) view(fn func(bucket *bolt.Bucket) error) error {
	db, err := bolt.Open(store.path, 0o600, &bolt.Options{
		ReadOnly: true,
		Timeout:  boltOpenTimeout,
	})
	if err != nil {
		return errors.Wrapf(err, "cannot open lease database %s", store.path)
	}
	defer db.Close()

	return db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BoltBucket)
		if bucket == nil {
			return errors.Errorf("lease database %s has no %q bucket", store.path, BoltBucket)
		}

		return fn(bucket)
	})
}
