// Package defaultsdb persists the cache's sticky default-assets allowlist
// (§6 "Default-assets loader") in a small embedded bbolt database, so the
// allowlist a cachedefaultassets run builds survives a process restart
// until deletedefaultassets explicitly clears it.
//
// Grounded on this module's earlier store/metadb/bolt.go: the same
// Open/Close/bucket-per-concern shape and functional-option construction,
// narrowed from a multi-bucket protocol-metadata/envelope store down to
// the one bucket this allowlist needs.
package defaultsdb

import (
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

var bucketDefaultAssets = []byte("default_assets")

// DB persists the default-assets allowlist across restarts.
type DB struct {
	db     *bbolt.DB
	logger *slog.Logger
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the DB's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *DB) { d.logger = logger }
}

// Open opens (creating if necessary) the bbolt database at path.
func Open(path string, opts ...Option) (*DB, error) {
	d := &DB{logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}

	bdb, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening defaultsdb: %w", err)
	}
	d.db = bdb

	if err := d.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDefaultAssets)
		return err
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("creating default_assets bucket: %w", err)
	}

	return d, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Add marks every id in ids as a sticky default asset, exempt from cleanup
// until Clear is called.
func (d *DB) Add(ids []string) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketDefaultAssets)
		for _, id := range ids {
			if err := bucket.Put([]byte(id), []byte{1}); err != nil {
				return fmt.Errorf("adding default asset %s: %w", id, err)
			}
		}
		return nil
	})
}

// Has reports whether id is currently in the default-assets allowlist.
func (d *DB) Has(id string) bool {
	var found bool
	_ = d.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketDefaultAssets)
		found = bucket.Get([]byte(id)) != nil
		return nil
	})
	return found
}

// All returns every ID currently in the allowlist.
func (d *DB) All() ([]string, error) {
	var ids []string
	err := d.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketDefaultAssets)
		return bucket.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing default assets: %w", err)
	}
	return ids, nil
}

// Clear empties the allowlist; the deletedefaultassets control-surface
// verb's implementation.
func (d *DB) Clear() error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketDefaultAssets); err != nil {
			return fmt.Errorf("dropping default_assets bucket: %w", err)
		}
		_, err := tx.CreateBucket(bucketDefaultAssets)
		return err
	})
}

// Count returns the number of entries currently in the allowlist.
func (d *DB) Count() int {
	var n int
	_ = d.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketDefaultAssets).Stats().KeyN
		return nil
	})
	return n
}
