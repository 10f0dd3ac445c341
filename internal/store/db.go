package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	bucketRecords     = []byte("records")
	bucketMembership  = []byte("membership")
	bucketPreferences = []byte("preferences")
)

// DB is the durable backing for the local caches. A DB opened without a
// directory keeps nothing on disk and every write is a no-op.
type DB struct {
	db     *bolt.DB
	logger *slog.Logger
}

// Open opens (or creates) the cache database under baseDir. Each backend gets
// its own file so progress from different servers never mixes.
func Open(baseDir, serverURL string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if baseDir == "" {
		// Memory-only mode (no persistence)
		return &DB{logger: logger}, nil
	}

	dir := baseDir
	if serverURL != "" {
		dir = filepath.Join(baseDir, hashServerURL(serverURL))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dir, "feedplay.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketRecords, bucketMembership, bucketPreferences} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db: db, logger: logger}, nil
}

func hashServerURL(serverURL string) string {
	normalized := strings.TrimRight(strings.ToLower(serverURL), "/")
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:6])
}

// Persistent reports whether writes reach disk
func (d *DB) Persistent() bool {
	return d.db != nil
}

func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// === Generic helpers ===

// forEach visits every entry of bucket. Values are only valid inside fn.
func (d *DB) forEach(bucket []byte, fn func(key string, value []byte)) error {
	if d.db == nil {
		return nil
	}
	return d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("bucket %s missing", bucket)
		}
		return b.ForEach(func(k, v []byte) error {
			fn(string(k), v)
			return nil
		})
	})
}

func (d *DB) put(bucket []byte, key string, value []byte) error {
	return d.apply(bucket, map[string][]byte{key: value}, nil)
}

// apply writes puts and removes deletes in a single transaction
func (d *DB) apply(bucket []byte, puts map[string][]byte, deletes []string) error {
	if d.db == nil {
		return nil
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucket)
		if err != nil {
			return err
		}
		for _, key := range deletes {
			if err := b.Delete([]byte(key)); err != nil {
				return err
			}
		}
		for key, value := range puts {
			if err := b.Put([]byte(key), value); err != nil {
				return err
			}
		}
		return nil
	})
}
