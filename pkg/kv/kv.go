// Package kv wraps go.etcd.io/bbolt as the ordered key-value backend
// the topologies and document projector write through. Buckets stand in
// for column families; a single bolt.Tx backs every atomic write batch
// the op processor issues.
package kv

import (
	"bytes"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/warehouse/pkg/wherr"
)

// Bucket names, one per topology/component that needs its own ordered
// keyspace.
var (
	BucketOrderedOps     = []byte("ordered_date_type_store_batch_id")
	BucketCheckpoints    = []byte("checkpoints_date_store_batch")
	BucketCheckpointMeta = []byte("checkpoint_meta")
	BucketDocumentIndex  = []byte("document_index")
)

var allBuckets = [][]byte{
	BucketOrderedOps,
	BucketCheckpoints,
	BucketCheckpointMeta,
	BucketDocumentIndex,
}

// DB opens the backing bolt.DB and ensures every bucket the engine
// needs exists.
type DB struct {
	bolt *bolt.DB
}

// Open creates (or reuses) dataDir and opens the warehouse.db file
// inside it, creating any missing buckets.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, wherr.IO("create data dir", err)
	}

	dbPath := filepath.Join(dataDir, "warehouse.db")
	b, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, wherr.IO("open database", err)
	}

	err = b.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		b.Close()
		return nil, wherr.IO("create buckets", err)
	}

	return &DB{bolt: b}, nil
}

// Close closes the underlying database file.
func (d *DB) Close() error {
	return d.bolt.Close()
}

// Get reads one value from bucket, returning (nil, nil) when absent.
// The returned slice is a copy and safe to retain past the call.
func (d *DB) Get(bucket, key []byte) ([]byte, error) {
	var out []byte
	err := d.bolt.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get(key)
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

// Put writes one value to bucket in its own transaction.
func (d *DB) Put(bucket, key, value []byte) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, value)
	})
}

// Delete removes one key from bucket in its own transaction. Deleting
// an absent key is a no-op, matching bbolt semantics.
func (d *DB) Delete(bucket, key []byte) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete(key)
	})
}

// KeyValue is one record yielded by Range.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Range scans [from, till) in bucket in ascending key order and returns
// every matching record. A nil till means "to the end of the bucket".
func (d *DB) Range(bucket, from, till []byte) ([]KeyValue, error) {
	var out []KeyValue
	err := d.bolt.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		for k, v := c.Seek(from); k != nil; k, v = c.Next() {
			if till != nil && bytes.Compare(k, till) >= 0 {
				break
			}
			out = append(out, KeyValue{
				Key:   append([]byte(nil), k...),
				Value: append([]byte(nil), v...),
			})
		}
		return nil
	})
	return out, err
}

// Batch is an open write transaction. Callers accumulate Put/Delete
// calls across several buckets and then Commit or Rollback the whole
// set atomically — the mechanism record_ops uses so a normalize, FIFO
// resolve, topology write and checkpoint update either all land or none
// do.
type Batch struct {
	tx *bolt.Tx
}

// NewBatch opens a read-write transaction for the caller to accumulate
// writes into. The caller must Commit or Rollback it.
func (d *DB) NewBatch() (*Batch, error) {
	tx, err := d.bolt.Begin(true)
	if err != nil {
		return nil, wherr.IO("begin batch", err)
	}
	return &Batch{tx: tx}, nil
}

// Put stages a write in the open transaction.
func (b *Batch) Put(bucket, key, value []byte) error {
	return b.tx.Bucket(bucket).Put(key, value)
}

// Delete stages a delete in the open transaction.
func (b *Batch) Delete(bucket, key []byte) error {
	return b.tx.Bucket(bucket).Delete(key)
}

// Get reads the in-flight value of key, including writes staged
// earlier in this same batch.
func (b *Batch) Get(bucket, key []byte) []byte {
	v := b.tx.Bucket(bucket).Get(key)
	if v == nil {
		return nil
	}
	return append([]byte(nil), v...)
}

// Range scans [from, till) within the open transaction, seeing this
// batch's own uncommitted writes.
func (b *Batch) Range(bucket, from, till []byte) []KeyValue {
	var out []KeyValue
	c := b.tx.Bucket(bucket).Cursor()
	for k, v := c.Seek(from); k != nil; k, v = c.Next() {
		if till != nil && bytes.Compare(k, till) >= 0 {
			break
		}
		out = append(out, KeyValue{
			Key:   append([]byte(nil), k...),
			Value: append([]byte(nil), v...),
		})
	}
	return out
}

// Commit persists every staged write atomically.
func (b *Batch) Commit() error {
	if err := b.tx.Commit(); err != nil {
		return wherr.IO("commit batch", err)
	}
	return nil
}

// Rollback discards every staged write.
func (b *Batch) Rollback() error {
	return b.tx.Rollback()
}
