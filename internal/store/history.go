// Package store keeps a local history of payload uploads in a BoltDB file, so a developer
// can check afterwards which build a board actually received.
package store

import (
	"BootBridge/internal/model"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var uploadsBucket = []byte("uploads")

// History is a bounded, append-only log of upload records.
type History struct {
	db    *bbolt.DB
	limit int
}

// OpenHistory opens or creates the database at path. limit caps the number of records
// kept; 0 keeps everything.
func OpenHistory(path string, limit int) (*History, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("[history] failed to create %s: %w", dir, err)
		}
	}
	db, err := bbolt.Open(path, 0o666, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("[history] failed to open BoltDB: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(uploadsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("[history] failed to create bucket: %w", err)
	}
	return &History{db: db, limit: limit}, nil
}

// Record appends rec and drops the oldest records beyond the limit.
func (h *History) Record(rec model.UploadRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return h.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(uploadsBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put(key(seq), value); err != nil {
			return err
		}
		if h.limit <= 0 {
			return nil
		}
		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys[:max(len(keys)-h.limit, 0)] {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns up to n records, newest first. n <= 0 returns all of them.
func (h *History) List(n int) ([]model.UploadRecord, error) {
	var out []model.UploadRecord
	err := h.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(uploadsBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if n > 0 && len(out) == n {
				break
			}
			var rec model.UploadRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("[history] corrupt record %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}

func key(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
