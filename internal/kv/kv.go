// Package kv provides a thin typed ordered key-value adapter over an
// embedded storage engine. It models "column families" as independent,
// lexicographically ordered keyspaces within one on-disk store, per
// spec.md §4.1.
package kv

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// Direction controls the iteration order of IterateFrom.
type Direction int

const (
	// Forward iterates in ascending key order.
	Forward Direction = iota
	// Reverse iterates in descending key order.
	Reverse
)

var (
	// ErrNotFound is returned by Get when the key has no value.
	ErrNotFound = errors.New("kv: key not found")
	// ErrKeyExists is returned by CheckAndPut when the key already has a value.
	ErrKeyExists = errors.New("kv: key already exists")
	// ErrColumnFamilyNotOpen is returned when an operation references a
	// column family that was not opened. This always indicates a bug in
	// the caller (spec.md §7's InvalidColumnFamily).
	ErrColumnFamilyNotOpen = errors.New("kv: column family not open")
)

// Options surfaces the tuning knobs named in spec.md §4.1. bbolt is a
// single-file, mmap-backed store, so MaxOpenFiles has no effect beyond
// interface parity with a multi-file engine; CacheSize maps to the
// initial mmap size hint.
type Options struct {
	MaxOpenFiles int
	CacheSize    int64

	// Recorder, if set, observes every Get/Put/CheckAndPut/IterateFrom
	// call made against the opened Store.
	Recorder Recorder
}

// Recorder observes ordered KV store operations, so a caller (the
// metrics subsystem) can track per-operation counts, latency, and
// errors without the kv package importing it.
type Recorder interface {
	RecordKVOperation(operation string, duration time.Duration, err error)
}

// sentinelFiles are written alongside the data file so that boot-time
// directory scanning (spec.md §4.6 step 3, §6.2) can recognize a
// directory as a database without opening it.
var sentinelFiles = []string{"IDENTITY", "CURRENT"}

const dataFileName = "protolith.db"

// Store is an ordered key-value store rooted at one directory, with one
// or more independently namespaced column families.
type Store struct {
	path string
	db   *bbolt.DB

	mu  sync.RWMutex
	cfs map[string]struct{}

	recorder Recorder
}

// Open opens (creating if necessary) a Store rooted at path, with the
// given initial set of column families auto-created if missing.
func Open(path string, columnFamilies []string, opts Options) (*Store, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(filepath.Join(path, dataFileName), 0o644, &bbolt.Options{
		InitialMmapSize: int(opts.CacheSize),
	})
	if err != nil {
		return nil, err
	}

	s := &Store{path: path, db: db, cfs: make(map[string]struct{}), recorder: opts.Recorder}

	if err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, cf := range columnFamilies {
			if _, err := tx.CreateBucketIfNotExists([]byte(cf)); err != nil {
				return err
			}
			s.cfs[cf] = struct{}{}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	for _, name := range sentinelFiles {
		f, err := os.OpenFile(filepath.Join(path, name), os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		_ = f.Close()
	}

	return s, nil
}

// IsDatabaseDir reports whether dir contains the engine sentinel files,
// per spec.md §6.2.
func IsDatabaseDir(dir string) bool {
	for _, name := range sentinelFiles {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}

// ListColumnFamilies lists the column families already present on disk at
// path, without opening any new ones.
func ListColumnFamilies(path string) ([]string, error) {
	db, err := bbolt.Open(filepath.Join(path, dataFileName), 0o644, &bbolt.Options{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var names []string
	err = db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	return names, err
}

// EnsureColumnFamilies opens (auto-creating) any column families in the
// given set that are not already open.
func (s *Store) EnsureColumnFamilies(columnFamilies []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, cf := range columnFamilies {
			if _, ok := s.cfs[cf]; ok {
				continue
			}
			if _, err := tx.CreateBucketIfNotExists([]byte(cf)); err != nil {
				return err
			}
			s.cfs[cf] = struct{}{}
		}
		return nil
	})
}

func (s *Store) hasCF(cf string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.cfs[cf]
	return ok
}

// record reports op's duration and outcome to the Store's Recorder, if
// one was configured.
func (s *Store) record(op string, start time.Time, err error) {
	if s.recorder == nil {
		return
	}
	s.recorder.RecordKVOperation(op, time.Since(start), err)
}

// Get reads the latest value put at key in column family cf.
func (s *Store) Get(cf string, key []byte) (value []byte, err error) {
	start := time.Now()
	defer func() { s.record("get", start, err) }()

	if !s.hasCF(cf) {
		return nil, ErrColumnFamilyNotOpen
	}

	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(cf))
		if b == nil {
			return ErrColumnFamilyNotOpen
		}
		v := b.Get(key)
		if v == nil {
			return ErrNotFound
		}
		value = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Put writes value at key in column family cf, overwriting any prior value.
func (s *Store) Put(cf string, key, value []byte) (err error) {
	start := time.Now()
	defer func() { s.record("put", start, err) }()

	if !s.hasCF(cf) {
		return ErrColumnFamilyNotOpen
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(cf))
		if b == nil {
			return ErrColumnFamilyNotOpen
		}
		return b.Put(key, value)
	})
}

// CheckAndPut writes value at key in column family cf iff no value is
// already present, atomically. It returns ErrKeyExists otherwise. This is
// the primitive behind spec.md §4.4's Insert uniqueness invariant and the
// linearizability guarantee of spec.md §5.
func (s *Store) CheckAndPut(cf string, key, value []byte) (err error) {
	start := time.Now()
	defer func() { s.record("check_and_put", start, err) }()

	if !s.hasCF(cf) {
		return ErrColumnFamilyNotOpen
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(cf))
		if b == nil {
			return ErrColumnFamilyNotOpen
		}
		if b.Get(key) != nil {
			return ErrKeyExists
		}
		return b.Put(key, value)
	})
}

// KV is one key/value pair yielded by IterateFrom.
type KV struct {
	Key   []byte
	Value []byte
}

// IterateFrom yields an ordered snapshot of (key, value) pairs in column
// family cf, starting at seek (inclusive if present, else the next key in
// iteration order) and walking in direction dir until the end of the
// keyspace. The returned slice is a point-in-time snapshot per spec.md §5
// ("List is a snapshot of the iteration starting point").
func (s *Store) IterateFrom(cf string, seek []byte, dir Direction) (out []KV, err error) {
	start := time.Now()
	defer func() { s.record("iterate", start, err) }()

	if !s.hasCF(cf) {
		return nil, ErrColumnFamilyNotOpen
	}

	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(cf))
		if b == nil {
			return ErrColumnFamilyNotOpen
		}
		c := b.Cursor()

		if dir == Forward {
			var k, v []byte
			if len(seek) == 0 {
				k, v = c.First()
			} else {
				k, v = c.Seek(seek)
			}
			for ; k != nil; k, v = c.Next() {
				out = append(out, KV{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)})
			}
			return nil
		}

		// Reverse: position at seek (or the last key when seek is empty),
		// then walk backwards. Cursor.Seek lands on the first key >= seek,
		// which is one past where a reverse walk should start when seek
		// itself isn't present; step back once in that case.
		var k, v []byte
		if len(seek) == 0 {
			k, v = c.Last()
		} else {
			k, v = c.Seek(seek)
			if k == nil {
				k, v = c.Last()
			} else if string(k) != string(seek) {
				k, v = c.Prev()
			}
		}
		for ; k != nil; k, v = c.Prev() {
			out = append(out, KV{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Destroy closes the store's file handle and removes the on-disk state
// rooted at its path, per spec.md §4.1 / §4.5's destroy_db.
func (s *Store) Destroy() error {
	if err := s.Close(); err != nil {
		return err
	}
	return os.RemoveAll(s.path)
}

// Close releases the store's file handle without removing on-disk state.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the directory the store is rooted at.
func (s *Store) Path() string {
	return s.path
}
