// Package casky implements an embeddable, crash-safe key-value store built
// on a single append-only log file and an in-memory key directory, in the
// style of Bitcask. A host application opens a DB, performs Put/Get/Delete
// against it, and optionally runs Compact to reclaim space occupied by
// overwritten or deleted keys.
package casky

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	natomic "github.com/natefinch/atomic"

	"github.com/thesp0nge/casky/internal/keydir"
	"github.com/thesp0nge/casky/internal/record"
	"github.com/thesp0nge/casky/internal/wal"
)

// DB is an open casky engine: a log file, the in-memory directory built
// from it, and the policy options chosen at Open time.
type DB struct {
	cfg config

	mu        sync.RWMutex
	log       *wal.Log
	dir       *keydir.Directory
	counters  counters
	corrupted bool
	closed    bool
	path      string
}

// Open opens the log at path, creating it if absent, runs recovery, and
// returns a ready-to-use DB. If recovery halted on a damaged record, Open
// still returns a valid, usable *DB alongside a non-nil error wrapping
// ErrCorrupt — callers may choose to proceed and schedule a Compact.
func Open(path string, opts ...Option) (*DB, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if path == "" {
		return nil, newError("Open", InvalidPath, nil)
	}

	l, err := wal.Open(path)
	if err != nil {
		if errors.Is(err, wal.ErrInvalidPath) {
			return nil, newError("Open", InvalidPath, err)
		}
		return nil, newError("Open", Io, err)
	}

	db := &DB{
		cfg:  cfg,
		log:  l,
		dir:  keydir.New(),
		path: path,
	}

	recoverErr := db.recover()
	db.syncKeyCount()
	if recoverErr != nil {
		return db, recoverErr
	}
	return db, nil
}

// recover replays the log into the directory from the start. It is called
// once, from Open, before the DB is visible to any other goroutine, so it
// does not need to take db.mu.
func (db *DB) recover() error {
	scanner, err := db.log.ScanFromStartLimit(db.cfg.maxFieldSize)
	if err != nil {
		return newError("Open", Io, err)
	}

	for {
		rec, err := scanner.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, record.ErrTruncated) || errors.Is(err, record.ErrBadCRC) || errors.Is(err, record.ErrFieldTooLarge) {
			db.corrupted = true
			return newError("Open", Corrupt, err)
		}
		if err != nil {
			return newError("Open", Io, err)
		}

		if rec.Tombstone() {
			db.dir.Delete(rec.Key)
			continue
		}
		db.dir.Put(rec.Key, rec.Value, rec.Timestamp, rec.ExpiresAt)
	}
}

// syncKeyCount resets the totalKeys and memoryBytes counters from the
// directory's live entries. Called once after recovery, when no other
// goroutine can yet observe db.
func (db *DB) syncKeyCount() {
	db.counters.totalKeys.Store(int64(db.dir.NumEntries()))
	var liveBytes int64
	db.dir.Each(func(e *keydir.Entry) {
		liveBytes += int64(len(e.Key) + len(e.Value))
	})
	db.counters.memoryBytes.Store(liveBytes)
}

// Close flushes and closes the log and releases the directory. It is
// idempotent: a second call returns nil without touching anything.
func (db *DB) Close() error {
	if db == nil {
		return newError("Close", InvalidPointer, nil)
	}
	db.lockWrite()
	defer db.unlockWrite()

	if db.closed {
		return nil
	}
	db.closed = true
	db.dir = nil

	if err := db.log.Close(); err != nil {
		return newError("Close", Io, err)
	}
	return nil
}

func (db *DB) lockWrite() {
	if db.cfg.threadSafe {
		db.mu.Lock()
	}
}

func (db *DB) unlockWrite() {
	if db.cfg.threadSafe {
		db.mu.Unlock()
	}
}

func (db *DB) lockRead() {
	if db.cfg.threadSafe {
		db.mu.RLock()
	}
}

func (db *DB) unlockRead() {
	if db.cfg.threadSafe {
		db.mu.RUnlock()
	}
}

func (db *DB) checkOpen(op string) error {
	if db == nil || db.closed {
		return newError(op, InvalidPointer, nil)
	}
	return nil
}

// Put stores value under key. If ttl is greater than zero, the entry
// expires ttl after the time of this call; a zero or negative ttl means
// the entry never expires.
//
// The directory is updated before the record is appended to the log. If
// the log append fails, the in-memory change is not rolled back: the
// engine may be ahead of disk until it is closed and reopened, and the
// returned error wraps ErrIO to signal exactly that.
func (db *DB) Put(key, value []byte, ttl time.Duration) error {
	if db == nil {
		return newError("Put", InvalidPointer, nil)
	}
	db.lockWrite()
	defer db.unlockWrite()

	if err := db.checkOpen("Put"); err != nil {
		return err
	}
	if len(key) == 0 {
		return newError("Put", InvalidKey, nil)
	}
	if value == nil {
		return newError("Put", InvalidKey, fmt.Errorf("value must not be nil"))
	}
	if len(key) > db.cfg.maxFieldSize || len(value) > db.cfg.maxFieldSize {
		return newError("Put", Memory, nil)
	}

	timestamp := uint64(time.Now().Unix())
	var expiresAt uint64
	if ttl > 0 {
		expiresAt = uint64(time.Now().Add(ttl).Unix())
	}

	var oldValueLen int
	existing, existed := db.dir.Peek(key)
	if existed {
		oldValueLen = len(existing.Value)
	}
	db.dir.Put(key, value, timestamp, expiresAt)

	encoded := record.Encode(timestamp, expiresAt, key, value)
	if err := db.log.Append(encoded, db.cfg.syncOnWrite); err != nil {
		return newError("Put", Io, err)
	}

	db.counters.puts.Add(1)
	if existed {
		db.counters.memoryBytes.Add(int64(len(value) - oldValueLen))
	} else {
		db.counters.memoryBytes.Add(int64(len(key) + len(value)))
		db.counters.totalKeys.Add(1)
	}
	return nil
}

// Get returns an owned copy of the value stored under key, evaluated
// against the current time for expiry. It never touches the log.
//
// A live hit is served entirely under the engine's shared lock: PeekLive
// never mutates the directory, so concurrent readers never contend on
// bucket-chain bookkeeping. Only when the key is absent or has expired does
// Get promote to the exclusive lock to perform the actual removal and
// counter adjustment — readers do not share with other readers for that
// mutation-adjacent step.
func (db *DB) Get(key []byte) ([]byte, bool) {
	if db == nil {
		return nil, false
	}
	now := uint64(time.Now().Unix())

	db.lockRead()
	if db.closed {
		db.unlockRead()
		return nil, false
	}
	if entry, ok := db.dir.PeekLive(key, now); ok {
		val := append([]byte(nil), entry.Value...)
		db.unlockRead()
		db.counters.gets.Add(1)
		return val, true
	}
	db.unlockRead()

	db.lockWrite()
	defer db.unlockWrite()
	if db.closed {
		return nil, false
	}
	if freed, removed := db.dir.RemoveExpired(key, now); removed {
		db.counters.totalKeys.Add(-1)
		db.counters.memoryBytes.Add(-freed)
	}
	db.counters.gets.Add(1)
	return nil, false
}

// Delete removes key from the directory and appends a tombstone record to
// the log. If the key was not present, it returns an error wrapping
// ErrKeyNotFound and writes nothing. As with Put, a log append failure
// after the in-memory removal is not rolled back.
func (db *DB) Delete(key []byte) error {
	if db == nil {
		return newError("Delete", InvalidPointer, nil)
	}
	db.lockWrite()
	defer db.unlockWrite()

	if err := db.checkOpen("Delete"); err != nil {
		return err
	}
	if len(key) == 0 {
		return newError("Delete", InvalidKey, nil)
	}

	entry, ok := db.dir.Peek(key)
	if !ok {
		return newError("Delete", KeyNotFound, nil)
	}
	removedBytes := int64(len(entry.Key) + len(entry.Value))
	db.dir.Delete(key)

	timestamp := uint64(time.Now().Unix())
	encoded := record.Encode(timestamp, 0, key, nil)
	if err := db.log.Append(encoded, db.cfg.syncOnWrite); err != nil {
		return newError("Delete", Io, err)
	}

	db.counters.deletes.Add(1)
	db.counters.memoryBytes.Add(-removedBytes)
	db.counters.totalKeys.Add(-1)
	return nil
}

// Expire sweeps every bucket and removes entries whose expiry has passed,
// without touching the log: the underlying records remain until the next
// Compact. It returns the number of entries removed.
func (db *DB) Expire() int {
	if db == nil {
		return 0
	}
	db.lockWrite()
	defer db.unlockWrite()

	if db.closed {
		return 0
	}
	removed, freedBytes := db.dir.ExpireSweep(uint64(time.Now().Unix()))
	if removed > 0 {
		db.counters.totalKeys.Add(-int64(removed))
		db.counters.memoryBytes.Add(-freedBytes)
	}
	return removed
}

// Stats returns a snapshot of activity counters. It reads independent
// atomic values and does not take the engine's read lock, so it never
// blocks on a concurrent mutation.
func (db *DB) Stats() Stats {
	return Stats{
		NumPuts:     db.counters.puts.Load(),
		NumGets:     db.counters.gets.Load(),
		NumDeletes:  db.counters.deletes.Load(),
		TotalKeys:   int(db.counters.totalKeys.Load()),
		MemoryBytes: db.counters.memoryBytes.Load(),
	}
}

// Compact rewrites the log from the live directory into a temporary file,
// then atomically replaces the live log with it. It holds the engine lock
// for its entire duration: readers and writers block until it finishes.
//
// If any step before the rename fails, the temporary file is removed, the
// live log is left untouched, and Compact returns an error wrapping
// ErrIO; the engine remains usable either way.
func (db *DB) Compact() error {
	if db == nil {
		return newError("Compact", InvalidPointer, nil)
	}
	db.lockWrite()
	defer db.unlockWrite()

	if err := db.checkOpen("Compact"); err != nil {
		return err
	}

	dir := filepath.Dir(db.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(db.path)+".tmp-*")
	if err != nil {
		return newError("Compact", Io, err)
	}
	tmpPath := tmp.Name()
	removeTmp := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	now := uint64(time.Now().Unix())
	var buf []byte
	db.dir.Each(func(e *keydir.Entry) {
		if e.ExpiresAt != 0 && e.ExpiresAt <= now {
			return
		}
		buf = record.AppendEncoded(buf, e.Timestamp, e.ExpiresAt, e.Key, e.Value)
	})

	if len(buf) > 0 {
		if _, err := tmp.Write(buf); err != nil {
			removeTmp()
			return newError("Compact", Io, err)
		}
	}
	if db.cfg.syncOnWrite {
		if err := tmp.Sync(); err != nil {
			removeTmp()
			return newError("Compact", Io, err)
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return newError("Compact", Io, err)
	}

	if err := natomic.ReplaceFile(tmpPath, db.path); err != nil {
		os.Remove(tmpPath)
		return newError("Compact", Io, err)
	}

	if err := db.log.Close(); err != nil {
		return newError("Compact", Io, err)
	}
	newLog, err := wal.Open(db.path)
	if err != nil {
		return newError("Compact", Io, err)
	}
	db.log = newLog
	db.corrupted = false
	return nil
}
