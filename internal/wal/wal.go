// Package wal wraps the single append-only log file casky keeps on disk: a
// thin layer over *os.File that knows how to append an already-encoded
// record (optionally fsyncing it), and how to rewind and scan the file
// record-by-record for recovery. It does not itself know the
// record format — that lives in internal/record — so this package stays a
// pure file-handling concern, same as the teacher WAL it is descended from.
package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/thesp0nge/casky/internal/record"
)

// ErrInvalidPath is returned by Open for an empty path or one whose parent
// directory does not exist.
var ErrInvalidPath = errors.New("wal: invalid path")

// Log is an append-only file with a rewind-and-scan reader.
type Log struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// Open opens path for append+read, creating it if it does not already
// exist. An empty path, or a path whose parent directory is missing, is
// reported as ErrInvalidPath; any other filesystem failure is wrapped and
// returned as-is.
func Open(path string) (*Log, error) {
	if path == "" {
		return nil, ErrInvalidPath
	}
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrInvalidPath
		}
		return nil, fmt.Errorf("wal: stat %s: %w", dir, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	return &Log{file: f, path: path}, nil
}

// Append writes encoded to the end of the log, retrying partial writes
// until every byte is persisted or a terminal error occurs, then flushes
// it to the OS and — when sync is true — fsyncs it to durable storage.
//
// Appends from concurrent goroutines are serialised by Log's own mutex, so
// the byte stream reflects the order in which Append calls returned
// successfully regardless of which goroutine called them.
func (l *Log) Append(encoded []byte, sync bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(encoded, sync)
}

// AppendBatch writes multiple already-encoded records as a single write
// syscall, which both reduces syscall overhead and gives the whole batch
// the same durability guarantee as one record — useful for multi-record
// operations that should not be observably split by a crash.
func (l *Log) AppendBatch(encoded []byte, sync bool) error {
	return l.Append(encoded, sync)
}

func (l *Log) appendLocked(data []byte, sync bool) error {
	if _, err := l.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("wal: seek to end: %w", err)
	}

	for len(data) > 0 {
		n, err := l.file.Write(data)
		if err != nil {
			return fmt.Errorf("wal: write: %w", err)
		}
		data = data[n:]
	}

	if sync {
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("wal: fsync: %w", err)
		}
	}
	return nil
}

// Scanner yields decoded records from a log, in file order, stopping at the
// first clean EOF or the first terminal decode error (truncation or a bad
// checksum).
type Scanner struct {
	r            *bufio.Reader
	maxFieldSize int
}

// Next returns the next record, or io.EOF at a clean end of stream, or
// record.ErrTruncated / record.ErrBadCRC if the tail is damaged, or
// record.ErrFieldTooLarge if a declared key or value length exceeds the
// scanner's field size ceiling.
func (s *Scanner) Next() (record.Record, error) {
	return record.DecodeLimit(s.r, s.maxFieldSize)
}

// ScanFromStart rewinds the log and returns a Scanner over it, in file
// order, starting from the first byte, using record.DefaultMaxFieldSize as
// the per-field size ceiling.
func (l *Log) ScanFromStart() (*Scanner, error) {
	return l.ScanFromStartLimit(record.DefaultMaxFieldSize)
}

// ScanFromStartLimit is ScanFromStart with an explicit per-field size
// ceiling, so a caller that opened with a non-default WithMaxFieldSize can
// have recovery enforce the same ceiling it uses for writes.
func (l *Log) ScanFromStartLimit(maxFieldSize int) (*Scanner, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("wal: seek to start: %w", err)
	}
	return &Scanner{r: bufio.NewReader(l.file), maxFieldSize: maxFieldSize}, nil
}

// Truncate cuts the log down to n bytes and leaves the file offset at the
// new end. Clear uses it to empty the file; recovery does not call it, so a
// damaged tail stays on disk until the next Compact.
func (l *Log) Truncate(n int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Truncate(n); err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}
	_, err := l.file.Seek(0, io.SeekEnd)
	return err
}

// Clear empties the log file. Compaction does not use it: it writes a
// temporary file and replaces the log with it.
func (l *Log) Clear() error {
	return l.Truncate(0)
}

// Sync flushes the log to durable storage without appending anything.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Sync()
}

// Size returns the current length of the log file in bytes.
func (l *Log) Size() (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, err := l.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Path returns the filesystem path the log was opened from.
func (l *Log) Path() string {
	return l.path
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return fmt.Errorf("wal: sync on close: %w", err)
	}
	return l.file.Close()
}
