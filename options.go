package casky

import "github.com/thesp0nge/casky/internal/record"

// config collects the options a constructor call assembles into.
type config struct {
	threadSafe   bool
	syncOnWrite  bool
	maxFieldSize int
}

func defaultConfig() config {
	return config{
		threadSafe:   true,
		syncOnWrite:  false,
		maxFieldSize: record.DefaultMaxFieldSize,
	}
}

// Option configures a DB at Open time. This is the Go-idiomatic stand-in
// for the original design's build-time single-threaded-vs-thread-safe
// macro: a runtime constructor argument instead of a compile-time flag, so
// a host process can open more than one DB with different policies.
type Option func(*config)

// WithThreadSafe controls whether DB serialises its public operations with
// an internal sync.RWMutex. Default true. Setting it false removes all
// internal synchronisation; callers then own serialising every access
// themselves, including across goroutines.
func WithThreadSafe(enabled bool) Option {
	return func(c *config) { c.threadSafe = enabled }
}

// WithSyncOnWrite controls whether every Put/Delete fsyncs the log before
// acknowledging. Default false (flushed to the OS but not fsynced).
func WithSyncOnWrite(enabled bool) Option {
	return func(c *config) { c.syncOnWrite = enabled }
}

// WithMaxFieldSize overrides the sanity ceiling applied to a single key or
// value: Put rejects input larger than it directly, and Open's
// recovery scan uses it as the declared-length ceiling when decoding each
// record, so a stored field larger than this halts recovery with a Corrupt
// error instead of being decoded. Compact never decodes — it rewrites
// directly from the in-memory directory — so this ceiling does not apply to
// it. Default record.DefaultMaxFieldSize (64 MiB).
func WithMaxFieldSize(n int) Option {
	return func(c *config) { c.maxFieldSize = n }
}
