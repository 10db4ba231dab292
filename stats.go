package casky

import "sync/atomic"

// Stats is a read-only snapshot of engine activity counters.
type Stats struct {
	NumPuts     int64
	NumGets     int64
	NumDeletes  int64
	TotalKeys   int
	MemoryBytes int64
}

// counters holds the independent atomic values Stats is built from, so a
// snapshot never has to take the engine lock and therefore never blocks a
// concurrent mutation.
type counters struct {
	puts        atomic.Int64
	gets        atomic.Int64
	deletes     atomic.Int64
	totalKeys   atomic.Int64
	memoryBytes atomic.Int64
}
