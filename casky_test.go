package casky

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempLogPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "t.log")
}

func TestBasicRoundTrip(t *testing.T) {
	db, err := Open(tempLogPath(t))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("foo"), []byte("bar"), 0))

	got, ok := db.Get([]byte("foo"))
	require.True(t, ok)
	assert.Equal(t, []byte("bar"), got)

	require.NoError(t, db.Delete([]byte("foo")))

	_, ok = db.Get([]byte("foo"))
	assert.False(t, ok)
}

func TestCrashRecoveryReplaysAllPuts(t *testing.T) {
	path := tempLogPath(t)
	db, err := Open(path)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		key := []byte("key" + itoa(i))
		val := []byte("val" + itoa(i))
		require.NoError(t, db.Put(key, val, 0))
	}
	require.NoError(t, db.Close())

	db2, err := Open(path)
	require.NoError(t, err)
	defer db2.Close()

	for i := 0; i < 100; i++ {
		key := []byte("key" + itoa(i))
		want := []byte("val" + itoa(i))
		got, ok := db2.Get(key)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 100, db2.Stats().TotalKeys)
}

func TestTombstoneWinsAcrossReopen(t *testing.T) {
	path := tempLogPath(t)
	db, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, db.Put([]byte("k"), []byte("v1"), 0))
	require.NoError(t, db.Put([]byte("k"), []byte("v2"), 0))
	require.NoError(t, db.Delete([]byte("k")))
	require.NoError(t, db.Close())

	db2, err := Open(path)
	require.NoError(t, err)
	defer db2.Close()

	_, ok := db2.Get([]byte("k"))
	assert.False(t, ok)
}

func TestCorruptedPrefixStopsRecoveryAndReportsCorrupt(t *testing.T) {
	path := tempLogPath(t)
	db, err := Open(path)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, db.Put([]byte("key"+itoa(i)), []byte("val"+itoa(i)), 0))
	}
	require.NoError(t, db.Close())

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	first := make([]byte, 1)
	_, err = f.ReadAt(first, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{first[0] ^ 0xff}, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	db2, err := Open(path)
	require.Error(t, err)
	var caskyErr *Error
	require.True(t, errors.As(err, &caskyErr))
	assert.Equal(t, Corrupt, caskyErr.Kind)
	require.NotNil(t, db2)
	defer db2.Close()

	_, ok := db2.Get([]byte("key1"))
	assert.False(t, ok)
}

func TestCompactionReclaimsSpaceAndPreservesLiveState(t *testing.T) {
	path := tempLogPath(t)
	db, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, db.Put([]byte("a"), []byte("1"), 0))
	require.NoError(t, db.Put([]byte("b"), []byte("2"), 0))
	require.NoError(t, db.Put([]byte("a"), []byte("3"), 0))
	require.NoError(t, db.Delete([]byte("b")))

	sizeBefore, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, db.Compact())

	sizeAfter, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, sizeAfter.Size(), sizeBefore.Size())

	require.NoError(t, db.Close())

	db2, err := Open(path)
	require.NoError(t, err)
	defer db2.Close()

	got, ok := db2.Get([]byte("a"))
	require.True(t, ok)
	assert.Equal(t, []byte("3"), got)

	_, ok = db2.Get([]byte("b"))
	assert.False(t, ok)
}

func TestCompactionSkipsExpiredEntries(t *testing.T) {
	path := tempLogPath(t)
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("temp"), []byte("x"), time.Millisecond))
	time.Sleep(1100 * time.Millisecond)

	require.NoError(t, db.Compact())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())

	_, ok := db.Get([]byte("temp"))
	assert.False(t, ok)
}

func TestTTLExpiryOnGet(t *testing.T) {
	db, err := Open(tempLogPath(t))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("temp"), []byte("x"), 1*time.Second))

	got, ok := db.Get([]byte("temp"))
	require.True(t, ok)
	assert.Equal(t, []byte("x"), got)

	time.Sleep(1100 * time.Millisecond)

	_, ok = db.Get([]byte("temp"))
	assert.False(t, ok)
	assert.Equal(t, 0, db.Stats().TotalKeys)
}

func TestExpireSweepDoesNotTouchLog(t *testing.T) {
	path := tempLogPath(t)
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("temp"), []byte("x"), time.Millisecond))
	time.Sleep(1100 * time.Millisecond)

	sizeBefore, err := os.Stat(path)
	require.NoError(t, err)

	removed := db.Expire()
	assert.Equal(t, 1, removed)

	sizeAfter, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, sizeBefore.Size(), sizeAfter.Size())
}

func TestDeleteMissingKeyReturnsKeyNotFound(t *testing.T) {
	db, err := Open(tempLogPath(t))
	require.NoError(t, err)
	defer db.Close()

	err = db.Delete([]byte("nope"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestPutRejectsEmptyKey(t *testing.T) {
	db, err := Open(tempLogPath(t))
	require.NoError(t, err)
	defer db.Close()

	err = db.Put(nil, []byte("v"), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestCloseIsIdempotent(t *testing.T) {
	db, err := Open(tempLogPath(t))
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
}

func TestSecondPutInProgramOrderWins(t *testing.T) {
	db, err := Open(tempLogPath(t))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("k"), []byte("first"), 0))
	require.NoError(t, db.Put([]byte("k"), []byte("second"), 0))

	got, ok := db.Get([]byte("k"))
	require.True(t, ok)
	assert.Equal(t, []byte("second"), got)
}

func TestConcurrentDisjointKeyspaceStress(t *testing.T) {
	db, err := Open(tempLogPath(t))
	require.NoError(t, err)
	defer db.Close()

	const numClients = 16
	const opsPerClient = 50

	var wg sync.WaitGroup
	wg.Add(numClients)
	for c := 0; c < numClients; c++ {
		c := c
		go func() {
			defer wg.Done()
			for i := 0; i < opsPerClient; i++ {
				key := []byte("client" + itoa(c) + "-" + itoa(i))
				val := []byte("v" + itoa(i))
				require.NoError(t, db.Put(key, val, 0))
				got, ok := db.Get(key)
				require.True(t, ok)
				require.Equal(t, val, got)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, numClients*opsPerClient, db.Stats().TotalKeys)
}

func TestConcurrentGetOnExpiringKeyDoesNotRace(t *testing.T) {
	db, err := Open(tempLogPath(t))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("temp"), []byte("x"), time.Millisecond))
	time.Sleep(1100 * time.Millisecond)

	const numReaders = 16
	var wg sync.WaitGroup
	wg.Add(numReaders)
	for i := 0; i < numReaders; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, ok := db.Get([]byte("temp"))
				assert.False(t, ok)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, db.Stats().TotalKeys)
}

func TestSingleThreadedModeDisablesLocking(t *testing.T) {
	db, err := Open(tempLogPath(t), WithThreadSafe(false))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("k"), []byte("v"), 0))
	got, ok := db.Get([]byte("k"))
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPath)
}

// itoa avoids pulling in strconv purely for test fixture key names.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
