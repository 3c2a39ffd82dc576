package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveNamesFileByTimestamp(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir(), 10)
	require.NoError(t, err)

	ts := time.UnixMilli(1700000000123)
	path, err := store.Save([]byte("jpeg"), ts)
	require.NoError(t, err)
	assert.Equal(t, "event_1700000000123.jpg", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)
}

func TestSaveRejectsEmptyFrame(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir(), 10)
	require.NoError(t, err)

	_, err = store.Save(nil, time.Now())
	assert.Error(t, err)
}

func TestSaveSameMillisecondBumpsName(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir(), 10)
	require.NoError(t, err)

	ts := time.UnixMilli(1700000000000)
	first, err := store.Save([]byte("a"), ts)
	require.NoError(t, err)
	second, err := store.Save([]byte("b"), ts)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, "event_1700000000001.jpg", filepath.Base(second))
}

func TestSaveEvictsOldestAtCap(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewStore(dir, 3)
	require.NoError(t, err)

	base := time.UnixMilli(1700000000000)
	for i := 0; i < 3; i++ {
		_, err := store.Save([]byte("x"), base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}
	count, err := store.Count()
	require.NoError(t, err)
	require.Equal(t, 3, count)

	// A fourth save evicts exactly the oldest file and leaves the count at
	// the cap.
	_, err = store.Save([]byte("x"), base.Add(3*time.Second))
	require.NoError(t, err)

	count, err = store.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	_, err = os.Stat(filepath.Join(dir, "event_1700000000000.jpg"))
	assert.True(t, os.IsNotExist(err), "oldest snapshot should be evicted")
	_, err = os.Stat(filepath.Join(dir, "event_1700000001000.jpg"))
	assert.NoError(t, err)
}

func TestCountIgnoresForeignFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewStore(dir, 10)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "event_abc.jpg"), []byte("x"), 0o644))

	_, err = store.Save([]byte("x"), time.Now())
	require.NoError(t, err)

	count, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestOverflowingNameNeverShieldsRealSnapshots(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewStore(dir, 2)
	require.NoError(t, err)

	// Regex-valid but beyond int64: a foreign file the store never wrote. It
	// must not count toward the cap or survive at real snapshots' expense.
	foreign := "event_99999999999999999999.jpg"
	require.NoError(t, os.WriteFile(filepath.Join(dir, foreign), []byte("x"), 0o644))

	base := time.UnixMilli(1700000000000)
	for i := 0; i < 3; i++ {
		_, err := store.Save([]byte("x"), base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	count, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = os.Stat(filepath.Join(dir, "event_1700000000000.jpg"))
	assert.True(t, os.IsNotExist(err), "real oldest snapshot is the eviction candidate")
	_, err = os.Stat(filepath.Join(dir, "event_1700000002000.jpg"))
	assert.NoError(t, err)
}

func TestResolveValidatesNames(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewStore(dir, 10)
	require.NoError(t, err)

	path, err := store.Resolve("event_1700000000123.jpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "event_1700000000123.jpg"), path)

	for _, name := range []string{
		"../etc/passwd",
		"event_1/../../etc/passwd.jpg",
		"event_.jpg",
		"event_123.png",
		"snapshot.jpg",
		"",
	} {
		_, err := store.Resolve(name)
		assert.Error(t, err, "name %q must be rejected", name)
	}
}
