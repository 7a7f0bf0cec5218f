package space

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/filestore/internal/writelock"
)

func TestNewAccountantInvalid(t *testing.T) {
	t.Parallel()

	_, err := NewAccountant(0)
	require.Error(t, err)
	_, err = NewAccountant(-5)
	require.Error(t, err)
}

func TestReserveRelease(t *testing.T) {
	t.Parallel()

	a, err := NewAccountant(100)
	require.NoError(t, err)

	assert.True(t, a.Reserve(60))
	assert.False(t, a.Reserve(41))
	assert.Equal(t, int64(60), a.Used())
	assert.True(t, a.Reserve(40))
	assert.Equal(t, int64(0), a.Free())

	a.Release(30)
	assert.Equal(t, int64(70), a.Used())
	assert.Equal(t, int64(30), a.Free())

	a.Release(1000)
	assert.Equal(t, int64(0), a.Used(), "counter clamps at zero")
	assert.True(t, a.Reserve(0))
}

func TestReserveConcurrentNeverExceedsCapacity(t *testing.T) {
	t.Parallel()

	a, err := NewAccountant(1000)
	require.NoError(t, err)

	var g errgroup.Group
	var mu sync.Mutex
	granted := 0
	for range 64 {
		g.Go(func() error {
			for range 100 {
				if a.Reserve(7) {
					mu.Lock()
					granted++
					mu.Unlock()
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(granted*7), a.Used())
	assert.LessOrEqual(t, a.Used(), a.Capacity())
	assert.Equal(t, 1000/7, granted)
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	data := filepath.Join(root, "data")
	system := filepath.Join(root, "system")
	writeFile(t, filepath.Join(data, "a", "b", "one"), 10, time.Now())
	writeFile(t, filepath.Join(data, "a", "two"), 20, time.Now())
	writeFile(t, filepath.Join(system, "ledger"), 5, time.Now())

	a, err := NewAccountant(1 << 20)
	require.NoError(t, err)
	a.Reserve(999)

	total, err := a.Evaluate(context.Background(), data, system, filepath.Join(root, "missing"))
	require.NoError(t, err)
	assert.Equal(t, int64(35), total)
	assert.Equal(t, int64(35), a.Used())
}

func TestPurgeOldestFirst(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	// Paths are in reverse age order so lexical order cannot mask the sort.
	oldest := filepath.Join(dir, "z", "oldest")
	middle := filepath.Join(dir, "y", "middle")
	newest := filepath.Join(dir, "x", "newest")
	writeFile(t, oldest, 100, base)
	writeFile(t, middle, 100, base.Add(time.Minute))
	writeFile(t, newest, 100, base.Add(2*time.Minute))

	a, err := NewAccountant(400)
	require.NoError(t, err)
	_, err = a.Evaluate(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, int64(100), a.Free())

	freed, err := a.Purge(dir, 250, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(200), freed)
	assert.Equal(t, int64(300), a.Free())
	assert.NoFileExists(t, oldest)
	assert.NoFileExists(t, middle)
	assert.FileExists(t, newest)
}

func TestPurgeTieBreakByPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ts := time.Now().Add(-time.Hour)
	writeFile(t, filepath.Join(dir, "b"), 10, ts)
	writeFile(t, filepath.Join(dir, "a"), 10, ts)
	writeFile(t, filepath.Join(dir, "c"), 10, ts)

	a, err := NewAccountant(30)
	require.NoError(t, err)
	_, err = a.Evaluate(context.Background(), dir)
	require.NoError(t, err)

	_, err = a.Purge(dir, 10, nil)
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "a"))
	assert.FileExists(t, filepath.Join(dir, "b"))
	assert.FileExists(t, filepath.Join(dir, "c"))
}

func TestPurgeNoopWhenEnoughFree(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "keep"), 10, time.Now())

	a, err := NewAccountant(100)
	require.NoError(t, err)
	_, err = a.Evaluate(context.Background(), dir)
	require.NoError(t, err)

	freed, err := a.Purge(dir, 90, nil)
	require.NoError(t, err)
	assert.Zero(t, freed)
	assert.FileExists(t, filepath.Join(dir, "keep"))
}

func TestPurgeExhaustsCandidates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "one"), 10, time.Now())

	a, err := NewAccountant(100)
	require.NoError(t, err)
	_, err = a.Evaluate(context.Background(), dir)
	require.NoError(t, err)
	a.Reserve(50) // bytes that live outside dir

	freed, err := a.Purge(dir, 100, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(10), freed)
	assert.Equal(t, int64(50), a.Free())
}

func TestPurgeSkipsLocked(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	old := filepath.Join(dir, "old")
	young := filepath.Join(dir, "young")
	writeFile(t, old, 10, time.Now().Add(-time.Hour))
	writeFile(t, young, 10, time.Now())

	a, err := NewAccountant(20)
	require.NoError(t, err)
	_, err = a.Evaluate(context.Background(), dir)
	require.NoError(t, err)

	var locks writelock.Table
	unlock, err := locks.TryLock(old)
	require.NoError(t, err)
	defer unlock()

	freed, err := a.Purge(dir, 10, &locks)
	require.NoError(t, err)
	assert.Equal(t, int64(10), freed)
	assert.FileExists(t, old)
	assert.NoFileExists(t, young)
}

func TestWalkMissingRootAndEarlyStop(t *testing.T) {
	t.Parallel()

	for _, err := range Walk(filepath.Join(t.TempDir(), "nope")) {
		t.Fatalf("unexpected element, err = %v", err)
	}

	dir := t.TempDir()
	for _, name := range []string{"a", "b", "c"} {
		writeFile(t, filepath.Join(dir, name), 1, time.Now())
	}
	var seen []string
	for e, err := range Walk(dir) {
		require.NoError(t, err)
		seen = append(seen, filepath.Base(e.Path))
		if len(seen) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, seen)

	size, err := DirSize(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)
}

func TestDeleteEmptyDirs(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "e1", "e2", "e3"), 0o700))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "e4"), 0o700))
	kept := filepath.Join(root, "full", "deep", "file")
	writeFile(t, kept, 1, time.Now())
	require.NoError(t, os.MkdirAll(filepath.Join(root, "full", "empty"), 0o700))

	removed, err := DeleteEmptyDirs(root)
	require.NoError(t, err)
	assert.Equal(t, 5, removed)
	assert.DirExists(t, root)
	assert.FileExists(t, kept)
	assert.NoDirExists(t, filepath.Join(root, "e1"))
	assert.NoDirExists(t, filepath.Join(root, "e4"))
	assert.NoDirExists(t, filepath.Join(root, "full", "empty"))
	assert.DirExists(t, filepath.Join(root, "full", "deep"))
}

func writeFile(t *testing.T, path string, size int, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o600))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}
