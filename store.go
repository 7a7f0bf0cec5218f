package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	digest "github.com/opencontainers/go-digest"

	"github.com/meigma/filestore/internal/lifetime"
	"github.com/meigma/filestore/internal/platform"
	"github.com/meigma/filestore/internal/sanitize"
	"github.com/meigma/filestore/internal/shard"
	"github.com/meigma/filestore/internal/space"
	"github.com/meigma/filestore/internal/storeerr"
	"github.com/meigma/filestore/internal/writelock"
)

const (
	// DataDir is the subtree of the root that holds blobs.
	DataDir = "data"
	// SystemDir is the subtree of the root that holds the lifetime ledger.
	SystemDir = "system"
)

// State is the lifecycle state of a Store.
type State int

// Lifecycle states.
const (
	StateNotStarted State = iota
	StateStarted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not started"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Entry describes a stored blob.
type Entry struct {
	Key     string
	Size    int64
	ModTime time.Time
	// TTL is the blob's lifetime, or zero if it never expires.
	TTL time.Duration
	// Digest is the sha256 digest of the content. It is only set by Save.
	Digest digest.Digest
}

// Store is a capacity-bounded blob store rooted at a local directory.
// It is safe for concurrent use.
type Store struct {
	root    string
	dataDir string
	sysDir  string

	shardDepth    int
	shardFanout   int
	sweepInterval time.Duration
	stopTimeout   time.Duration
	chunkSize     int
	dirPerm       os.FileMode
	filePerm      os.FileMode
	logger        *slog.Logger

	sharder *shard.Sharder
	space   *space.Accountant
	locks   writelock.Table
	metrics *storeMetrics

	// layoutMu is held shared while creating blobs and exclusively while
	// removing empty shard directories.
	layoutMu sync.RWMutex

	mu      sync.RWMutex // guards state, watcher and stale
	state   State
	watcher *lifetime.Watcher
	// stale is a watcher whose sweep loop outlived the stop timeout.
	stale *lifetime.Watcher

	opMu sync.Mutex
	ops  int           // mutating operations in flight
	idle chan struct{} // closed when ops drops to zero
}

// New creates a store rooted at root with the given capacity in bytes. The
// root directory is created if it does not exist. The store must be started
// before use.
func New(root string, capacity int64, opts ...Option) (*Store, error) {
	const op = "new"
	if root == "" {
		return nil, storeerr.New(op, "", storeerr.KindInvalidArgument, errors.New("root is empty"))
	}
	s := &Store{
		root:          root,
		dataDir:       filepath.Join(root, DataDir),
		sysDir:        filepath.Join(root, SystemDir),
		shardDepth:    shard.DefaultDepth,
		shardFanout:   shard.DefaultFanout,
		sweepInterval: lifetime.DefaultInterval,
		stopTimeout:   defaultStopTimeout,
		chunkSize:     defaultChunkSize,
		dirPerm:       defaultDirPerm,
		filePerm:      defaultFilePerm,
		logger:        slog.New(slog.DiscardHandler),
		metrics:       newStoreMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.chunkSize <= 0 {
		return nil, storeerr.New(op, "", storeerr.KindInvalidArgument, errors.New("chunk size must be > 0"))
	}
	if s.sweepInterval <= 0 || s.stopTimeout <= 0 {
		return nil, storeerr.New(op, "", storeerr.KindInvalidArgument, errors.New("intervals must be > 0"))
	}

	var err error
	if s.space, err = space.NewAccountant(capacity); err != nil {
		return nil, storeerr.New(op, "", storeerr.KindInvalidArgument, err)
	}
	if s.sharder, err = shard.New(s.shardDepth, s.shardFanout); err != nil {
		return nil, storeerr.New(op, "", storeerr.KindInvalidArgument, err)
	}
	if err := os.MkdirAll(root, s.dirPerm); err != nil {
		return nil, storeerr.New(op, "", storeerr.KindUnableToCreateStorage, err)
	}
	return s, nil
}

// Root returns the storage root directory.
func (s *Store) Root() string {
	return s.root
}

// Capacity returns the configured capacity in bytes.
func (s *Store) Capacity() int64 {
	return s.space.Capacity()
}

// State returns the current lifecycle state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Start creates the data and system directories, seeds used space from disk
// and starts the background lifetime sweep. Starting a started store is a
// no-op; a stopped store may be started again. A restart first waits, until
// ctx is done, for saves, deletes and purges begun before Stop to finish.
func (s *Store) Start(ctx context.Context) error {
	const op = "start"
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStarted {
		return nil
	}
	if err := s.drain(ctx); err != nil {
		return storeerr.New(op, "", storeerr.KindStartFailure, err)
	}
	if err := os.MkdirAll(s.dataDir, s.dirPerm); err != nil {
		return storeerr.New(op, "", storeerr.KindStartFailure, err)
	}
	w, err := lifetime.Open(lifetime.Config{
		Dir:      s.sysDir,
		Resolve:  s.blobPath,
		Space:    s.space,
		Locks:    &s.locks,
		Interval: s.sweepInterval,
		Logger:   s.logger,
		OnExpire: s.onExpire,
	})
	if err != nil {
		return storeerr.New(op, "", storeerr.KindStartFailure, err)
	}
	used, err := s.space.Evaluate(ctx, s.dataDir, s.sysDir)
	if err != nil {
		return storeerr.New(op, "", storeerr.KindStartFailure, err)
	}
	w.Start()
	s.watcher = w
	s.state = StateStarted

	s.logger.Info("filestore: started",
		slog.String("root", s.root),
		slog.Int64("capacity", s.space.Capacity()),
		slog.Int64("used", used),
		slog.Int("ttl_entries", w.Len()))
	return nil
}

// Stop halts the lifetime sweep and waits, up to the stop timeout, for it to
// persist its ledger. In-flight operations are not interrupted. Stopping a
// store that is not started is a no-op.
func (s *Store) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStarted {
		return nil
	}
	w := s.watcher
	s.watcher = nil
	s.state = StateStopped

	if err := w.Stop(s.stopTimeout); err != nil {
		s.stale = w
		return storeerr.New("stop", "", storeerr.KindIO, err)
	}
	s.logger.Info("filestore: stopped", slog.String("root", s.root))
	return nil
}

// Read opens the blob stored under key. Reads never wait for writers and
// any number of readers may hold the same blob open.
func (s *Store) Read(key string) (io.ReadCloser, error) {
	const op = "read"
	w, err := s.active(op, key)
	if err != nil {
		return nil, err
	}
	name, err := entryName(op, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(s.blobPath(name))
	if err != nil {
		return nil, statError(op, key, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, storeerr.New(op, key, storeerr.KindIO, err)
	}
	if w.Expired(name, info.ModTime()) {
		f.Close()
		return nil, storeerr.New(op, key, storeerr.KindNotFound, errors.New("expired"))
	}
	return f, nil
}

// Stat returns metadata for the blob stored under key.
func (s *Store) Stat(key string) (Entry, error) {
	const op = "stat"
	w, err := s.active(op, key)
	if err != nil {
		return Entry{}, err
	}
	name, err := entryName(op, key)
	if err != nil {
		return Entry{}, err
	}
	info, err := os.Stat(s.blobPath(name))
	if err != nil {
		return Entry{}, statError(op, key, err)
	}
	if w.Expired(name, info.ModTime()) {
		return Entry{}, storeerr.New(op, key, storeerr.KindNotFound, errors.New("expired"))
	}
	ttl, _ := w.TTL(name)
	return Entry{Key: key, Size: info.Size(), ModTime: info.ModTime(), TTL: ttl}, nil
}

// Verify re-hashes the blob stored under key and compares it with want.
func (s *Store) Verify(key string, want digest.Digest) error {
	const op = "verify"
	if err := want.Validate(); err != nil {
		return storeerr.New(op, key, storeerr.KindInvalidArgument, err)
	}
	rc, err := s.Read(key)
	if err != nil {
		return err
	}
	defer rc.Close()

	verifier := want.Verifier()
	if _, err := io.Copy(verifier, rc); err != nil {
		return storeerr.New(op, key, storeerr.KindIO, err)
	}
	if !verifier.Verified() {
		return storeerr.New(op, key, storeerr.KindStorageCorrupted, errors.New("digest mismatch"))
	}
	return nil
}

// Delete removes the blob stored under key and drops its lifetime. Deleting
// a key that is not stored is a no-op.
func (s *Store) Delete(key string) error {
	const op = "delete"
	w, err := s.begin(op, key)
	if err != nil {
		return err
	}
	defer s.end()
	name, err := entryName(op, key)
	if err != nil {
		return err
	}
	path := s.blobPath(name)

	unlock, err := s.locks.TryLock(path)
	if err != nil {
		return storeerr.New(op, key, storeerr.KindMaybeInUse, err)
	}
	defer unlock()

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.forget(w, name)
		return nil
	case err != nil:
		return statError(op, key, err)
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if platform.FileInUse(err) {
			return storeerr.New(op, key, storeerr.KindMaybeInUse, err)
		}
		return storeerr.New(op, key, storeerr.KindIO, err)
	}
	s.space.Release(info.Size())
	s.forget(w, name)
	s.metrics.deletes.Inc()

	s.logger.Debug("filestore: deleted",
		slog.String("key", key),
		slog.Int64("size", info.Size()))
	return nil
}

// FreeSpace returns the number of bytes that can still be written.
func (s *Store) FreeSpace() (int64, error) {
	if _, err := s.active("free space", ""); err != nil {
		return 0, err
	}
	return s.space.Free(), nil
}

// FreeSpaceFraction returns free space as a fraction of capacity in [0, 1].
func (s *Store) FreeSpaceFraction() (float64, error) {
	if _, err := s.active("free space", ""); err != nil {
		return 0, err
	}
	return float64(s.space.Free()) / float64(s.space.Capacity()), nil
}

// UsedSpace returns the number of accounted bytes, including the ledger.
func (s *Store) UsedSpace() (int64, error) {
	if _, err := s.active("used space", ""); err != nil {
		return 0, err
	}
	return s.space.Used(), nil
}

// SystemSize returns the on-disk size of the system subtree.
func (s *Store) SystemSize() (int64, error) {
	const op = "system size"
	if _, err := s.active(op, ""); err != nil {
		return 0, err
	}
	size, err := space.DirSize(s.sysDir)
	if err != nil {
		return 0, storeerr.New(op, "", storeerr.KindIO, err)
	}
	return size, nil
}

// Purge evicts the oldest blobs until fraction of the capacity is free.
// It returns the number of bytes freed.
func (s *Store) Purge(fraction float64) (int64, error) {
	const op = "purge"
	if _, err := s.begin(op, ""); err != nil {
		return 0, err
	}
	defer s.end()
	if math.IsNaN(fraction) || fraction < 0 || fraction > 1 {
		return 0, storeerr.New(op, "", storeerr.KindInvalidFraction, nil)
	}
	return s.purge(op, int64(float64(s.space.Capacity())*fraction))
}

// PurgeBytes evicts the oldest blobs until target bytes are free.
// It returns the number of bytes freed.
func (s *Store) PurgeBytes(target int64) (int64, error) {
	const op = "purge"
	if _, err := s.begin(op, ""); err != nil {
		return 0, err
	}
	defer s.end()
	if target < 0 {
		return 0, storeerr.New(op, "", storeerr.KindInvalidArgument, errors.New("target must be >= 0"))
	}
	return s.purge(op, target)
}

func (s *Store) purge(op string, target int64) (int64, error) {
	freed, err := s.space.Purge(s.dataDir, target, &s.locks)
	s.metrics.purgedBytes.Add(float64(freed))
	if freed > 0 {
		if _, derr := s.deleteEmptyDirs(); derr != nil {
			s.logger.Warn("filestore: pruning empty directories failed", slog.Any("error", derr))
		}
	}
	s.logger.Info("filestore: purged",
		slog.Int64("target_free", target),
		slog.Int64("freed", freed),
		slog.Int64("free", s.space.Free()))
	if err != nil {
		return freed, storeerr.New(op, "", storeerr.KindIO, err)
	}
	return freed, nil
}

// DeleteEmptyDirectories removes shard directories that no longer hold any
// blobs. It returns the number of directories removed.
func (s *Store) DeleteEmptyDirectories() (int, error) {
	const op = "delete empty directories"
	if _, err := s.begin(op, ""); err != nil {
		return 0, err
	}
	defer s.end()
	n, err := s.deleteEmptyDirs()
	if err != nil {
		return n, storeerr.New(op, "", storeerr.KindIO, err)
	}
	return n, nil
}

func (s *Store) deleteEmptyDirs() (int, error) {
	s.layoutMu.Lock()
	defer s.layoutMu.Unlock()
	return space.DeleteEmptyDirs(s.dataDir)
}

// active returns the running watcher, or ErrNotStarted.
func (s *Store) active(op, key string) (*lifetime.Watcher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateStarted {
		return nil, storeerr.New(op, key, storeerr.KindNotStarted, nil)
	}
	return s.watcher, nil
}

// begin is active for operations that change used space. Each successful
// call must be paired with end.
func (s *Store) begin(op, key string) (*lifetime.Watcher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateStarted {
		return nil, storeerr.New(op, key, storeerr.KindNotStarted, nil)
	}
	s.opMu.Lock()
	s.ops++
	s.opMu.Unlock()
	return s.watcher, nil
}

func (s *Store) end() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.ops--
	if s.ops == 0 && s.idle != nil {
		close(s.idle)
		s.idle = nil
	}
}

// drain waits for in-flight operations and for a stale sweep loop, so that
// re-seeding used space cannot race their accounting. Called with mu held.
func (s *Store) drain(ctx context.Context) error {
	s.opMu.Lock()
	var idle chan struct{}
	if s.ops > 0 {
		if s.idle == nil {
			s.idle = make(chan struct{})
		}
		idle = s.idle
	}
	s.opMu.Unlock()

	if idle != nil {
		select {
		case <-idle:
		case <-ctx.Done():
			return fmt.Errorf("waiting for in-flight operations: %w", ctx.Err())
		}
	}
	if s.stale != nil {
		select {
		case <-s.stale.Done():
			s.stale = nil
		case <-ctx.Done():
			return fmt.Errorf("waiting for the previous lifetime sweep: %w", ctx.Err())
		}
	}
	return nil
}

func (s *Store) blobPath(name string) string {
	return s.sharder.Path(s.dataDir, name)
}

func (s *Store) forget(w *lifetime.Watcher, name string) {
	if err := w.Forget(name); err != nil {
		s.logger.Warn("filestore: dropping lifetime failed",
			slog.String("name", name),
			slog.Any("error", err))
	}
}

func (s *Store) onExpire(name string, size int64) {
	s.metrics.expired.Inc()
	s.logger.Debug("filestore: expired",
		slog.String("key", sanitize.Key(name)),
		slog.Int64("size", size))
}

func entryName(op, key string) (string, error) {
	name := sanitize.Name(key)
	if name == "" {
		return "", storeerr.New(op, key, storeerr.KindInvalidArgument, errors.New("key is empty"))
	}
	return name, nil
}

func statError(op, key string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return storeerr.New(op, key, storeerr.KindNotFound, err)
	}
	if platform.NameTooLong(err) {
		return storeerr.New(op, key, storeerr.KindInvalidArgument, err)
	}
	return storeerr.New(op, key, storeerr.KindIO, err)
}
