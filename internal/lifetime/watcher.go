// Package lifetime expires entries whose time-to-live has elapsed.
//
// A Watcher keeps a ledger of entry names and lifetimes, persisted to a flat
// file that is rewritten on every change. The ledger file counts against the
// store's capacity. A background loop periodically deletes entries older than
// their lifetime, measured from the file's modification time.
package lifetime

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/meigma/filestore/internal/space"
)

const (
	// LedgerFile is the ledger's file name inside the watcher directory.
	LedgerFile = "storage.data"

	// DefaultInterval is the sweep period.
	DefaultInterval = 500 * time.Millisecond

	tempPattern = LedgerFile + ".tmp-*"
)

// Accountant is the subset of space.Accountant used by the watcher.
type Accountant interface {
	Reserve(n int64) bool
	Release(n int64)
}

// Config configures a Watcher.
type Config struct {
	// Dir holds the ledger file. It is created if missing.
	Dir string
	// Resolve maps an entry name to its data file path.
	Resolve func(name string) string
	// Space accounts for expired files and the ledger itself.
	Space Accountant
	// Locks guards files that are being written. Optional.
	Locks space.Locker
	// Interval is the sweep period. Defaults to DefaultInterval.
	Interval time.Duration
	// Logger defaults to a discarding logger.
	Logger *slog.Logger
	// OnExpire is called after an entry's file is removed. Optional.
	OnExpire func(name string, size int64)
	// Now defaults to time.Now.
	Now func() time.Time
}

// Watcher tracks entry lifetimes. It is safe for concurrent use.
type Watcher struct {
	cfg  Config
	path string

	mu       sync.Mutex
	entries  Ledger
	gens     map[string]uint64 // registration generation per entry
	gen      uint64
	fileSize int64 // size of the ledger file on disk
	dirty    bool  // in-memory ledger differs from disk

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// Open loads the ledger from cfg.Dir, or starts an empty one.
func Open(cfg Config) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("lifetime dir is empty")
	}
	if cfg.Resolve == nil || cfg.Space == nil {
		return nil, errors.New("lifetime resolver and accountant are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create lifetime dir: %w", err)
	}

	// Temp files are leftovers of persists interrupted by a crash.
	temps, err := filepath.Glob(filepath.Join(cfg.Dir, tempPattern))
	if err != nil {
		return nil, err
	}
	for _, tmp := range temps {
		_ = os.Remove(tmp)
	}

	w := &Watcher{
		cfg:     cfg,
		path:    filepath.Join(cfg.Dir, LedgerFile),
		entries: make(Ledger),
		gens:    make(map[string]uint64),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	data, err := os.ReadFile(w.path)
	switch {
	case err == nil:
		var skipped int
		w.entries, skipped = Decode(data)
		w.fileSize = int64(len(data))
		if skipped > 0 {
			cfg.Logger.Warn("lifetime: skipped malformed ledger lines",
				slog.String("path", w.path),
				slog.Int("skipped", skipped))
			w.dirty = true
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return w, nil
}

// Register sets the lifetime of name and persists the ledger. The lifetime
// is rounded up to whole milliseconds, the ledger's resolution. If the
// updated ledger does not fit in free space the registration is rolled back
// and space.ErrNotEnoughSpace is returned.
func (w *Watcher) Register(name string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("lifetime must be positive, got %s", ttl)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	prev, had := w.entries[name]
	prevGen := w.gens[name]
	w.gen++
	w.entries[name] = ceilMillis(ttl)
	w.gens[name] = w.gen
	if err := w.persistLocked(); err != nil {
		if had {
			w.entries[name] = prev
			w.gens[name] = prevGen
		} else {
			delete(w.entries, name)
			delete(w.gens, name)
		}
		return err
	}
	return nil
}

// Forget drops name from the ledger. Unknown names are a no-op.
func (w *Watcher) Forget(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.entries[name]; !ok {
		return nil
	}
	delete(w.entries, name)
	delete(w.gens, name)
	return w.persistLocked()
}

// TTL returns the lifetime registered for name.
func (w *Watcher) TTL(name string) (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ttl, ok := w.entries[name]
	return ttl, ok
}

// Expired reports whether name has a lifetime that has elapsed for a file
// last modified at modTime.
func (w *Watcher) Expired(name string, modTime time.Time) bool {
	ttl, ok := w.TTL(name)
	return ok && w.elapsed(modTime, ttl)
}

// Len returns the number of ledger entries.
func (w *Watcher) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Size returns the size of the persisted ledger file.
func (w *Watcher) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fileSize
}

// Start launches the sweep loop. Calling Start more than once has no effect.
func (w *Watcher) Start() {
	w.startOnce.Do(func() {
		w.mu.Lock()
		w.started = true
		w.mu.Unlock()
		go w.run()
	})
}

// Stop ends the sweep loop, persists the ledger once more, and waits up to
// timeout for the loop to finish.
func (w *Watcher) Stop(timeout time.Duration) error {
	w.stopOnce.Do(func() { close(w.stopCh) })

	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if !started {
		return w.flush()
	}

	select {
	case <-w.doneCh:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("lifetime watcher did not stop within %s", timeout)
	}
}

// Done is closed once a started sweep loop has exited after Stop.
func (w *Watcher) Done() <-chan struct{} {
	return w.doneCh
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.Sweep()
	for {
		select {
		case <-w.stopCh:
			if err := w.flush(); err != nil {
				w.cfg.Logger.Error("lifetime: final ledger persist failed",
					slog.String("path", w.path),
					slog.Any("error", err))
			}
			return
		case <-ticker.C:
			w.Sweep()
		}
	}
}

// Sweep deletes every entry whose lifetime has elapsed and drops ledger
// entries whose file no longer exists. Failures on one entry are logged and
// do not stop the sweep. It returns the number of files expired.
func (w *Watcher) Sweep() int {
	w.mu.Lock()
	snapshot := maps.Clone(w.entries)
	gens := maps.Clone(w.gens)
	w.mu.Unlock()

	var drop []string
	expired := 0
	for name, ttl := range snapshot {
		path := w.cfg.Resolve(name)
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				drop = append(drop, name)
				continue
			}
			w.cfg.Logger.Warn("lifetime: stat failed",
				slog.String("name", name),
				slog.Any("error", err))
			continue
		}
		if !w.elapsed(info.ModTime(), ttl) {
			continue
		}
		ok, err := w.expire(name, path)
		if err != nil {
			w.cfg.Logger.Warn("lifetime: expire failed",
				slog.String("name", name),
				slog.Any("error", err))
			continue
		}
		if ok {
			expired++
			drop = append(drop, name)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, name := range drop {
		// An entry re-registered during the sweep belongs to a new blob.
		if _, ok := w.entries[name]; ok && w.gens[name] == gens[name] {
			delete(w.entries, name)
			delete(w.gens, name)
			w.dirty = true
		}
	}
	if w.dirty {
		if err := w.persistLocked(); err != nil {
			w.cfg.Logger.Warn("lifetime: ledger persist deferred",
				slog.String("path", w.path),
				slog.Any("error", err))
		}
	}
	return expired
}

// expire removes the file for name if it is still expired once its write
// lock is held. Files that are mid-write are left for a later sweep.
func (w *Watcher) expire(name, path string) (bool, error) {
	if w.cfg.Locks != nil {
		unlock, err := w.cfg.Locks.TryLock(path)
		if err != nil {
			return false, nil
		}
		defer unlock()
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil
		}
		return false, err
	}
	if !w.Expired(name, info.ModTime()) {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil
		}
		return false, err
	}
	w.cfg.Space.Release(info.Size())
	w.cfg.Logger.Debug("lifetime: entry expired",
		slog.String("name", name),
		slog.Int64("size", info.Size()))
	if w.cfg.OnExpire != nil {
		w.cfg.OnExpire(name, info.Size())
	}
	return true, nil
}

func (w *Watcher) flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.dirty {
		return nil
	}
	return w.persistLocked()
}

// persistLocked rewrites the ledger file and accounts for the change in its
// size. When the new ledger does not fit, the file is left untouched and the
// in-memory ledger stays authoritative until a later persist succeeds.
func (w *Watcher) persistLocked() error {
	data := Encode(w.entries)
	size := int64(len(data))
	delta := size - w.fileSize
	if delta > 0 && !w.cfg.Space.Reserve(delta) {
		w.dirty = true
		w.cfg.Logger.Warn("lifetime: not enough free space to persist ledger",
			slog.Int64("need", delta))
		return space.ErrNotEnoughSpace
	}
	if err := writeFileAtomic(w.path, data); err != nil {
		if delta > 0 {
			w.cfg.Space.Release(delta)
		}
		w.dirty = true
		return err
	}
	if delta < 0 {
		w.cfg.Space.Release(-delta)
	}
	w.fileSize = size
	w.dirty = false
	return nil
}

func (w *Watcher) elapsed(modTime time.Time, ttl time.Duration) bool {
	return !w.cfg.Now().Before(modTime.Add(ttl))
}

func writeFileAtomic(path string, data []byte) error {
	dir, base := filepath.Split(path)
	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

