// Package space tracks how many bytes a store root consumes against a fixed
// capacity and reclaims space by evicting the oldest files.
package space

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrNotEnoughSpace is returned when a reservation does not fit.
var ErrNotEnoughSpace = errors.New("not enough free space")

// Locker guards a file against concurrent removal while it is being written.
type Locker interface {
	TryLock(path string) (unlock func(), err error)
}

// Accountant owns the used-bytes counter of a store.
// It is safe for concurrent use.
type Accountant struct {
	capacity int64
	used     atomic.Int64
	purgeMu  sync.Mutex // serializes purges
}

// NewAccountant returns an Accountant with the given capacity in bytes.
func NewAccountant(capacity int64) (*Accountant, error) {
	if capacity <= 0 {
		return nil, errors.New("capacity must be > 0")
	}
	return &Accountant{capacity: capacity}, nil
}

// Capacity returns the configured capacity in bytes.
func (a *Accountant) Capacity() int64 {
	return a.capacity
}

// Used returns the accounted bytes.
func (a *Accountant) Used() int64 {
	return a.used.Load()
}

// Free returns capacity minus used bytes, never below zero.
func (a *Accountant) Free() int64 {
	return max(0, a.capacity-a.used.Load())
}

// Reserve accounts n more bytes if they fit within capacity.
func (a *Accountant) Reserve(n int64) bool {
	if n <= 0 {
		return true
	}
	for {
		used := a.used.Load()
		if used+n > a.capacity {
			return false
		}
		if a.used.CompareAndSwap(used, used+n) {
			return true
		}
	}
}

// Release returns n bytes. The counter never drops below zero.
func (a *Accountant) Release(n int64) {
	if n <= 0 {
		return
	}
	for {
		used := a.used.Load()
		next := max(0, used-n)
		if a.used.CompareAndSwap(used, next) {
			return
		}
	}
}

// Evaluate walks dirs concurrently, sums the sizes of their files and seeds
// the counter with the result.
func (a *Accountant) Evaluate(ctx context.Context, dirs ...string) (int64, error) {
	sizes := make([]int64, len(dirs))
	g, ctx := errgroup.WithContext(ctx)
	for i, dir := range dirs {
		g.Go(func() error {
			for e, err := range Walk(dir) {
				if err != nil {
					return err
				}
				if err := ctx.Err(); err != nil {
					return err
				}
				sizes[i] += e.Size
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	var total int64
	for _, s := range sizes {
		total += s
	}
	a.used.Store(total)
	return total, nil
}

// Purge deletes files under dir, oldest modification time first with ties
// broken by path, until at least target bytes are free or no candidates
// remain. Files locked by locks are skipped. It returns the bytes freed.
func (a *Accountant) Purge(dir string, target int64, locks Locker) (int64, error) {
	target = min(max(target, 0), a.capacity)
	if a.Free() >= target {
		return 0, nil
	}

	a.purgeMu.Lock()
	defer a.purgeMu.Unlock()

	if a.Free() >= target {
		return 0, nil
	}

	var candidates []Entry
	for e, err := range Walk(dir) {
		if err != nil {
			return 0, err
		}
		candidates = append(candidates, e)
	}
	slices.SortFunc(candidates, func(x, y Entry) int {
		if c := x.ModTime.Compare(y.ModTime); c != 0 {
			return c
		}
		if x.Path < y.Path {
			return -1
		}
		if x.Path > y.Path {
			return 1
		}
		return 0
	})

	var freed int64
	var errs []error
	for _, e := range candidates {
		if a.Free() >= target {
			break
		}
		size, err := a.remove(e.Path, locks)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		freed += size
	}
	return freed, errors.Join(errs...)
}

// remove deletes path under its lock and releases its current size.
// Missing and locked files are skipped without error.
func (a *Accountant) remove(path string, locks Locker) (int64, error) {
	if locks != nil {
		unlock, err := locks.TryLock(path)
		if err != nil {
			return 0, nil
		}
		defer unlock()
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	a.Release(info.Size())
	return info.Size(), nil
}
