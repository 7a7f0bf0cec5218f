package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	digest "github.com/opencontainers/go-digest"

	"github.com/meigma/filestore/internal/platform"
	"github.com/meigma/filestore/internal/space"
	"github.com/meigma/filestore/internal/storeerr"
)

// Save streams r into the store under key. It fails with ErrAlreadyExists if
// the key is stored, ErrLocked if another writer is saving it, and
// ErrNotEnoughSpace if the content does not fit. On failure nothing is left
// behind: the partial file is removed and its bytes are released.
func (s *Store) Save(ctx context.Context, key string, r io.Reader, opts ...SaveOption) (Entry, error) {
	const op = "save"
	var cfg saveConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ttl < 0 {
		return Entry{}, storeerr.New(op, key, storeerr.KindInvalidArgument,
			fmt.Errorf("negative lifetime %s", cfg.ttl))
	}
	w, err := s.begin(op, key)
	if err != nil {
		return Entry{}, err
	}
	defer s.end()
	name, err := entryName(op, key)
	if err != nil {
		return Entry{}, err
	}
	dir := s.sharder.Dir(s.dataDir, name)
	path := filepath.Join(dir, name)

	unlock, err := s.locks.TryLock(path)
	if err != nil {
		return Entry{}, s.saveFailed(storeerr.New(op, key, storeerr.KindLocked, err))
	}
	defer unlock()

	f, err := s.create(dir, path)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return Entry{}, s.saveFailed(storeerr.New(op, key, storeerr.KindAlreadyExists, err))
		}
		if platform.NameTooLong(err) {
			return Entry{}, s.saveFailed(storeerr.New(op, key, storeerr.KindInvalidArgument, err))
		}
		return Entry{}, s.saveFailed(storeerr.New(op, key, storeerr.KindStorageCorrupted, err))
	}

	entry, written, err := s.copyChunks(ctx, f, r)
	if err != nil {
		s.discard(path, written)
		if errors.Is(err, space.ErrNotEnoughSpace) {
			return Entry{}, s.saveFailed(storeerr.New(op, key, storeerr.KindNotEnoughSpace, nil))
		}
		return Entry{}, s.saveFailed(storeerr.New(op, key, storeerr.KindIO, err))
	}
	entry.Key = key

	if cfg.ttl > 0 {
		if err := w.Register(name, cfg.ttl); err != nil {
			s.discard(path, written)
			if errors.Is(err, space.ErrNotEnoughSpace) {
				return Entry{}, s.saveFailed(storeerr.New(op, key, storeerr.KindNotEnoughSpace, err))
			}
			return Entry{}, s.saveFailed(storeerr.New(op, key, storeerr.KindIO, err))
		}
		entry.TTL = cfg.ttl
	} else {
		// A lifetime left over from an earlier blob must not expire this one.
		s.forget(w, name)
	}

	s.metrics.saves.WithLabelValues(resultOK).Inc()
	s.metrics.savedBytes.Add(float64(written))
	s.logger.Debug("filestore: saved",
		slog.String("key", key),
		slog.Int64("size", written),
		slog.Duration("ttl", cfg.ttl))
	return entry, nil
}

// create makes the shard directory and exclusively creates the blob file.
func (s *Store) create(dir, path string) (*os.File, error) {
	s.layoutMu.RLock()
	defer s.layoutMu.RUnlock()

	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, s.filePerm)
}

// copyChunks copies r into f one chunk at a time, reserving space for each
// chunk before writing it. It always closes f and reports the bytes reserved
// so far, which the caller releases on failure.
func (s *Store) copyChunks(ctx context.Context, f *os.File, r io.Reader) (Entry, int64, error) {
	buf := make([]byte, s.chunkSize)
	digester := digest.Canonical.Digester()
	var written int64

	fail := func(err error) (Entry, int64, error) {
		f.Close()
		return Entry{}, written, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if !s.space.Reserve(int64(n)) {
				return fail(space.ErrNotEnoughSpace)
			}
			written += int64(n)
			if _, err := f.Write(buf[:n]); err != nil {
				return fail(err)
			}
			digester.Hash().Write(buf[:n])
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return fail(rerr)
		}
	}

	if err := f.Sync(); err != nil {
		return fail(err)
	}
	info, err := f.Stat()
	if err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		return Entry{}, written, err
	}
	return Entry{
		Size:    written,
		ModTime: info.ModTime(),
		Digest:  digester.Digest(),
	}, written, nil
}

// discard removes a partially written blob and releases its bytes.
func (s *Store) discard(path string, reserved int64) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("filestore: removing partial blob failed",
			slog.String("path", path),
			slog.Any("error", err))
	}
	s.space.Release(reserved)
}

func (s *Store) saveFailed(err *storeerr.Error) error {
	s.metrics.saves.WithLabelValues(err.Kind.Code()).Inc()
	s.logger.Debug("filestore: save failed",
		slog.String("key", err.Key),
		slog.String("kind", err.Kind.String()),
		slog.Any("error", err.Err))
	return err
}
