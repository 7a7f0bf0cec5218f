package filestore

import (
	"log/slog"
	"os"
	"time"
)

const (
	defaultChunkSize   = 1024
	defaultStopTimeout = 5 * time.Second
	defaultDirPerm     = 0o700
	defaultFilePerm    = 0o600
)

// Option configures a Store.
type Option func(*Store)

// WithShardDepth sets the number of nested shard directory levels.
// Use 0 to store every blob directly under the data directory. Defaults to 3.
func WithShardDepth(n int) Option {
	return func(s *Store) {
		s.shardDepth = n
	}
}

// WithShardFanout sets the number of shard directories per level.
// Defaults to 128.
func WithShardFanout(n int) Option {
	return func(s *Store) {
		s.shardFanout = n
	}
}

// WithLogger sets the logger. By default the store does not log.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSweepInterval sets how often expired blobs are removed.
// Defaults to 500ms.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) {
		s.sweepInterval = d
	}
}

// WithStopTimeout bounds how long Stop waits for the background sweep to
// persist its ledger. Defaults to 5s.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.stopTimeout = d
	}
}

// WithChunkSize sets the size of the chunks Save copies and accounts at a
// time. Defaults to 1 KiB.
func WithChunkSize(n int) Option {
	return func(s *Store) {
		s.chunkSize = n
	}
}

// WithDirPerm sets the permissions used for created directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(s *Store) {
		s.dirPerm = mode
	}
}

// WithFilePerm sets the permissions used for stored blobs.
func WithFilePerm(mode os.FileMode) Option {
	return func(s *Store) {
		s.filePerm = mode
	}
}

// SaveOption configures a single Save.
type SaveOption func(*saveConfig)

type saveConfig struct {
	ttl time.Duration
}

// SaveWithTTL removes the blob automatically once ttl has elapsed since it
// was written. Zero means the blob lives until deleted or purged.
func SaveWithTTL(ttl time.Duration) SaveOption {
	return func(c *saveConfig) {
		c.ttl = ttl
	}
}
