package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "./filestore-data", cfg.Root)
	assert.Equal(t, 3, cfg.Shard.Depth)
	assert.Equal(t, 128, cfg.Shard.Fanout)
	assert.Equal(t, 500*time.Millisecond, cfg.Lifetime.Interval)
	assert.Equal(t, 5*time.Second, cfg.Shutdown.Timeout)
	assert.Equal(t, "auto", cfg.Log.Format)

	capacity, err := cfg.CapacityBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(1<<30), capacity)
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filestore.yaml")
	content := `
root: /srv/blobs
capacity: 10GiB
shard:
  depth: 2
  fanout: 16
lifetime:
  interval: 2s
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("FILESTORE_SHARD_FANOUT", "64")
	t.Setenv("FILESTORE_LOG_LEVEL", "warn")

	cfg, err := Load(path, map[string]any{"log.level": "error"})
	require.NoError(t, err)

	assert.Equal(t, "/srv/blobs", cfg.Root)
	assert.Equal(t, 2, cfg.Shard.Depth, "file overrides defaults")
	assert.Equal(t, 64, cfg.Shard.Fanout, "env overrides file")
	assert.Equal(t, "error", cfg.Log.Level, "overrides win")
	assert.Equal(t, 2*time.Second, cfg.Lifetime.Interval)
	assert.Equal(t, ":9090", cfg.Metrics.Address)

	capacity, err := cfg.CapacityBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(10<<30), capacity)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
}

func TestLoadInvalid(t *testing.T) {
	_, err := Load("", map[string]any{
		"capacity":     "lots",
		"shard.fanout": 1,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capacity")
	assert.Contains(t, err.Error(), "shard.fanout")
}

func TestCapacityBytes(t *testing.T) {
	t.Parallel()

	cases := map[string]int64{
		"3000":  3000,
		"1KiB":  1024,
		"500MB": 500_000_000,
		"2 GiB": 2 << 30,
	}
	for in, want := range cases {
		got, err := Config{Capacity: in}.CapacityBytes()
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := Config{Capacity: "0"}.CapacityBytes()
	require.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "log.level", envKey("FILESTORE_LOG_LEVEL"))
	assert.Equal(t, "root", envKey("FILESTORE_ROOT"))
}
