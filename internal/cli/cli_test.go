package cli

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	root string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{root: t.TempDir()}
}

// run executes the app against the harness root and returns stdout.
func (h *harness) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := App()
	app.Reader = strings.NewReader(stdin)
	app.Writer = &stdout
	app.ErrWriter = &stderr
	full := append([]string{"filestore", "--root", h.root, "--capacity", "1MiB", "--log-format", "json"}, args...)
	err := app.Run(full)
	return stdout.String(), err
}

func TestApp(t *testing.T) {
	t.Parallel()

	app := App()
	assert.Equal(t, "filestore", app.Name)

	names := make(map[string]bool)
	for _, cmd := range app.Commands {
		names[cmd.Name] = true
	}
	for _, name := range []string{"put", "get", "rm", "stat", "verify", "df", "purge", "gc", "run"} {
		assert.True(t, names[name], "missing command %s", name)
	}
}

func TestPutGetRm(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	out, err := h.run(t, "hello from stdin", "put", "greeting")
	require.NoError(t, err)
	assert.Contains(t, out, "greeting\t16 B\tsha256:")

	out, err = h.run(t, "", "get", "greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello from stdin", out)

	_, err = h.run(t, "again", "put", "greeting")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = h.run(t, "", "rm", "greeting", "never-stored")
	require.NoError(t, err)

	_, err = h.run(t, "", "get", "greeting")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestPutGetFiles(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "in.bin")
	dst := filepath.Join(dir, "out.bin")
	content := bytes.Repeat([]byte("abc"), 2000)
	require.NoError(t, os.WriteFile(src, content, 0o600))

	out, err := h.run(t, "", "put", "--ttl", "1h", "file", src)
	require.NoError(t, err)
	fields := strings.Fields(out)
	require.Len(t, fields, 4)
	dgst := fields[3]

	_, err = h.run(t, "", "get", "file", dst)
	require.NoError(t, err)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	out, err = h.run(t, "", "verify", "file", dgst)
	require.NoError(t, err)
	assert.Equal(t, "file\tOK\n", out)

	out, err = h.run(t, "", "stat", "file")
	require.NoError(t, err)
	assert.Contains(t, out, "6000 bytes")
	assert.NotContains(t, out, "never")
}

func TestDfPurgeGc(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.run(t, strings.Repeat("x", 4096), "put", "big")
	require.NoError(t, err)

	out, err := h.run(t, "", "df")
	require.NoError(t, err)
	assert.Contains(t, out, "capacity  1.0 MiB")
	assert.Contains(t, out, "used      4.0 KiB")

	_, err = h.run(t, "", "purge")
	require.Error(t, err)

	out, err = h.run(t, "", "purge", "--fraction", "1")
	require.NoError(t, err)
	assert.Equal(t, "freed 4.0 KiB\n", out)

	out, err = h.run(t, "", "gc")
	require.NoError(t, err)
	assert.Equal(t, "removed 0 directories\n", out)
}

func TestMissingKey(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.run(t, "", "get")
	require.Error(t, err)
}

func TestServeMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "filestore_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, metricsHandler(reg), time.Second) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "filestore_test_total 1")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
