package shard

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashMatchesPolynomial(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want uint32
	}{
		{"", 0},
		{"a", 97},
		{"hello", 99162322},
		// wraps to the minimum signed 32-bit value
		{"polygenelubricants", 0x80000000},
		// outside the BMP: hashed as a surrogate pair
		{"\U0001F600", uint32(int32(31*0xD83D + 0xDE00))},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Hash(tt.in), "Hash(%q)", tt.in)
	}
}

func TestSegmentsDefault(t *testing.T) {
	t.Parallel()

	s, err := New(DefaultDepth, DefaultFanout)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"04000000-05ffffff",
		"05e80000-05ebffff",
		"05e91800-05e91fff",
	}, s.Segments("hello"))

	// A hash exactly on a bucket boundary belongs to the bucket it opens.
	assert.Equal(t, []string{
		"80000000-81ffffff",
		"80000000-8003ffff",
		"80000000-800007ff",
	}, s.Segments("polygenelubricants"))
}

func TestSegmentsDeterministic(t *testing.T) {
	t.Parallel()

	a, err := New(DefaultDepth, DefaultFanout)
	require.NoError(t, err)
	b, err := New(DefaultDepth, DefaultFanout)
	require.NoError(t, err)

	for i := range 200 {
		key := fmt.Sprintf("key-%d", i)
		assert.Equal(t, a.Segments(key), a.Segments(key))
		assert.Equal(t, a.Segments(key), b.Segments(key))
	}
}

func TestSegmentsContainHash(t *testing.T) {
	t.Parallel()

	configs := []struct{ depth, fanout int }{
		{DefaultDepth, DefaultFanout},
		{1, 2},
		{2, 3},
		{4, 7},
		{5, 256},
	}
	for _, cfg := range configs {
		s, err := New(cfg.depth, cfg.fanout)
		require.NoError(t, err)
		require.Equal(t, cfg.depth, s.Depth())

		for i := range 500 {
			key := "k" + strconv.Itoa(i*7919)
			h := uint64(Hash(key))
			parentLow, parentHigh := uint64(0), uint64(0xffffffff)
			for _, seg := range s.Segments(key) {
				low, high := parseSegment(t, seg)
				assert.LessOrEqual(t, low, h, "key %q seg %s", key, seg)
				assert.GreaterOrEqual(t, high, h, "key %q seg %s", key, seg)
				assert.GreaterOrEqual(t, low, parentLow)
				assert.LessOrEqual(t, high, parentHigh)
				parentLow, parentHigh = low, high
			}
		}
	}
}

func TestDepthZero(t *testing.T) {
	t.Parallel()

	s, err := New(0, 0)
	require.NoError(t, err)
	assert.Empty(t, s.Segments("anything"))
	assert.Equal(t, filepath.Join("root", "anything"), s.Path("root", "anything"))
}

func TestNewInvalid(t *testing.T) {
	t.Parallel()

	_, err := New(-1, 128)
	require.Error(t, err)
	_, err = New(3, 1)
	require.Error(t, err)
}

func TestPath(t *testing.T) {
	t.Parallel()

	s, err := New(DefaultDepth, DefaultFanout)
	require.NoError(t, err)

	want := filepath.Join("data", "04000000-05ffffff", "05e80000-05ebffff", "05e91800-05e91fff", "hello")
	assert.Equal(t, want, s.Path("data", "hello"))
	assert.Equal(t, filepath.Dir(want), s.Dir("data", "hello"))
}

func parseSegment(t *testing.T, seg string) (low, high uint64) {
	t.Helper()
	lo, hi, ok := strings.Cut(seg, "-")
	require.True(t, ok, "segment %q", seg)
	low, err := strconv.ParseUint(lo, 16, 64)
	require.NoError(t, err)
	high, err = strconv.ParseUint(hi, 16, 64)
	require.NoError(t, err)
	return low, high
}
