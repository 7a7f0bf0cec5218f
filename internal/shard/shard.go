// Package shard spreads entry names across a fixed-depth directory tree.
//
// Each name is hashed to an unsigned 32-bit value. The hash space is split
// into fanout equal-width buckets at the top level, and every bucket is split
// again into fanout buckets at the next level, down to depth levels. A
// directory is named after the inclusive bounds of its bucket, so the
// expected number of files in a leaf directory is 2^32 / fanout^depth for
// uniformly distributed names.
package shard

import (
	"errors"
	"fmt"
	"path/filepath"
	"unicode/utf16"
)

const (
	// DefaultDepth is the number of nested directory levels.
	DefaultDepth = 3
	// DefaultFanout is the number of buckets per directory level.
	DefaultFanout = 128

	hashSpace = uint64(1) << 32
)

// Sharder computes shard directories for entry names.
// A Sharder is immutable and safe for concurrent use.
type Sharder struct {
	widths []uint64 // bucket width per level
}

// New returns a Sharder with the given depth and fanout.
// A depth of 0 disables sharding.
func New(depth, fanout int) (*Sharder, error) {
	if depth < 0 {
		return nil, errors.New("shard depth must be >= 0")
	}
	if depth > 0 && fanout < 2 {
		return nil, errors.New("shard fanout must be >= 2")
	}
	widths := make([]uint64, depth)
	w := hashSpace
	for i := range widths {
		w = (w + uint64(fanout) - 1) / uint64(fanout)
		widths[i] = w
	}
	return &Sharder{widths: widths}, nil
}

// Depth returns the number of directory levels.
func (s *Sharder) Depth() int {
	return len(s.widths)
}

// Segments returns the directory names, outermost first, for name.
func (s *Sharder) Segments(name string) []string {
	h := uint64(Hash(name))
	segs := make([]string, 0, len(s.widths))
	low, high := uint64(0), hashSpace
	for _, w := range s.widths {
		low += (h - low) / w * w
		high = min(low+w, high)
		segs = append(segs, segmentName(low, high))
	}
	return segs
}

// Dir returns the directory under root that holds name.
func (s *Sharder) Dir(root, name string) string {
	return filepath.Join(append([]string{root}, s.Segments(name)...)...)
}

// Path returns the file path under root for name.
func (s *Sharder) Path(root, name string) string {
	return filepath.Join(s.Dir(root, name), name)
}

// Hash returns the polynomial hash h = sum(c[i] * 31^(n-1-i)) over the
// UTF-16 code units of s, computed with wrapping signed 32-bit arithmetic
// and reinterpreted as unsigned.
func Hash(s string) uint32 {
	var h int32
	for _, r := range s {
		if r >= 0x10000 {
			hi, lo := utf16.EncodeRune(r)
			h = 31*h + hi
			h = 31*h + lo
			continue
		}
		h = 31*h + r
	}
	return uint32(h)
}

// segmentName encodes the bucket [low, high) with inclusive hex bounds.
func segmentName(low, high uint64) string {
	return fmt.Sprintf("%08x-%08x", low, high-1)
}
