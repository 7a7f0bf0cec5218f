// Package sanitize converts caller keys into names that are safe to use as a
// single filesystem path element.
//
// Reserved bytes are replaced by an escape marker followed by two hex digits.
// The marker itself is always escaped, so the mapping is injective and can be
// reversed with [Key].
package sanitize

import (
	"strings"
)

const (
	marker = '%'
	hex    = "0123456789ABCDEF"
)

// Name returns the filesystem-safe name for key. An empty key yields an empty
// name; callers treat that as "no entry".
func Name(key string) string {
	if key == "" {
		return ""
	}
	if key == "." || key == ".." {
		return strings.Repeat("%2E", len(key))
	}
	if !needsEscape(key) {
		return key
	}
	var b strings.Builder
	b.Grow(len(key) + 8)
	for i := 0; i < len(key); i++ {
		c := key[i]
		if reserved(c) {
			b.WriteByte(marker)
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0f])
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Key reverses Name. Malformed escapes are kept literally.
func Key(name string) string {
	if strings.IndexByte(name, marker) < 0 {
		return name
	}
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == marker && i+2 < len(name) {
			hi, okHi := unhex(name[i+1])
			lo, okLo := unhex(name[i+2])
			if okHi && okLo {
				b.WriteByte(hi<<4 | lo)
				i += 2
				continue
			}
		}
		b.WriteByte(name[i])
	}
	return b.String()
}

func needsEscape(s string) bool {
	for i := 0; i < len(s); i++ {
		if reserved(s[i]) {
			return true
		}
	}
	return false
}

func reserved(c byte) bool {
	if c < 0x20 || c == 0x7f {
		return true
	}
	switch c {
	case marker, '/', '\\', ':', '*', '?', '"', '<', '>', '|', '`':
		return true
	}
	return false
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}
