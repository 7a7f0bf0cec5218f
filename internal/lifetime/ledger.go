package lifetime

import (
	"bytes"
	"maps"
	"slices"
	"strconv"
	"time"
)

// Ledger maps entry names to their lifetimes.
type Ledger map[string]time.Duration

// Encode renders l as "name=milliseconds" lines sorted by name. Lifetimes
// are rounded up to whole milliseconds so none persists as zero.
func Encode(l Ledger) []byte {
	var buf bytes.Buffer
	for _, name := range slices.Sorted(maps.Keys(l)) {
		buf.WriteString(name)
		buf.WriteByte('=')
		buf.WriteString(strconv.FormatInt(ceilMillis(l[name]).Milliseconds(), 10))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Decode parses data written by Encode. Lines that do not parse, such as a
// truncated final line, are skipped and counted.
func Decode(data []byte) (l Ledger, skipped int) {
	l = make(Ledger)
	for line := range bytes.SplitSeq(data, []byte{'\n'}) {
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if len(line) == 0 {
			continue
		}
		// Names may contain '='; the value never does.
		i := bytes.LastIndexByte(line, '=')
		if i <= 0 {
			skipped++
			continue
		}
		ms, err := strconv.ParseInt(string(line[i+1:]), 10, 64)
		if err != nil || ms <= 0 {
			skipped++
			continue
		}
		l[string(line[:i])] = time.Duration(ms) * time.Millisecond
	}
	return l, skipped
}

// ceilMillis rounds a positive d up to a whole number of milliseconds.
func ceilMillis(d time.Duration) time.Duration {
	if rem := d % time.Millisecond; rem > 0 {
		d += time.Millisecond - rem
	}
	return d
}
