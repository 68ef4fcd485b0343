package engine

import (
	"bytes"
	"strconv"

	"github.com/roach88/wasmdiff/internal/ir"
)

const diffChunk = 4096

// DiffMemory reports the bytes that differ between two snapshots, keyed by
// decimal byte index. At most limit entries are returned (lowest indices
// first); limit <= 0 means no limit. Returns nil when nothing changed.
func DiffMemory(before, after []byte, limit int) map[string]ir.Pair {
	n := min(len(before), len(after))
	var diff map[string]ir.Pair
	for off := 0; off < n; off += diffChunk {
		end := min(off+diffChunk, n)
		if bytes.Equal(before[off:end], after[off:end]) {
			continue
		}
		for i := off; i < end; i++ {
			if before[i] == after[i] {
				continue
			}
			if diff == nil {
				diff = make(map[string]ir.Pair)
			}
			diff[strconv.Itoa(i)] = ir.Pair{ir.Bits(before[i]), ir.Bits(after[i])}
			if limit > 0 && len(diff) >= limit {
				return diff
			}
		}
	}
	return diff
}

// DiffGlobals reports the globals whose bit pattern changed, keyed by name.
// Returns nil when nothing changed.
func DiffGlobals(before, after map[string]ir.Value) map[string]ir.Pair {
	var diff map[string]ir.Pair
	for name, b := range before {
		a, ok := after[name]
		if !ok || a.Equal(b) {
			continue
		}
		if diff == nil {
			diff = make(map[string]ir.Pair)
		}
		diff[name] = ir.Pair{ir.Bits(b.Int64()), ir.Bits(a.Int64())}
	}
	return diff
}
