package compare

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/roach88/wasmdiff/internal/ir"
)

// State is the terminal state of one comparison.
type State int

const (
	// Completed means both traces parsed and were aligned.
	Completed State = iota
	// AbortedEmpty means at least one engine produced no output.
	AbortedEmpty
	// AbortedMalformed means at least one output was not a JSON array.
	AbortedMalformed
)

// String returns the state name used in logs and reports.
func (s State) String() string {
	switch s {
	case Completed:
		return "completed"
	case AbortedEmpty:
		return "aborted-empty"
	case AbortedMalformed:
		return "aborted-malformed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Call is one aligned position.
type Call struct {
	Seq int
	A   ir.CallRecord
	B   ir.CallRecord

	// Desync is set when A and B name different functions.
	Desync bool
	// ArgMismatch is set when A and B were invoked with different arguments.
	ArgMismatch bool
	// Divergent is set when A and B disagree on success, result or side effects.
	// A position where either record could not be decoded is always divergent.
	Divergent bool
}

// Undecodable reports whether either record is an invalid placeholder.
func (c Call) Undecodable() bool {
	return c.A.Invalid || c.B.Invalid
}

// Identity returns the record that names the call: engine A's, unless it
// could not be decoded.
func (c Call) Identity() ir.CallRecord {
	if c.A.Invalid {
		return c.B
	}
	return c.A
}

// Align pairs records position by position until either trace is exhausted.
// Invalid placeholders keep their position; nothing is compared against them.
func Align(a, b ir.Trace) []Call {
	n := min(len(a), len(b))
	calls := make([]Call, n)
	for i := range n {
		c := Call{Seq: i, A: a[i], B: b[i]}
		if c.Undecodable() {
			c.Divergent = true
		} else {
			c.Desync = !ir.SameFunction(a[i], b[i])
			c.ArgMismatch = !ir.SameArgs(a[i], b[i])
			c.Divergent = !ir.SameOutcome(a[i], b[i])
		}
		calls[i] = c
	}
	return calls
}

// memoryEntries returns the decodable MemoryDiff entries of rec and the
// number of keys skipped because they are not byte indices.
func memoryEntries(rec ir.CallRecord) ([]ir.MemoryEntry, int) {
	entries, _ := rec.MemoryEntries()
	return entries, len(rec.MemoryDiff) - len(entries)
}

// Result summarises one comparison.
type Result struct {
	State State `json:"state"`

	// Records is the number of records per engine, placeholders included.
	Records [2]int `json:"records"`
	// Parse reports the repairs made to each engine's trace.
	Parse [2]ir.ParseInfo `json:"parse"`

	Aligned       int `json:"aligned"`
	Divergent     int `json:"divergent"`
	Desyncs       int `json:"desyncs"`
	ArgMismatches int `json:"arg_mismatches"`
	MemoryDiffs   int `json:"memory_diffs"`
	GlobalDiffs   int `json:"global_diffs"`

	// Undecodable counts aligned positions holding an invalid record.
	Undecodable int `json:"undecodable"`

	// SkippedMemoryKeys counts MemoryDiff keys that were not byte indices.
	SkippedMemoryKeys int `json:"skipped_memory_keys"`
}

// Trailing returns how many records of each trace had no counterpart.
func (r Result) Trailing() [2]int {
	return [2]int{r.Records[0] - r.Aligned, r.Records[1] - r.Aligned}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Diff parses two raw traces and aligns them without persisting anything.
// It never returns an error for bad engine output; the state says what
// happened.
func Diff(rawA, rawB []byte) (Result, []Call) {
	var res Result
	if len(bytes.TrimSpace(rawA)) == 0 || len(bytes.TrimSpace(rawB)) == 0 {
		res.State = AbortedEmpty
		return res, nil
	}

	ta, infoA, errA := ir.ParseTrace(rawA)
	tb, infoB, errB := ir.ParseTrace(rawB)
	res.Parse = [2]ir.ParseInfo{infoA, infoB}
	if errA != nil || errB != nil {
		res.State = AbortedMalformed
		if errors.Is(errA, ir.ErrEmptyTrace) || errors.Is(errB, ir.ErrEmptyTrace) {
			res.State = AbortedEmpty
		}
		return res, nil
	}

	res.Records = [2]int{len(ta), len(tb)}
	calls := Align(ta, tb)
	res.Aligned = len(calls)
	for _, c := range calls {
		if c.Divergent {
			res.Divergent++
		}
		if c.Desync {
			res.Desyncs++
		}
		if c.ArgMismatch {
			res.ArgMismatches++
		}
		if c.Undecodable() {
			res.Undecodable++
		}
		for _, rec := range []ir.CallRecord{c.A, c.B} {
			entries, skipped := memoryEntries(rec)
			res.MemoryDiffs += len(entries)
			res.SkippedMemoryKeys += skipped
			res.GlobalDiffs += len(rec.GlobalDiff)
		}
	}
	return res, calls
}
