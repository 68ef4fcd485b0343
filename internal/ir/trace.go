package ir

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"unicode"
)

var (
	// ErrEmptyTrace is returned by ParseTrace when the runner produced no output.
	ErrEmptyTrace = errors.New("empty trace")

	// ErrMalformedTrace is returned when the output is not a JSON array at all.
	ErrMalformedTrace = errors.New("malformed trace")
)

// Bits is an integer-encoded bit pattern as it appears in traces.
// It marshals as a signed decimal string and unmarshals from a string or a
// JSON number. Unsigned 64-bit decimals are accepted and reinterpreted.
type Bits int64

// ParseBits parses a signed or unsigned 64-bit decimal bit pattern.
func ParseBits(s string) (Bits, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Bits(n), nil
	}
	u, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid bit pattern %q", s)
	}
	return Bits(int64(u)), nil
}

// MarshalJSON implements json.Marshaler.
func (b Bits) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatInt(int64(b), 10))), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bits) UnmarshalJSON(data []byte) error {
	text := string(bytes.TrimSpace(data))
	if text == "null" {
		*b = 0
		return nil
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		text = s
	}
	v, err := ParseBits(text)
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// Name is a function or global identifier. Producers may emit it as a JSON
// string or as a bare ordinal number; both decode to text.
type Name string

// UnmarshalJSON implements json.Unmarshaler.
func (n *Name) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = Name(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("function name: %w", err)
	}
	*n = Name(num.String())
	return nil
}

// Pair is a two-element [old, new] divergence entry.
type Pair [2]Bits

// CallRecord is one element of an engine runner's trace: the outcome of a
// single exported-function invocation.
type CallRecord struct {
	Function   Name            `json:"function"`
	Ordinal    int             `json:"ordinal"`
	Args       []Bits          `json:"args"`
	Elapsed    Bits            `json:"elapsed"`
	Success    bool            `json:"success"`
	Result     *Bits           `json:"result,omitempty"`
	MemoryDiff map[string]Pair `json:"MemoryDiff,omitempty"`
	GlobalDiff map[string]Pair `json:"GlobalDiff,omitempty"`

	// Invalid marks a placeholder for a complete record whose fields could
	// not be decoded. It holds the record's position in the trace.
	Invalid bool `json:"-"`
}

// FunctionID returns the normalized identity of the invoked function.
// The name wins when present; otherwise the ordinal is used.
func (r CallRecord) FunctionID() string {
	if name := NormalizeName(string(r.Function)); name != "" {
		return name
	}
	return "#" + strconv.Itoa(r.Ordinal)
}

// SameFunction reports whether two records denote the same function.
func SameFunction(a, b CallRecord) bool {
	an, bn := NormalizeName(string(a.Function)), NormalizeName(string(b.Function))
	if an != "" && bn != "" {
		return an == bn
	}
	return a.Ordinal == b.Ordinal
}

// SameArgs reports whether two records were invoked with identical bit patterns.
func SameArgs(a, b CallRecord) bool {
	return slices.Equal(a.Args, b.Args)
}

// SameOutcome reports whether two records agree on success, return value
// and every reported side effect.
func SameOutcome(a, b CallRecord) bool {
	if a.Success != b.Success {
		return false
	}
	if (a.Result == nil) != (b.Result == nil) {
		return false
	}
	if a.Result != nil && *a.Result != *b.Result {
		return false
	}
	return samePairs(a.MemoryDiff, b.MemoryDiff) && samePairs(a.GlobalDiff, b.GlobalDiff)
}

func samePairs(a, b map[string]Pair) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}

// MemoryEntry is one decoded MemoryDiff entry.
type MemoryEntry struct {
	Index  int64
	Before Bits
	After  Bits
}

// MemoryEntries decodes the MemoryDiff map, ordered by byte index.
// Keys that are not decimal byte indices are reported in the error and skipped.
func (r CallRecord) MemoryEntries() ([]MemoryEntry, error) {
	entries := make([]MemoryEntry, 0, len(r.MemoryDiff))
	var bad []string
	for k, p := range r.MemoryDiff {
		idx, err := strconv.ParseInt(strings.TrimSpace(k), 10, 64)
		if err != nil || idx < 0 {
			bad = append(bad, k)
			continue
		}
		entries = append(entries, MemoryEntry{Index: idx, Before: p[0], After: p[1]})
	}
	slices.SortFunc(entries, func(a, b MemoryEntry) int { return cmpInt64(a.Index, b.Index) })
	if len(bad) > 0 {
		slices.Sort(bad)
		return entries, fmt.Errorf("invalid memory diff index %q", bad)
	}
	return entries, nil
}

// GlobalEntry is one decoded GlobalDiff entry.
type GlobalEntry struct {
	Slot   int64
	Name   string
	Before Bits
	After  Bits
}

// GlobalEntries decodes the GlobalDiff map, ordered by slot then name.
func (r CallRecord) GlobalEntries() []GlobalEntry {
	entries := make([]GlobalEntry, 0, len(r.GlobalDiff))
	for k, p := range r.GlobalDiff {
		name := NormalizeName(k)
		entries = append(entries, GlobalEntry{Slot: GlobalSlot(name), Name: name, Before: p[0], After: p[1]})
	}
	slices.SortFunc(entries, func(a, b GlobalEntry) int {
		if c := cmpInt64(a.Slot, b.Slot); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return entries
}

// GlobalSlot extracts the slot index from a global key: the whole key when it
// is decimal, otherwise its trailing digits ("g3" -> 3). Returns -1 when the
// key carries no index.
func GlobalSlot(key string) int64 {
	end := len(key)
	start := end
	for start > 0 && unicode.IsDigit(rune(key[start-1])) {
		start--
	}
	if start == end {
		return -1
	}
	n, err := strconv.ParseInt(key[start:end], 10, 64)
	if err != nil {
		return -1
	}
	return n
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Trace is the ordered list of call records produced by one engine run.
type Trace []CallRecord

// ParseInfo describes what ParseTrace had to do to recover a trace.
type ParseInfo struct {
	// Repaired is set when the closing bracket was missing and was appended.
	Repaired bool
	// Dropped counts trailing records that were incomplete and discarded.
	Dropped int
	// Invalid counts complete records whose fields could not be decoded.
	// Each is kept in the trace as a placeholder.
	Invalid int
}

// RepairTrace appends the closing bracket to a trace whose last non-whitespace
// character is not ']'. A dangling comma left by a writer that was killed
// between records is removed first. The input is never modified.
func RepairTrace(raw []byte) ([]byte, bool) {
	trimmed := bytes.TrimRight(raw, " \t\r\n")
	if len(trimmed) == 0 || trimmed[len(trimmed)-1] == ']' {
		return trimmed, false
	}
	fixed := make([]byte, 0, len(trimmed)+1)
	fixed = append(fixed, bytes.TrimRight(bytes.TrimSuffix(trimmed, []byte(",")), " \t\r\n")...)
	fixed = append(fixed, ']')
	return fixed, true
}

// ParseTrace repairs and decodes a raw trace.
//
// Records are decoded one at a time, so an incomplete trailing record left by
// a killed runner is dropped while every complete record before it is kept.
// A complete record that does not decode becomes an Invalid placeholder, so
// positions always match the order the runner wrote them in.
// Returns ErrEmptyTrace for whitespace-only input and ErrMalformedTrace when
// the output does not start a JSON array.
func ParseTrace(raw []byte) (Trace, ParseInfo, error) {
	var info ParseInfo
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, info, ErrEmptyTrace
	}

	fixed, repaired := RepairTrace(raw)
	info.Repaired = repaired

	dec := json.NewDecoder(bytes.NewReader(fixed))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('[') {
		return nil, info, ErrMalformedTrace
	}

	trace := Trace{}
	for dec.More() {
		var msg json.RawMessage
		if err := dec.Decode(&msg); err != nil {
			info.Dropped++
			break
		}
		var rec CallRecord
		if err := json.Unmarshal(msg, &rec); err != nil {
			info.Invalid++
			rec = CallRecord{Invalid: true}
		}
		trace = append(trace, rec)
	}
	return trace, info, nil
}

// TraceWriter streams call records as a JSON array.
// Each record is emitted with a single Write so that a reader sees whole
// records, and a writer killed between records leaves a repairable prefix.
type TraceWriter struct {
	w io.Writer
	n int
}

// NewTraceWriter returns a TraceWriter writing to w.
func NewTraceWriter(w io.Writer) *TraceWriter {
	return &TraceWriter{w: w}
}

// Write appends one record to the array.
func (tw *TraceWriter) Write(rec CallRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode trace record: %w", err)
	}
	prefix := ",\n"
	if tw.n == 0 {
		prefix = "["
	}
	buf := make([]byte, 0, len(prefix)+len(data))
	buf = append(buf, prefix...)
	buf = append(buf, data...)
	if _, err := tw.w.Write(buf); err != nil {
		return fmt.Errorf("write trace record: %w", err)
	}
	tw.n++
	return nil
}

// Close terminates the array.
func (tw *TraceWriter) Close() error {
	end := "]\n"
	if tw.n == 0 {
		end = "[]\n"
	}
	if _, err := io.WriteString(tw.w, end); err != nil {
		return fmt.Errorf("close trace: %w", err)
	}
	return nil
}

// EncodeTrace renders records the same way a TraceWriter does.
func EncodeTrace(records ...CallRecord) ([]byte, error) {
	var buf bytes.Buffer
	tw := NewTraceWriter(&buf)
	for _, rec := range records {
		if err := tw.Write(rec); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
