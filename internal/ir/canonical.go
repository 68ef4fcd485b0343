package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeName returns the canonical form of a function or global name:
// surrounding whitespace trimmed and NFC normalized. Two names compare equal
// only after normalization.
func NormalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// MarshalCanonical renders a trace in the form used for digests.
//
// Key differences from EncodeTrace:
//  1. Elapsed time is omitted (it is the only nondeterministic field)
//  2. Names are NFC normalized and written without HTML escaping
//  3. MemoryDiff entries are ordered by numeric index, GlobalDiff by slot
//  4. Fields appear in a fixed order with no whitespace
func MarshalCanonical(t Trace) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, rec := range t {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := marshalCanonicalRecord(&buf, rec); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func marshalCanonicalRecord(buf *bytes.Buffer, rec CallRecord) error {
	if rec.Invalid {
		buf.WriteString(`{"invalid":true}`)
		return nil
	}
	buf.WriteString(`{"function":`)
	if err := marshalCanonicalString(buf, NormalizeName(string(rec.Function))); err != nil {
		return err
	}
	buf.WriteString(`,"ordinal":`)
	buf.WriteString(strconv.Itoa(rec.Ordinal))

	buf.WriteString(`,"args":[`)
	for i, a := range rec.Args {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.FormatInt(int64(a), 10))
	}
	buf.WriteByte(']')

	buf.WriteString(`,"success":`)
	buf.WriteString(strconv.FormatBool(rec.Success))

	if rec.Result != nil {
		buf.WriteString(`,"result":`)
		buf.WriteString(strconv.FormatInt(int64(*rec.Result), 10))
	}

	if len(rec.MemoryDiff) > 0 {
		entries, err := rec.MemoryEntries()
		if err != nil {
			return err
		}
		buf.WriteString(`,"memory":[`)
		for i, e := range entries {
			if i > 0 {
				buf.WriteByte(',')
			}
			fmt.Fprintf(buf, "[%d,%d,%d]", e.Index, int64(e.Before), int64(e.After))
		}
		buf.WriteByte(']')
	}

	if len(rec.GlobalDiff) > 0 {
		buf.WriteString(`,"globals":[`)
		for i, e := range rec.GlobalEntries() {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteByte('[')
			if err := marshalCanonicalString(buf, e.Name); err != nil {
				return err
			}
			fmt.Fprintf(buf, ",%d,%d]", int64(e.Before), int64(e.After))
		}
		buf.WriteByte(']')
	}

	buf.WriteByte('}')
	return nil
}

// marshalCanonicalString writes s as a JSON string without HTML escaping.
func marshalCanonicalString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}
