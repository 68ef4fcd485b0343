package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/roach88/wasmdiff/internal/ir"
)

// WriteScript writes an executable /bin/sh script to dir and returns its path.
func WriteScript(t testing.TB, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script %s: %v", name, err)
	}
	return path
}

// FakeRunner writes a script into a fresh temporary directory.
func FakeRunner(t testing.TB, body string) string {
	t.Helper()
	return WriteScript(t, t.TempDir(), "runner.sh", body)
}

// EmitTrace returns a shell statement that writes raw to file descriptor 3.
func EmitTrace(raw string) string {
	return fmt.Sprintf("printf '%%s' '%s' >&3", shellQuote(raw))
}

// TraceScript returns a runner body that writes the encoded records to fd 3
// and exits with code.
func TraceScript(t testing.TB, code int, records ...ir.CallRecord) string {
	t.Helper()
	raw, err := ir.EncodeTrace(records...)
	if err != nil {
		t.Fatalf("encode trace: %v", err)
	}
	return fmt.Sprintf("%s\nexit %d", EmitTrace(string(raw)), code)
}

// shellQuote escapes s for use inside single quotes.
func shellQuote(s string) string {
	return strings.ReplaceAll(s, "'", `'\''`)
}

// Call builds a successful call record with an optional result.
func Call(function string, ordinal int, result *int64, args ...int64) ir.CallRecord {
	rec := ir.CallRecord{
		Function: ir.Name(function),
		Ordinal:  ordinal,
		Args:     make([]ir.Bits, len(args)),
		Success:  true,
	}
	for i, a := range args {
		rec.Args[i] = ir.Bits(a)
	}
	if result != nil {
		b := ir.Bits(*result)
		rec.Result = &b
	}
	return rec
}

// Int returns a pointer to v.
func Int(v int64) *int64 { return &v }
