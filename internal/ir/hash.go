package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainTrace  = "wasmdiff/trace/v1"
	DomainModule = "wasmdiff/module/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// TraceDigest identifies the observable behavior recorded in a trace.
// Two runs that invoked the same functions with the same arguments and saw
// the same results and side effects share a digest regardless of timing.
func TraceDigest(t Trace) (string, error) {
	canonical, err := MarshalCanonical(t)
	if err != nil {
		return "", fmt.Errorf("TraceDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainTrace, canonical), nil
}

// ModuleDigest identifies a generated module binary together with the
// memory image it was run against.
func ModuleDigest(module []byte, memoryStep int) string {
	data := make([]byte, 0, len(module)+8)
	data = strconv.AppendInt(data, int64(memoryStep), 10)
	data = append(data, 0x00)
	data = append(data, module...)
	return hashWithDomain(DomainModule, data)
}

// MustTraceDigest is like TraceDigest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustTraceDigest(t Trace) string {
	d, err := TraceDigest(t)
	if err != nil {
		panic(err)
	}
	return d
}
