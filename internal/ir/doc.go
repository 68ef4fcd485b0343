// Package ir provides the shared data types for wasmdiff.
//
// This package contains type definitions and codecs only. All other internal
// packages import ir; ir imports nothing internal. This keeps the trace
// contract between engine runners and the coordinator in one place.
//
// Key design constraints:
//   - Numeric WASM values are carried as exact bit patterns (Value.Bits), never
//     as decoded floating-point text
//   - On the wire every bit pattern is a signed decimal string (Bits)
//   - Trace records are append-only JSON array elements; a truncated array is
//     repaired, never rejected (see ParseTrace)
//   - Row types mirror the store tables one-to-one and are immutable once written
package ir
