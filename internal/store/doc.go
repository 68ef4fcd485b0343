// Package store provides SQLite-backed durable storage for wasmdiff campaigns.
//
// The store is an append-only forest of fact tables:
//   - seed_suites -> steppings -> memory_steppings: the campaign tree
//   - test_cases: one coarse outcome per engine per memory stepping
//   - function_calls, function_args: the aligned call sequence, shared by engines
//   - test_case_calls: one engine's result for one function call
//   - memory_diffs, global_diffs: side effects an engine reported for a call
//   - implementations: the engine catalogue, seeded when the file is created
//
// # Invariants
//
// Every row except seed_suites and implementations references exactly one
// parent through a declared, enforced foreign key. Inserting a child before
// its parent is a programming error and fails.
//
// Rows are created once and never updated. Bit patterns (arguments, results,
// globals) are stored as their signed 64-bit reinterpretation.
//
// # Batching
//
// Inserts join one transaction that Flush commits. The campaign loop flushes
// periodically and on exit; a hard crash loses at most the unflushed batch.
// The store is driven from a single goroutine and does no locking.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
