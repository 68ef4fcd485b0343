package store

import (
	"context"
	"fmt"

	"github.com/roach88/wasmdiff/internal/ir"
)

// Rows are appended in dependency order: a seed suite before its steppings,
// a function call before its arguments and test case calls. Every insert
// returns the surrogate id assigned by SQLite so children can reference it.
// Writes join the batch transaction and become durable on Flush.

// insert runs one INSERT inside the batch and returns the new row id.
func (s *Store) insert(ctx context.Context, what, query string, args ...any) (int64, error) {
	w, err := s.writer(ctx)
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", what, err)
	}
	res, err := w.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", what, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", what, err)
	}
	s.pending++
	return id, nil
}

// InsertSeedSuite records the start of a campaign.
func (s *Store) InsertSeedSuite(ctx context.Context, suite ir.SeedSuite) (int64, error) {
	return s.insert(ctx, "seed suite", `
		INSERT INTO seed_suites (seed, block_size, generator_version, run_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		suite.Seed,
		suite.BlockSize,
		suite.GeneratorVersion,
		suite.RunID,
		suite.CreatedAt.UnixNano(),
	)
}

// InsertStepping records one generated module.
func (s *Store) InsertStepping(ctx context.Context, st ir.Stepping) (int64, error) {
	return s.insert(ctx, "stepping", `
		INSERT INTO steppings (seed_suite_id, step) VALUES (?, ?)
	`, st.SeedSuiteID, st.Step)
}

// InsertMemoryStepping records one memory image and argument seed.
func (s *Store) InsertMemoryStepping(ctx context.Context, ms ir.MemoryStepping) (int64, error) {
	return s.insert(ctx, "memory stepping", `
		INSERT INTO memory_steppings (stepping_id, step, argument_seed) VALUES (?, ?, ?)
	`, ms.SteppingID, ms.Step, ms.ArgumentSeed)
}

// InsertTestCase records one engine's coarse outcome.
// Trace is stored only when non-nil.
func (s *Store) InsertTestCase(ctx context.Context, tc ir.TestCase) (int64, error) {
	var trace any
	if tc.Trace != nil {
		trace = tc.Trace
	}
	return s.insert(ctx, "test case", `
		INSERT INTO test_cases
		(memory_stepping_id, implementation_id, timestamp, success, timeout, signal, exit_code, elapsed_ns, trace_digest, trace)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tc.MemorySteppingID,
		tc.ImplementationID,
		tc.Timestamp.UnixNano(),
		tc.Success,
		tc.Timeout,
		tc.Signal,
		tc.ExitCode,
		tc.ElapsedNS,
		tc.TraceDigest,
		trace,
	)
}

// InsertFunctionCall records one aligned position of the call sequence.
func (s *Store) InsertFunctionCall(ctx context.Context, fc ir.FunctionCall) (int64, error) {
	return s.insert(ctx, "function call", `
		INSERT INTO function_calls (memory_stepping_id, seq, function_ordinal, function_name, divergent)
		VALUES (?, ?, ?, ?, ?)
	`, fc.MemorySteppingID, fc.Seq, fc.FunctionOrdinal, fc.FunctionName, fc.Divergent)
}

// InsertFunctionArg records one argument of a function call.
func (s *Store) InsertFunctionArg(ctx context.Context, arg ir.FunctionArg) (int64, error) {
	return s.insert(ctx, "function arg", `
		INSERT INTO function_args (function_call_id, position, value) VALUES (?, ?, ?)
	`, arg.FunctionCallID, arg.Position, arg.Value)
}

// InsertTestCaseCall records one engine's result for a function call.
func (s *Store) InsertTestCaseCall(ctx context.Context, tcc ir.TestCaseCall) (int64, error) {
	return s.insert(ctx, "test case call", `
		INSERT INTO test_case_calls
		(test_case_id, function_call_id, success, elapsed_ns, has_result, result, desync)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		tcc.TestCaseID,
		tcc.FunctionCallID,
		tcc.Success,
		tcc.ElapsedNS,
		tcc.HasResult,
		tcc.Result,
		tcc.Desync,
	)
}

// InsertMemoryDiff records one changed byte.
func (s *Store) InsertMemoryDiff(ctx context.Context, d ir.MemoryDiff) (int64, error) {
	return s.insert(ctx, "memory diff", `
		INSERT INTO memory_diffs (test_case_call_id, byte_index, before, after) VALUES (?, ?, ?, ?)
	`, d.TestCaseCallID, d.ByteIndex, d.Before, d.After)
}

// InsertGlobalDiff records one changed global.
func (s *Store) InsertGlobalDiff(ctx context.Context, d ir.GlobalDiff) (int64, error) {
	return s.insert(ctx, "global diff", `
		INSERT INTO global_diffs (test_case_call_id, slot, name, before, after) VALUES (?, ?, ?, ?, ?)
	`, d.TestCaseCallID, d.Slot, d.Name, d.Before, d.After)
}
