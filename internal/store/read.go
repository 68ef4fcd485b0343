package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/wasmdiff/internal/ir"
)

// Every list query orders by surrogate id (or by sequence index where one
// exists) so results match insertion order and are stable across reopens.

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// queryAll runs a query and scans every row with scan.
// Returns an empty slice (not nil) when no rows match.
func queryAll[T any](ctx context.Context, q querier, what string, scan func(scanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", what, err)
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", what, err)
	}
	return out, nil
}

// Implementations returns the engine catalogue ordered by id.
func (s *Store) Implementations(ctx context.Context) ([]ir.Implementation, error) {
	return queryAll(ctx, s.reader(), "implementations", func(r scanner) (ir.Implementation, error) {
		var impl ir.Implementation
		err := r.Scan(&impl.ID, &impl.Name)
		return impl, err
	}, `SELECT id, name FROM implementations ORDER BY id ASC`)
}

// SeedSuites returns every campaign run ordered by id.
func (s *Store) SeedSuites(ctx context.Context) ([]ir.SeedSuite, error) {
	return queryAll(ctx, s.reader(), "seed suites", scanSeedSuite, `
		SELECT id, seed, block_size, generator_version, run_id, created_at
		FROM seed_suites
		ORDER BY id ASC
	`)
}

// SeedSuite returns one campaign run. Returns sql.ErrNoRows if it does not exist.
func (s *Store) SeedSuite(ctx context.Context, id int64) (ir.SeedSuite, error) {
	row := s.reader().QueryRowContext(ctx, `
		SELECT id, seed, block_size, generator_version, run_id, created_at
		FROM seed_suites
		WHERE id = ?
	`, id)
	suite, err := scanSeedSuite(row)
	if err != nil {
		return ir.SeedSuite{}, fmt.Errorf("read seed suite %d: %w", id, err)
	}
	return suite, nil
}

func scanSeedSuite(r scanner) (ir.SeedSuite, error) {
	var suite ir.SeedSuite
	var created int64
	if err := r.Scan(&suite.ID, &suite.Seed, &suite.BlockSize, &suite.GeneratorVersion, &suite.RunID, &created); err != nil {
		return ir.SeedSuite{}, err
	}
	suite.CreatedAt = time.Unix(0, created).UTC()
	return suite, nil
}

// Steppings returns the outer steps of a seed suite in step order.
func (s *Store) Steppings(ctx context.Context, seedSuiteID int64) ([]ir.Stepping, error) {
	return queryAll(ctx, s.reader(), "steppings", func(r scanner) (ir.Stepping, error) {
		var st ir.Stepping
		err := r.Scan(&st.ID, &st.SeedSuiteID, &st.Step)
		return st, err
	}, `
		SELECT id, seed_suite_id, step FROM steppings
		WHERE seed_suite_id = ?
		ORDER BY step ASC, id ASC
	`, seedSuiteID)
}

// MemorySteppings returns the inner steps of a stepping in step order.
func (s *Store) MemorySteppings(ctx context.Context, steppingID int64) ([]ir.MemoryStepping, error) {
	return queryAll(ctx, s.reader(), "memory steppings", func(r scanner) (ir.MemoryStepping, error) {
		var ms ir.MemoryStepping
		err := r.Scan(&ms.ID, &ms.SteppingID, &ms.Step, &ms.ArgumentSeed)
		return ms, err
	}, `
		SELECT id, stepping_id, step, argument_seed FROM memory_steppings
		WHERE stepping_id = ?
		ORDER BY step ASC, id ASC
	`, steppingID)
}

// TestCases returns both engines' outcomes for a memory stepping,
// ordered by implementation id.
func (s *Store) TestCases(ctx context.Context, memorySteppingID int64) ([]ir.TestCase, error) {
	return queryAll(ctx, s.reader(), "test cases", func(r scanner) (ir.TestCase, error) {
		var tc ir.TestCase
		var ts int64
		err := r.Scan(&tc.ID, &tc.MemorySteppingID, &tc.ImplementationID, &ts,
			&tc.Success, &tc.Timeout, &tc.Signal, &tc.ExitCode, &tc.ElapsedNS, &tc.TraceDigest, &tc.Trace)
		tc.Timestamp = time.Unix(0, ts).UTC()
		return tc, err
	}, `
		SELECT id, memory_stepping_id, implementation_id, timestamp,
		       success, timeout, signal, exit_code, elapsed_ns, trace_digest, trace
		FROM test_cases
		WHERE memory_stepping_id = ?
		ORDER BY implementation_id ASC, id ASC
	`, memorySteppingID)
}

// FunctionCalls returns the aligned call sequence of a memory stepping.
func (s *Store) FunctionCalls(ctx context.Context, memorySteppingID int64) ([]ir.FunctionCall, error) {
	return queryAll(ctx, s.reader(), "function calls", scanFunctionCall, `
		SELECT id, memory_stepping_id, seq, function_ordinal, function_name, divergent
		FROM function_calls
		WHERE memory_stepping_id = ?
		ORDER BY seq ASC
	`, memorySteppingID)
}

func scanFunctionCall(r scanner) (ir.FunctionCall, error) {
	var fc ir.FunctionCall
	err := r.Scan(&fc.ID, &fc.MemorySteppingID, &fc.Seq, &fc.FunctionOrdinal, &fc.FunctionName, &fc.Divergent)
	return fc, err
}

// FunctionArgs returns the arguments of a function call in position order.
func (s *Store) FunctionArgs(ctx context.Context, functionCallID int64) ([]ir.FunctionArg, error) {
	return queryAll(ctx, s.reader(), "function args", func(r scanner) (ir.FunctionArg, error) {
		var arg ir.FunctionArg
		err := r.Scan(&arg.ID, &arg.FunctionCallID, &arg.Position, &arg.Value)
		return arg, err
	}, `
		SELECT id, function_call_id, position, value FROM function_args
		WHERE function_call_id = ?
		ORDER BY position ASC
	`, functionCallID)
}

// TestCaseCalls returns every engine's result for a function call,
// ordered by test case id (and therefore by engine insertion order).
func (s *Store) TestCaseCalls(ctx context.Context, functionCallID int64) ([]ir.TestCaseCall, error) {
	return queryAll(ctx, s.reader(), "test case calls", func(r scanner) (ir.TestCaseCall, error) {
		var tcc ir.TestCaseCall
		err := r.Scan(&tcc.ID, &tcc.TestCaseID, &tcc.FunctionCallID, &tcc.Success,
			&tcc.ElapsedNS, &tcc.HasResult, &tcc.Result, &tcc.Desync)
		return tcc, err
	}, `
		SELECT id, test_case_id, function_call_id, success, elapsed_ns, has_result, result, desync
		FROM test_case_calls
		WHERE function_call_id = ?
		ORDER BY test_case_id ASC, id ASC
	`, functionCallID)
}

// MemoryDiffs returns the byte changes one engine reported for a call.
func (s *Store) MemoryDiffs(ctx context.Context, testCaseCallID int64) ([]ir.MemoryDiff, error) {
	return queryAll(ctx, s.reader(), "memory diffs", func(r scanner) (ir.MemoryDiff, error) {
		var d ir.MemoryDiff
		err := r.Scan(&d.ID, &d.TestCaseCallID, &d.ByteIndex, &d.Before, &d.After)
		return d, err
	}, `
		SELECT id, test_case_call_id, byte_index, before, after FROM memory_diffs
		WHERE test_case_call_id = ?
		ORDER BY byte_index ASC, id ASC
	`, testCaseCallID)
}

// GlobalDiffs returns the global changes one engine reported for a call.
func (s *Store) GlobalDiffs(ctx context.Context, testCaseCallID int64) ([]ir.GlobalDiff, error) {
	return queryAll(ctx, s.reader(), "global diffs", func(r scanner) (ir.GlobalDiff, error) {
		var d ir.GlobalDiff
		err := r.Scan(&d.ID, &d.TestCaseCallID, &d.Slot, &d.Name, &d.Before, &d.After)
		return d, err
	}, `
		SELECT id, test_case_call_id, slot, name, before, after FROM global_diffs
		WHERE test_case_call_id = ?
		ORDER BY slot ASC, name ASC, id ASC
	`, testCaseCallID)
}

// Tables lists every table in dependency order.
var Tables = []string{
	"seed_suites",
	"steppings",
	"memory_steppings",
	"implementations",
	"test_cases",
	"function_calls",
	"function_args",
	"test_case_calls",
	"memory_diffs",
	"global_diffs",
}

// Counts returns the row count of every table, keyed by table name.
func (s *Store) Counts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(Tables))
	for _, table := range Tables {
		var n int64
		// Table names come from the fixed list above.
		if err := s.reader().QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// SuiteSummary aggregates one seed suite for the report command.
type SuiteSummary struct {
	Suite          ir.SeedSuite `json:"suite"`
	Steps          int64        `json:"steps"`
	MemorySteps    int64        `json:"memory_steps"`
	TestCases      int64        `json:"test_cases"`
	Failures       int64        `json:"failures"`
	Timeouts       int64        `json:"timeouts"`
	Signals        int64        `json:"signals"`
	Calls          int64        `json:"calls"`
	DivergentCalls int64        `json:"divergent_calls"`
	Desyncs        int64        `json:"desyncs"`
}

// Summarize computes the totals of a seed suite.
func (s *Store) Summarize(ctx context.Context, seedSuiteID int64) (SuiteSummary, error) {
	suite, err := s.SeedSuite(ctx, seedSuiteID)
	if err != nil {
		return SuiteSummary{}, err
	}
	sum := SuiteSummary{Suite: suite}

	err = s.reader().QueryRowContext(ctx, `
		WITH ms AS (
			SELECT ms.id FROM memory_steppings ms
			JOIN steppings st ON st.id = ms.stepping_id
			WHERE st.seed_suite_id = ?1
		)
		SELECT
			(SELECT COUNT(*) FROM steppings WHERE seed_suite_id = ?1),
			(SELECT COUNT(*) FROM ms),
			(SELECT COUNT(*) FROM test_cases WHERE memory_stepping_id IN (SELECT id FROM ms)),
			(SELECT COUNT(*) FROM test_cases WHERE memory_stepping_id IN (SELECT id FROM ms) AND success = 0),
			(SELECT COUNT(*) FROM test_cases WHERE memory_stepping_id IN (SELECT id FROM ms) AND timeout = 1),
			(SELECT COUNT(*) FROM test_cases WHERE memory_stepping_id IN (SELECT id FROM ms) AND signal != 0),
			(SELECT COUNT(*) FROM function_calls WHERE memory_stepping_id IN (SELECT id FROM ms)),
			(SELECT COUNT(*) FROM function_calls WHERE memory_stepping_id IN (SELECT id FROM ms) AND divergent = 1),
			(SELECT COUNT(*) FROM test_case_calls tcc
			   JOIN test_cases tc ON tc.id = tcc.test_case_id
			   WHERE tc.memory_stepping_id IN (SELECT id FROM ms) AND tcc.desync = 1)
	`, seedSuiteID).Scan(
		&sum.Steps,
		&sum.MemorySteps,
		&sum.TestCases,
		&sum.Failures,
		&sum.Timeouts,
		&sum.Signals,
		&sum.Calls,
		&sum.DivergentCalls,
		&sum.Desyncs,
	)
	if err != nil {
		return SuiteSummary{}, fmt.Errorf("summarize seed suite %d: %w", seedSuiteID, err)
	}
	return sum, nil
}

// EngineCall is one engine's side of a divergent call.
type EngineCall struct {
	Implementation string `json:"implementation"`
	Success        bool   `json:"success"`
	HasResult      bool   `json:"has_result"`
	Result         int64  `json:"result"`
	MemoryDiffs    int64  `json:"memory_diffs"`
	GlobalDiffs    int64  `json:"global_diffs"`
}

// Divergence is a divergent function call with everything needed to
// reproduce it.
type Divergence struct {
	Coordinates      ir.Coordinates `json:"coordinates"`
	MemorySteppingID int64          `json:"memory_stepping_id"`
	FunctionCallID   int64          `json:"function_call_id"`
	Seq              int64          `json:"seq"`
	FunctionOrdinal  int64          `json:"function_ordinal"`
	FunctionName     string         `json:"function_name"`
	Engines          []EngineCall   `json:"engines"`
}

// Divergences returns up to limit divergent calls of a seed suite in
// campaign order. A limit of zero or less returns all of them.
func (s *Store) Divergences(ctx context.Context, seedSuiteID int64, limit int) ([]Divergence, error) {
	if limit <= 0 {
		limit = -1
	}
	divs, err := queryAll(ctx, s.reader(), "divergences", func(r scanner) (Divergence, error) {
		var d Divergence
		err := r.Scan(
			&d.Coordinates.Seed,
			&d.Coordinates.BlockSize,
			&d.Coordinates.Step,
			&d.Coordinates.MemoryStep,
			&d.Coordinates.ArgumentSeed,
			&d.MemorySteppingID,
			&d.FunctionCallID,
			&d.Seq,
			&d.FunctionOrdinal,
			&d.FunctionName,
		)
		return d, err
	}, `
		SELECT ss.seed, ss.block_size, st.step, ms.step, ms.argument_seed,
		       ms.id, fc.id, fc.seq, fc.function_ordinal, fc.function_name
		FROM function_calls fc
		JOIN memory_steppings ms ON ms.id = fc.memory_stepping_id
		JOIN steppings st ON st.id = ms.stepping_id
		JOIN seed_suites ss ON ss.id = st.seed_suite_id
		WHERE ss.id = ? AND fc.divergent = 1
		ORDER BY st.step ASC, ms.step ASC, fc.seq ASC
		LIMIT ?
	`, seedSuiteID, limit)
	if err != nil {
		return nil, err
	}

	for i := range divs {
		engines, err := s.engineCalls(ctx, divs[i].FunctionCallID)
		if err != nil {
			return nil, err
		}
		divs[i].Engines = engines
	}
	return divs, nil
}

func (s *Store) engineCalls(ctx context.Context, functionCallID int64) ([]EngineCall, error) {
	return queryAll(ctx, s.reader(), "engine calls", func(r scanner) (EngineCall, error) {
		var ec EngineCall
		err := r.Scan(&ec.Implementation, &ec.Success, &ec.HasResult, &ec.Result, &ec.MemoryDiffs, &ec.GlobalDiffs)
		return ec, err
	}, `
		SELECT impl.name, tcc.success, tcc.has_result, tcc.result,
		       (SELECT COUNT(*) FROM memory_diffs md WHERE md.test_case_call_id = tcc.id),
		       (SELECT COUNT(*) FROM global_diffs gd WHERE gd.test_case_call_id = tcc.id)
		FROM test_case_calls tcc
		JOIN test_cases tc ON tc.id = tcc.test_case_id
		JOIN implementations impl ON impl.id = tc.implementation_id
		WHERE tcc.function_call_id = ?
		ORDER BY impl.id ASC
	`, functionCallID)
}
