package compare

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/wasmdiff/internal/ir"
)

// Sink receives the rows produced by a comparison. *store.Store implements it.
type Sink interface {
	InsertFunctionCall(ctx context.Context, fc ir.FunctionCall) (int64, error)
	InsertFunctionArg(ctx context.Context, arg ir.FunctionArg) (int64, error)
	InsertTestCaseCall(ctx context.Context, tcc ir.TestCaseCall) (int64, error)
	InsertMemoryDiff(ctx context.Context, d ir.MemoryDiff) (int64, error)
	InsertGlobalDiff(ctx context.Context, d ir.GlobalDiff) (int64, error)
}

// Side is one engine's input to a comparison.
type Side struct {
	// TestCaseID is the engine's persisted test case.
	TestCaseID int64
	// Raw is the captured trace, possibly truncated.
	Raw []byte
}

// Comparator persists aligned traces into a Sink.
type Comparator struct {
	Sink   Sink
	Logger *slog.Logger
}

// New returns a Comparator writing to sink.
func New(sink Sink, logger *slog.Logger) *Comparator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Comparator{Sink: sink, Logger: logger}
}

// Compare aligns the two traces of a memory stepping and persists, for each
// aligned position: one FunctionCall, its FunctionArgs, one TestCaseCall per
// engine, then every MemoryDiff and GlobalDiff either engine reported.
//
// Empty or malformed traces abort the comparison without error. Errors are
// returned only when the sink fails.
func (c *Comparator) Compare(ctx context.Context, memorySteppingID int64, a, b Side) (Result, error) {
	res, calls := Diff(a.Raw, b.Raw)
	log := c.Logger.With("memory_stepping", memorySteppingID)

	if res.State != Completed {
		log.Debug("comparison aborted", "state", res.State)
		return res, nil
	}
	for i, info := range res.Parse {
		if info.Repaired || info.Dropped > 0 || info.Invalid > 0 {
			log.Debug("trace repaired", "engine", i, "dropped", info.Dropped, "invalid", info.Invalid)
		}
	}
	if res.SkippedMemoryKeys > 0 {
		log.Warn("skipping memory diff entries with invalid byte index", "count", res.SkippedMemoryKeys)
	}

	// Recount from what is actually persisted.
	res.MemoryDiffs, res.GlobalDiffs = 0, 0
	for _, call := range calls {
		if call.Undecodable() {
			log.Warn("undecodable trace record", "seq", call.Seq, "engine_a", call.A.Invalid, "engine_b", call.B.Invalid)
		} else if call.Desync {
			log.Warn("engine schedules desynchronised",
				"seq", call.Seq,
				"function_a", call.A.FunctionID(),
				"function_b", call.B.FunctionID(),
			)
		} else if call.ArgMismatch {
			log.Warn("engines called with different arguments", "seq", call.Seq, "function", call.A.FunctionID())
		}

		mem, globals, err := c.persist(ctx, memorySteppingID, call, a.TestCaseID, b.TestCaseID)
		if err != nil {
			return res, fmt.Errorf("persist call %d: %w", call.Seq, err)
		}
		res.MemoryDiffs += mem
		res.GlobalDiffs += globals
	}
	return res, nil
}

func (c *Comparator) persist(ctx context.Context, memorySteppingID int64, call Call, tcA, tcB int64) (int, int, error) {
	ident := call.Identity()
	callID, err := c.Sink.InsertFunctionCall(ctx, ir.FunctionCall{
		MemorySteppingID: memorySteppingID,
		Seq:              int64(call.Seq),
		FunctionOrdinal:  int64(ident.Ordinal),
		FunctionName:     ir.NormalizeName(string(ident.Function)),
		Divergent:        call.Divergent,
	})
	if err != nil {
		return 0, 0, err
	}

	// Engine A's arguments are authoritative when the engines disagree.
	for pos, v := range ident.Args {
		if _, err := c.Sink.InsertFunctionArg(ctx, ir.FunctionArg{
			FunctionCallID: callID,
			Position:       int64(pos),
			Value:          int64(v),
		}); err != nil {
			return 0, 0, err
		}
	}

	sides := []struct {
		testCase int64
		rec      ir.CallRecord
	}{
		{tcA, call.A},
		{tcB, call.B},
	}
	ids := make([]int64, len(sides))
	for i, side := range sides {
		tcc := ir.TestCaseCall{
			TestCaseID:     side.testCase,
			FunctionCallID: callID,
			Success:        side.rec.Success,
			ElapsedNS:      int64(side.rec.Elapsed),
			Desync:         call.Desync,
		}
		if side.rec.Result != nil {
			tcc.HasResult = true
			tcc.Result = int64(*side.rec.Result)
		}
		if ids[i], err = c.Sink.InsertTestCaseCall(ctx, tcc); err != nil {
			return 0, 0, err
		}
	}

	var mem, globals int
	for i, side := range sides {
		entries, _ := memoryEntries(side.rec)
		for _, e := range entries {
			if _, err := c.Sink.InsertMemoryDiff(ctx, ir.MemoryDiff{
				TestCaseCallID: ids[i],
				ByteIndex:      e.Index,
				Before:         int64(e.Before),
				After:          int64(e.After),
			}); err != nil {
				return 0, 0, err
			}
			mem++
		}
		for _, g := range side.rec.GlobalEntries() {
			if _, err := c.Sink.InsertGlobalDiff(ctx, ir.GlobalDiff{
				TestCaseCallID: ids[i],
				Slot:           g.Slot,
				Name:           g.Name,
				Before:         int64(g.Before),
				After:          int64(g.After),
			}); err != nil {
				return 0, 0, err
			}
			globals++
		}
	}
	return mem, globals, nil
}
