package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/wasmdiff/internal/campaign"
	"github.com/roach88/wasmdiff/internal/compare"
	"github.com/roach88/wasmdiff/internal/ir"
	"github.com/roach88/wasmdiff/internal/store"
	"github.com/roach88/wasmdiff/internal/supervisor"
)

// epoch timestamps every row a scenario writes.
var epoch = time.Unix(0, 0).UTC()

// Harness runs scenarios against one scratch store.
type Harness struct {
	store  *store.Store
	logger *slog.Logger
}

// Run executes a scenario in a fresh store and returns the result.
//
// Execution flow:
//  1. Open a store in a temporary directory with the scenario's engines
//  2. Record a seed suite, stepping and memory stepping
//  3. Record one test case per engine from its outcome and raw trace
//  4. Compare the traces, persisting every aligned call
//  5. Evaluate the assertions against the comparison and the store
//
// An error is returned only when the harness itself fails. Assertion
// failures are reported in the result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "wasmdiff-harness-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	impls := []ir.Implementation{
		{ID: 1, Name: scenario.Engines[0].Name},
		{ID: 2, Name: scenario.Engines[1].Name},
	}
	st, err := store.Open(filepath.Join(dir, "scenario.db"), store.WithImplementations(impls...))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:  st,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return h.execute(ctx, scenario)
}

func (h *Harness) execute(ctx context.Context, scenario *Scenario) (*Result, error) {
	result := NewResult()
	result.Names = [2]string{scenario.Engines[0].Name, scenario.Engines[1].Name}

	ms, err := h.setup(ctx, scenario)
	if err != nil {
		return nil, err
	}

	var sides [2]compare.Side
	for i, run := range scenario.Engines {
		outcome := supervisor.Outcome{
			Success:  run.Success(),
			Timeout:  run.Timeout,
			Signal:   run.Signal,
			ExitCode: run.ExitCode,
			Trace:    []byte(run.Trace),
		}
		tc, err := campaign.NewTestCase(ms, int64(i+1), epoch, outcome)
		if err != nil {
			return nil, fmt.Errorf("engines[%d]: %w", i, err)
		}
		id, err := h.store.InsertTestCase(ctx, tc)
		if err != nil {
			return nil, fmt.Errorf("engines[%d]: %w", i, err)
		}
		sides[i] = compare.Side{TestCaseID: id, Raw: outcome.Trace}
	}

	result.Comparison, err = compare.New(h.store, h.logger).Compare(ctx, ms, sides[0], sides[1])
	if err != nil {
		return nil, fmt.Errorf("compare: %w", err)
	}
	_, result.Calls = compare.Diff(sides[0].Raw, sides[1].Raw)

	if err := h.store.Flush(); err != nil {
		return nil, err
	}

	actx := &AssertionContext{Store: h.store, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// setup records the rows a comparison hangs off and returns the memory
// stepping id.
func (h *Harness) setup(ctx context.Context, scenario *Scenario) (int64, error) {
	suite, err := h.store.InsertSeedSuite(ctx, ir.SeedSuite{
		BlockSize:        campaign.DefaultBlockSize,
		GeneratorVersion: ir.GeneratorVersion,
		RunID:            scenario.Name,
		CreatedAt:        epoch,
	})
	if err != nil {
		return 0, err
	}
	stepping, err := h.store.InsertStepping(ctx, ir.Stepping{SeedSuiteID: suite})
	if err != nil {
		return 0, err
	}
	return h.store.InsertMemoryStepping(ctx, ir.MemoryStepping{
		SteppingID:   stepping,
		ArgumentSeed: scenario.ArgumentSeed,
	})
}
