package campaign

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/wasmdiff/internal/compare"
	"github.com/roach88/wasmdiff/internal/generator"
	"github.com/roach88/wasmdiff/internal/ir"
	"github.com/roach88/wasmdiff/internal/seed"
	"github.com/roach88/wasmdiff/internal/supervisor"
)

// Reproduction is the replay of one coordinate.
type Reproduction struct {
	Coordinates ir.Coordinates        `json:"coordinates"`
	Outcomes    [2]supervisor.Outcome `json:"-"`
	Statuses    [2]string             `json:"statuses"`
	Result      compare.Result        `json:"result"`
	Calls       []compare.Call        `json:"-"`
	// SeedSuiteID is set when the replay was persisted.
	SeedSuiteID int64 `json:"seed_suite_id,omitempty"`
}

// Reproduce regenerates the module and memory image at coord, runs both
// engines on them with coord's argument seed and aligns the traces.
//
// When c.Store is set the replay is persisted as a seed suite holding the
// single stepping and memory stepping of coord.
func (c *Campaign) Reproduce(ctx context.Context, coord ir.Coordinates) (Reproduction, error) {
	cfg := c.Config
	cfg.BlockSize = int(coord.BlockSize)
	if err := cfg.Validate(); err != nil {
		return Reproduction{}, err
	}
	c.setDefaults()

	scheme, err := seed.NewScheme(coord.Seed, int(coord.BlockSize))
	if err != nil {
		return Reproduction{}, err
	}
	runID := c.NewRunID()
	r := &run{Campaign: c, cfg: cfg, seed: coord.Seed, persist: context.WithoutCancel(ctx)}
	r.log = c.Logger.With("run_id", runID, "seed", coord.Seed)

	workDir, err := makeWorkDir(r.cfg.WorkDir, runID)
	if err != nil {
		return Reproduction{}, err
	}
	defer os.RemoveAll(workDir)
	r.module = filepath.Join(workDir, "module.wasm")
	r.memory = filepath.Join(workDir, "memory.bin")

	if err := generator.WriteCoordinate(scheme, coord.Step, coord.MemoryStep, r.module, r.memory); err != nil {
		return Reproduction{}, fmt.Errorf("regenerate %d.%d: %w", coord.Step, coord.MemoryStep, err)
	}

	// Unlike a campaign, an interrupt here kills the runners.
	outcomes, err := r.runEngines(ctx, supervisor.Job{
		Module:       r.module,
		Memory:       r.memory,
		ArgumentSeed: coord.ArgumentSeed,
		InvokeCount:  r.cfg.InvokeCount,
	})
	if err != nil {
		return Reproduction{}, err
	}

	rep := Reproduction{Coordinates: coord, Outcomes: outcomes}
	for i, o := range outcomes {
		rep.Statuses[i] = o.Status()
		r.log.Info("engine run", "engine", r.cfg.Engines[i].Name, "status", o.Status(), "elapsed", o.Elapsed)
	}
	rep.Result, rep.Calls = compare.Diff(outcomes[0].Trace, outcomes[1].Trace)

	if c.Store == nil {
		return rep, nil
	}
	rep.SeedSuiteID, err = r.persistReproduction(runID, coord, outcomes)
	return rep, err
}

func (r *run) persistReproduction(runID string, coord ir.Coordinates, outcomes [2]supervisor.Outcome) (int64, error) {
	suite, err := r.Store.InsertSeedSuite(r.persist, ir.SeedSuite{
		Seed:             coord.Seed,
		BlockSize:        coord.BlockSize,
		GeneratorVersion: ir.GeneratorVersion,
		RunID:            runID,
		CreatedAt:        r.Now().UTC(),
	})
	if err != nil {
		return 0, err
	}
	stepping, err := r.Store.InsertStepping(r.persist, ir.Stepping{SeedSuiteID: suite, Step: coord.Step})
	if err != nil {
		return 0, err
	}
	ms, err := r.Store.InsertMemoryStepping(r.persist, ir.MemoryStepping{
		SteppingID:   stepping,
		Step:         coord.MemoryStep,
		ArgumentSeed: coord.ArgumentSeed,
	})
	if err != nil {
		return 0, err
	}

	var sides [2]compare.Side
	for i, eng := range r.cfg.Engines {
		tc, err := r.insertTestCase(ms, eng, outcomes[i])
		if err != nil {
			return 0, err
		}
		sides[i] = compare.Side{TestCaseID: tc, Raw: outcomes[i].Trace}
	}
	if _, err := compare.New(r.Store, r.log).Compare(r.persist, ms, sides[0], sides[1]); err != nil {
		return 0, fmt.Errorf("compare %d.%d: %w", coord.Step, coord.MemoryStep, err)
	}
	return suite, r.flush()
}
