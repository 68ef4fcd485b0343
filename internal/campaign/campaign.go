package campaign

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/wasmdiff/internal/compare"
	"github.com/roach88/wasmdiff/internal/generator"
	"github.com/roach88/wasmdiff/internal/ir"
	"github.com/roach88/wasmdiff/internal/seed"
	"github.com/roach88/wasmdiff/internal/store"
	"github.com/roach88/wasmdiff/internal/supervisor"
)

// GeneratorJob is what the generator needs for one outer step.
type GeneratorJob struct {
	Seed       int64
	BlockSize  int
	Step       int64
	ModulePath string
	MemoryPath string
}

// Spawner starts the generator for one outer step.
type Spawner func(ctx context.Context, job GeneratorJob) (generator.Source, error)

// SubprocessSpawner launches the configured generator executable.
func SubprocessSpawner(g GeneratorConfig) Spawner {
	return func(ctx context.Context, job GeneratorJob) (generator.Source, error) {
		args := append(slices.Clone(g.Args),
			generator.Args(job.Seed, job.BlockSize, job.Step, job.ModulePath, job.MemoryPath)...)
		return generator.Start(ctx, g.Path, args...)
	}
}

// LocalSpawner serves the generator in-process.
func LocalSpawner(logger *slog.Logger) Spawner {
	return func(_ context.Context, job GeneratorJob) (generator.Source, error) {
		scheme, err := seed.NewScheme(job.Seed, job.BlockSize)
		if err != nil {
			return nil, err
		}
		srv, err := generator.NewServer(generator.Config{
			Scheme:     scheme,
			Skip:       job.Step,
			ModulePath: job.ModulePath,
			MemoryPath: job.MemoryPath,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		return generator.Local{Server: srv}, nil
	}
}

// NewRunID returns a time-ordered UUIDv7 run identifier.
func NewRunID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Campaign runs one seed suite. Config, Store and Supervisor are required;
// every other field has a default.
type Campaign struct {
	Config     Config
	Store      *store.Store
	Supervisor *supervisor.Supervisor

	// Spawn starts the generator; defaults to SubprocessSpawner.
	Spawn   Spawner
	Metrics *Metrics
	Logger  *slog.Logger
	// Out receives operator progress lines.
	Out io.Writer

	Now      func() time.Time
	NewRunID func() string
}

// Summary is the result of a campaign.
type Summary struct {
	SeedSuiteID    int64  `json:"seed_suite_id"`
	Seed           int64  `json:"seed"`
	BlockSize      int    `json:"block_size"`
	RunID          string `json:"run_id"`
	Steps          int    `json:"steps"`
	MemorySteps    int    `json:"memory_steps"`
	Failures       int    `json:"failures"`
	Timeouts       int    `json:"timeouts"`
	Signals        int    `json:"signals"`
	Aborted        int    `json:"aborted_comparisons"`
	DivergentCalls int    `json:"divergent_calls"`
	Desyncs        int    `json:"desyncs"`
	Interrupted    bool   `json:"interrupted"`
}

func (c *Campaign) setDefaults() {
	if c.Spawn == nil {
		c.Spawn = SubprocessSpawner(c.Config.Generator)
	}
	if c.Metrics == nil {
		c.Metrics = NewMetrics()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Out == nil {
		c.Out = io.Discard
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.NewRunID == nil {
		c.NewRunID = NewRunID
	}
}

// run is the state of one Run call.
type run struct {
	*Campaign
	cfg    Config
	log    *slog.Logger
	args   *seed.Arguments
	cmp    *compare.Comparator
	seed   int64
	suite  int64
	module string
	memory string
	inner  int
	sum    Summary

	// persist is never cancelled, so rows of a joined inner step are always
	// written even when the interrupt arrives mid-step.
	persist context.Context
}

// Run executes the campaign until every step is done or ctx is cancelled.
// Engine failures are recorded, never returned; errors are operational
// (store, generator, spawn) and abort the campaign after a final flush.
func (c *Campaign) Run(ctx context.Context) (Summary, error) {
	if err := c.Config.Validate(); err != nil {
		return Summary{}, err
	}
	c.setDefaults()

	r := &run{Campaign: c, cfg: c.Config, persist: context.WithoutCancel(ctx)}
	r.seed = seed.FromClock(c.Now())
	if r.cfg.Seed != nil {
		r.seed = *r.cfg.Seed
	}
	runID := c.NewRunID()
	r.log = c.Logger.With("run_id", runID, "seed", r.seed)
	r.args = seed.NewArguments(r.seed)
	r.cmp = compare.New(c.Store, r.log)

	workDir, err := makeWorkDir(r.cfg.WorkDir, runID)
	if err != nil {
		return Summary{}, err
	}
	defer os.RemoveAll(workDir)
	r.module = filepath.Join(workDir, "module.wasm")
	r.memory = filepath.Join(workDir, "memory.bin")

	// The seed is durable before any subprocess runs.
	r.suite, err = c.Store.InsertSeedSuite(r.persist, ir.SeedSuite{
		Seed:             r.seed,
		BlockSize:        int64(r.cfg.BlockSize),
		GeneratorVersion: ir.GeneratorVersion,
		RunID:            runID,
		CreatedAt:        c.Now().UTC(),
	})
	if err != nil {
		return Summary{}, err
	}
	if err := r.flush(); err != nil {
		return Summary{}, err
	}

	r.sum = Summary{SeedSuiteID: r.suite, Seed: r.seed, BlockSize: r.cfg.BlockSize, RunID: runID}
	r.log.Info("campaign started", "block_size", r.cfg.BlockSize, "steps", r.cfg.Steps, "memory_steps", r.cfg.MemorySteps, "work_dir", workDir)
	fmt.Fprintf(c.Out, "seed: %d block-size: %d run: %s\n", r.seed, r.cfg.BlockSize, runID)

	err = r.loop(ctx)
	if ferr := r.flush(); ferr != nil {
		err = errors.Join(err, ferr)
	}
	if r.sum.Interrupted {
		r.log.Info("campaign interrupted", "steps", r.sum.Steps, "memory_steps", r.sum.MemorySteps)
	}
	return r.sum, err
}

func (r *run) loop(ctx context.Context) error {
	for step := range int64(r.cfg.Steps) {
		if ctx.Err() != nil {
			r.sum.Interrupted = true
			return nil
		}
		if err := r.step(ctx, step); err != nil {
			return err
		}
		if r.sum.Interrupted {
			return nil
		}
	}
	return nil
}

// step runs one outer step: one module, MemorySteps inner steps.
func (r *run) step(ctx context.Context, step int64) error {
	src, err := r.Spawn(r.persist, GeneratorJob{
		Seed:       r.seed,
		BlockSize:  r.cfg.BlockSize,
		Step:       step,
		ModulePath: r.module,
		MemoryPath: r.memory,
	})
	if err != nil {
		return fmt.Errorf("start generator for step %d: %w", step, err)
	}
	defer func() {
		if err := src.Quit(); err != nil {
			r.log.Warn("generator did not quit cleanly", "step", step, "error", err)
		}
	}()

	size, err := src.Module()
	if err != nil {
		return fmt.Errorf("generate module for step %d: %w", step, err)
	}
	stepping, err := r.Store.InsertStepping(r.persist, ir.Stepping{SeedSuiteID: r.suite, Step: step})
	if err != nil {
		return err
	}
	r.sum.Steps++
	r.Metrics.Steps.Inc()
	r.log.Info("module generated", "step", step, "bytes", size)
	fmt.Fprintf(r.Out, "step: %d\n", step)

	for memStep := range int64(r.cfg.MemorySteps) {
		if ctx.Err() != nil {
			r.sum.Interrupted = true
			return nil
		}
		if err := r.memoryStep(src, stepping, step, memStep); err != nil {
			return err
		}
	}
	return nil
}

// memoryStep runs both engines on one memory image and persists the results.
func (r *run) memoryStep(src generator.Source, stepping, step, memStep int64) error {
	if _, err := src.Memory(); err != nil {
		return fmt.Errorf("generate memory for step %d.%d: %w", step, memStep, err)
	}
	argSeed := r.args.Next()

	outcomes, err := r.runEngines(r.persist, supervisor.Job{
		Module:       r.module,
		Memory:       r.memory,
		ArgumentSeed: argSeed,
		InvokeCount:  r.cfg.InvokeCount,
	})
	if err != nil {
		return fmt.Errorf("step %d.%d: %w", step, memStep, err)
	}

	// Both runs are joined; everything below happens on this goroutine.
	ms, err := r.Store.InsertMemoryStepping(r.persist, ir.MemoryStepping{
		SteppingID:   stepping,
		Step:         memStep,
		ArgumentSeed: argSeed,
	})
	if err != nil {
		return err
	}

	var sides [2]compare.Side
	for i, eng := range r.cfg.Engines {
		o := outcomes[i]
		tc, err := r.insertTestCase(ms, eng, o)
		if err != nil {
			return err
		}
		sides[i] = compare.Side{TestCaseID: tc, Raw: o.Trace}
		r.tally(eng, o)
		r.log.Info("engine run",
			"step", step,
			"memory_step", memStep,
			"engine", eng.Name,
			"status", o.Status(),
			"elapsed", o.Elapsed,
			"trace_bytes", len(o.Trace),
		)
	}

	res, err := r.cmp.Compare(r.persist, ms, sides[0], sides[1])
	if err != nil {
		return fmt.Errorf("compare step %d.%d: %w", step, memStep, err)
	}
	r.Metrics.Comparisons.WithLabelValues(res.State.String()).Inc()
	r.Metrics.DivergentCalls.Add(float64(res.Divergent))
	r.Metrics.Desyncs.Add(float64(res.Desyncs))
	r.Metrics.MemorySteps.Inc()
	if res.State != compare.Completed {
		r.sum.Aborted++
	}
	r.sum.DivergentCalls += res.Divergent
	r.sum.Desyncs += res.Desyncs
	r.sum.MemorySteps++

	fmt.Fprintf(r.Out, "memstep: %d arg-seed: %d %s: %s %s: %s aligned: %d divergent: %d\n",
		memStep, argSeed,
		r.cfg.Engines[0].Name, outcomes[0].Status(),
		r.cfg.Engines[1].Name, outcomes[1].Status(),
		res.Aligned, res.Divergent,
	)

	r.inner++
	if r.inner%r.cfg.FlushEvery == 0 {
		return r.flush()
	}
	return nil
}

// runEngines runs both engines concurrently on the same job.
func (r *run) runEngines(ctx context.Context, job supervisor.Job) ([2]supervisor.Outcome, error) {
	var outcomes [2]supervisor.Outcome
	g, gctx := errgroup.WithContext(ctx)
	for i, eng := range r.cfg.Engines {
		g.Go(func() error {
			o, err := r.Supervisor.RunJob(gctx, eng.Runner(), job)
			if err != nil {
				return fmt.Errorf("engine %s: %w", eng.Name, err)
			}
			outcomes[i] = o
			return nil
		})
	}
	err := g.Wait()
	return outcomes, err
}

func (r *run) insertTestCase(ms int64, eng EngineConfig, o supervisor.Outcome) (int64, error) {
	tc, err := NewTestCase(ms, eng.ID, r.Now().UTC(), o)
	if err != nil {
		r.log.Warn("trace digest failed", "engine", eng.Name, "error", err)
	}
	return r.Store.InsertTestCase(r.persist, tc)
}

// NewTestCase builds the test case row for one engine run. The raw trace is
// kept only when it could not be parsed cleanly. The row is usable even when
// an error is returned; only the digest is missing.
func NewTestCase(ms, implementationID int64, at time.Time, o supervisor.Outcome) (ir.TestCase, error) {
	tc := ir.TestCase{
		MemorySteppingID: ms,
		ImplementationID: implementationID,
		Timestamp:        at,
		Success:          o.Success,
		Timeout:          o.Timeout,
		Signal:           o.Signal,
		ExitCode:         o.ExitCode,
		ElapsedNS:        o.Elapsed.Nanoseconds(),
	}

	trace, info, err := ir.ParseTrace(o.Trace)
	switch {
	case errors.Is(err, ir.ErrEmptyTrace):
	case err != nil:
		tc.Trace = o.Trace
	default:
		if info.Invalid > 0 {
			tc.Trace = o.Trace
		}
		digest, err := ir.TraceDigest(trace)
		if err != nil {
			return tc, err
		}
		tc.TraceDigest = digest
	}
	return tc, nil
}

func (r *run) tally(eng EngineConfig, o supervisor.Outcome) {
	r.Metrics.observeRun(eng.Name, o)
	if !o.Success {
		r.sum.Failures++
	}
	if o.Timeout {
		r.sum.Timeouts++
	}
	if o.Signal != 0 {
		r.sum.Signals++
	}
}

func (r *run) flush() error {
	pending := r.Store.Pending()
	if err := r.Store.Flush(); err != nil {
		return err
	}
	r.Metrics.Flushes.Inc()
	r.log.Debug("store flushed", "rows", pending)
	return nil
}

// makeWorkDir creates the directory the generator writes into. Without an
// explicit base it prefers the RAM-backed /dev/shm.
func makeWorkDir(base, runID string) (string, error) {
	if base == "" {
		base = os.TempDir()
		if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
			base = "/dev/shm"
		}
	}
	dir := filepath.Join(base, "wasmdiff-"+runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	return dir, nil
}
