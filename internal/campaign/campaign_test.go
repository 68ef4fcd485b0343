//go:build unix

package campaign

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/wasmdiff/internal/generator"
	"github.com/roach88/wasmdiff/internal/ir"
	"github.com/roach88/wasmdiff/internal/store"
	"github.com/roach88/wasmdiff/internal/supervisor"
	"github.com/roach88/wasmdiff/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func threeCallTrace(t *testing.T) string {
	return testutil.TraceScript(t, 0,
		testutil.Call("f0", 0, testutil.Int(1), 5),
		testutil.Call("f1", 1, testutil.Int(2), 6),
		testutil.Call("f0", 0, testutil.Int(1), 7),
	)
}

func testConfig(t *testing.T, scriptA, scriptB string) Config {
	t.Helper()
	s := int64(42)
	return Config{
		Seed:        &s,
		BlockSize:   256,
		Steps:       2,
		MemorySteps: 3,
		InvokeCount: 3,
		Timeout:     5 * time.Second,
		FlushEvery:  4,
		WorkDir:     t.TempDir(),
		Generator:   GeneratorConfig{Path: "unused"},
		Engines: []EngineConfig{
			{ID: 1, Name: "wazero-interpreter", Path: testutil.FakeRunner(t, scriptA)},
			{ID: 2, Name: "wazero-compiler", Path: testutil.FakeRunner(t, scriptB)},
		},
	}
}

func newCampaign(t *testing.T, cfg Config) (*Campaign, *bytes.Buffer) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "campaign.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	var out bytes.Buffer
	return &Campaign{
		Config:     cfg,
		Store:      st,
		Supervisor: &supervisor.Supervisor{Timeout: cfg.Timeout, Poll: 5 * time.Millisecond},
		Spawn:      LocalSpawner(nil),
		Out:        &out,
		Now:        testutil.NewStepClock(time.Unix(1700000000, 0), time.Second).Now,
		NewRunID:   testutil.FixedRunID("run-1"),
	}, &out
}

func counts(t *testing.T, st *store.Store) map[string]int64 {
	t.Helper()
	c, err := st.Counts(context.Background())
	require.NoError(t, err)
	return c
}

func TestRun_PersistsCampaignTree(t *testing.T) {
	trace := threeCallTrace(t)
	c, out := newCampaign(t, testConfig(t, trace, trace))

	sum, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(42), sum.Seed)
	assert.Equal(t, "run-1", sum.RunID)
	assert.Equal(t, 2, sum.Steps)
	assert.Equal(t, 6, sum.MemorySteps)
	assert.Zero(t, sum.Failures)
	assert.Zero(t, sum.DivergentCalls)
	assert.False(t, sum.Interrupted)

	n := counts(t, c.Store)
	assert.EqualValues(t, 1, n["seed_suites"])
	assert.EqualValues(t, 2, n["steppings"])
	assert.EqualValues(t, 6, n["memory_steppings"])
	assert.EqualValues(t, 12, n["test_cases"])
	assert.EqualValues(t, 18, n["function_calls"])
	assert.EqualValues(t, 18, n["function_args"])
	assert.EqualValues(t, 36, n["test_case_calls"])
	assert.Zero(t, n["memory_diffs"])
	assert.Zero(t, c.Store.Pending(), "everything is flushed on exit")

	suite, err := c.Store.SeedSuite(context.Background(), sum.SeedSuiteID)
	require.NoError(t, err)
	assert.Equal(t, ir.GeneratorVersion, suite.GeneratorVersion)
	assert.EqualValues(t, 256, suite.BlockSize)

	assert.Contains(t, out.String(), "seed: 42 block-size: 256 run: run-1\n")
	assert.Contains(t, out.String(), "step: 1\n")
	assert.Contains(t, out.String(), "wazero-interpreter: ok wazero-compiler: ok aligned: 3 divergent: 0")
}

func TestRun_TestCasesCarryOutcomeAndDigest(t *testing.T) {
	cfg := testConfig(t, threeCallTrace(t), "kill -SEGV $$")
	cfg.Steps, cfg.MemorySteps = 1, 1
	c, _ := newCampaign(t, cfg)

	sum, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failures)
	assert.Equal(t, 1, sum.Signals)
	assert.Equal(t, 1, sum.Aborted, "an empty trace aborts the comparison")

	ctx := context.Background()
	steppings, err := c.Store.Steppings(ctx, sum.SeedSuiteID)
	require.NoError(t, err)
	mss, err := c.Store.MemorySteppings(ctx, steppings[0].ID)
	require.NoError(t, err)
	cases, err := c.Store.TestCases(ctx, mss[0].ID)
	require.NoError(t, err)
	require.Len(t, cases, 2)

	assert.True(t, cases[0].Success)
	assert.NotEmpty(t, cases[0].TraceDigest)
	assert.Nil(t, cases[0].Trace)

	assert.False(t, cases[1].Success)
	assert.Equal(t, 11, cases[1].Signal)
	assert.Empty(t, cases[1].TraceDigest)
}

func TestRun_TimeoutIsRecorded(t *testing.T) {
	partial := testutil.EmitTrace(`[{"function":"f0","ordinal":0,"args":["5"],"elapsed":"1","success":true,"result":"1"},`)
	cfg := testConfig(t, threeCallTrace(t), partial+"\nsleep 30")
	cfg.Steps, cfg.MemorySteps = 1, 1
	cfg.Timeout = 300 * time.Millisecond
	c, _ := newCampaign(t, cfg)

	start := time.Now()
	sum, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, 1, sum.Timeouts)

	n := counts(t, c.Store)
	assert.EqualValues(t, 1, n["function_calls"], "only the complete record of the timed-out engine aligns")
}

func TestRun_MalformedTraceIsKept(t *testing.T) {
	cfg := testConfig(t, threeCallTrace(t), testutil.EmitTrace("garbage"))
	cfg.Steps, cfg.MemorySteps = 1, 1
	c, _ := newCampaign(t, cfg)

	sum, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Aborted)

	var raw []byte
	err = c.Store.DB().QueryRow(`SELECT trace FROM test_cases WHERE implementation_id = 2`).Scan(&raw)
	require.NoError(t, err)
	assert.Equal(t, "garbage", string(raw))
}

func TestRun_Divergence(t *testing.T) {
	diverging := testutil.TraceScript(t, 0,
		testutil.Call("f0", 0, testutil.Int(1), 5),
		testutil.Call("f1", 1, testutil.Int(3), 6),
		testutil.Call("f0", 0, testutil.Int(1), 7),
	)
	cfg := testConfig(t, threeCallTrace(t), diverging)
	cfg.Steps, cfg.MemorySteps = 1, 2
	c, _ := newCampaign(t, cfg)

	sum, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.DivergentCalls)
	assert.Equal(t, 2.0, prom.ToFloat64(c.Metrics.DivergentCalls))

	divs, err := c.Store.Divergences(context.Background(), sum.SeedSuiteID, 0)
	require.NoError(t, err)
	require.Len(t, divs, 2)
	assert.Equal(t, int64(1), divs[0].Seq)
	assert.Equal(t, int64(42), divs[0].Coordinates.Seed)
	assert.Equal(t, int64(1), divs[1].Coordinates.MemoryStep)
}

// interruptingSource cancels the campaign while serving the nth memory image.
type interruptingSource struct {
	generator.Source
	cancel context.CancelFunc
	after  int
	served *int
	quits  *atomic.Int32
}

func (s interruptingSource) Memory() (int, error) {
	*s.served++
	if *s.served == s.after {
		s.cancel()
	}
	return s.Source.Memory()
}

func (s interruptingSource) Quit() error {
	s.quits.Add(1)
	return s.Source.Quit()
}

func TestRun_InterruptStopsAtInnerLoop(t *testing.T) {
	trace := threeCallTrace(t)
	c, _ := newCampaign(t, testConfig(t, trace, trace))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var served int
	var quits atomic.Int32
	local := LocalSpawner(nil)
	c.Spawn = func(ctx context.Context, job GeneratorJob) (generator.Source, error) {
		src, err := local(ctx, job)
		if err != nil {
			return nil, err
		}
		return interruptingSource{Source: src, cancel: cancel, after: 2, served: &served, quits: &quits}, nil
	}

	sum, err := c.Run(ctx)
	require.NoError(t, err)
	assert.True(t, sum.Interrupted)
	assert.Equal(t, 1, sum.Steps)
	assert.Equal(t, 2, sum.MemorySteps, "the in-flight inner step completes")
	assert.EqualValues(t, 1, quits.Load(), "the generator is told to quit")

	n := counts(t, c.Store)
	assert.EqualValues(t, 2, n["memory_steppings"])
	assert.EqualValues(t, 4, n["test_cases"])
	assert.Zero(t, c.Store.Pending())
}

func TestRun_AlreadyCancelled(t *testing.T) {
	trace := threeCallTrace(t)
	c, _ := newCampaign(t, testConfig(t, trace, trace))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := c.Run(ctx)
	require.NoError(t, err)
	assert.True(t, sum.Interrupted)
	assert.EqualValues(t, 1, counts(t, c.Store)["seed_suites"], "the seed is recorded before anything runs")
	assert.Zero(t, counts(t, c.Store)["steppings"])
}

func TestRun_SpawnFailureIsFatal(t *testing.T) {
	cfg := testConfig(t, threeCallTrace(t), "exit 0")
	cfg.Engines[1].Path = filepath.Join(t.TempDir(), "missing-runner")
	c, _ := newCampaign(t, cfg)

	_, err := c.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, supervisor.ErrSpawn)
	assert.EqualValues(t, 1, counts(t, c.Store)["steppings"])
	assert.Zero(t, c.Store.Pending(), "the store is flushed before returning")
}

func TestRun_GeneratorFailureIsFatal(t *testing.T) {
	trace := threeCallTrace(t)
	c, _ := newCampaign(t, testConfig(t, trace, trace))
	boom := errors.New("no such generator")
	c.Spawn = func(context.Context, GeneratorJob) (generator.Source, error) { return nil, boom }

	_, err := c.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRun_InvalidConfig(t *testing.T) {
	trace := threeCallTrace(t)
	cfg := testConfig(t, trace, trace)
	cfg.FlushEvery = 0
	c, _ := newCampaign(t, cfg)

	_, err := c.Run(context.Background())
	assert.Error(t, err)
}

func TestRun_ArgumentSeedsAreReproducible(t *testing.T) {
	trace := threeCallTrace(t)
	seeds := func() []int64 {
		c, _ := newCampaign(t, testConfig(t, trace, trace))
		sum, err := c.Run(context.Background())
		require.NoError(t, err)

		rows, err := c.Store.DB().Query(`
			SELECT ms.argument_seed FROM memory_steppings ms
			JOIN steppings st ON st.id = ms.stepping_id
			WHERE st.seed_suite_id = ? ORDER BY st.step, ms.step`, sum.SeedSuiteID)
		require.NoError(t, err)
		defer rows.Close()
		var out []int64
		for rows.Next() {
			var v int64
			require.NoError(t, rows.Scan(&v))
			out = append(out, v)
		}
		require.NoError(t, rows.Err())
		return out
	}

	first, second := seeds(), seeds()
	assert.Len(t, first, 6)
	assert.Equal(t, first, second)
}

func TestRun_FlushCadence(t *testing.T) {
	trace := threeCallTrace(t)
	cfg := testConfig(t, trace, trace)
	cfg.FlushEvery = 4
	c, _ := newCampaign(t, cfg)

	_, err := c.Run(context.Background())
	require.NoError(t, err)
	// Seed suite, after inner step 4, final.
	assert.Equal(t, 3.0, prom.ToFloat64(c.Metrics.Flushes))
	assert.Equal(t, 6.0, prom.ToFloat64(c.Metrics.MemorySteps))
	assert.Equal(t, 6.0, prom.ToFloat64(c.Metrics.Runs.WithLabelValues("wazero-compiler", "ok")))
	assert.Equal(t, 6.0, prom.ToFloat64(c.Metrics.Comparisons.WithLabelValues("completed")))
}

func TestRun_RemovesWorkDir(t *testing.T) {
	trace := threeCallTrace(t)
	cfg := testConfig(t, trace, trace)
	cfg.Steps, cfg.MemorySteps = 1, 1
	c, _ := newCampaign(t, cfg)

	_, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(cfg.WorkDir, "wasmdiff-run-1"))
}
