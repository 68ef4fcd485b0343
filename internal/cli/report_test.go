package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wasmdiff/internal/compare"
	"github.com/roach88/wasmdiff/internal/ir"
	"github.com/roach88/wasmdiff/internal/store"
	"github.com/roach88/wasmdiff/internal/testutil"
)

var created = time.Unix(1700000000, 0).UTC()

// seedReportStore records two suites: one with a divergent call, one whose
// engines both failed without output.
func seedReportStore(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "campaign.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	memStep := func(suite ir.SeedSuite, step, memStep, argSeed int64) int64 {
		suiteID, err := st.InsertSeedSuite(ctx, suite)
		require.NoError(t, err)
		stepping, err := st.InsertStepping(ctx, ir.Stepping{SeedSuiteID: suiteID, Step: step})
		require.NoError(t, err)
		ms, err := st.InsertMemoryStepping(ctx, ir.MemoryStepping{SteppingID: stepping, Step: memStep, ArgumentSeed: argSeed})
		require.NoError(t, err)
		return ms
	}
	testCase := func(tc ir.TestCase) int64 {
		tc.Timestamp = created
		id, err := st.InsertTestCase(ctx, tc)
		require.NoError(t, err)
		return id
	}

	ms := memStep(ir.SeedSuite{Seed: 42, BlockSize: 4096, GeneratorVersion: ir.GeneratorVersion, RunID: "run-1", CreatedAt: created}, 3, 1, -77)
	tcA := testCase(ir.TestCase{MemorySteppingID: ms, ImplementationID: 1, Success: true})
	tcB := testCase(ir.TestCase{MemorySteppingID: ms, ImplementationID: 2, Success: true})

	wrote := testutil.Call("f1", 1, testutil.Int(2), 6)
	wrote.MemoryDiff = map[string]ir.Pair{"5": {0, 7}}
	rawA, err := ir.EncodeTrace(testutil.Call("f0", 0, testutil.Int(1), 5), wrote)
	require.NoError(t, err)
	rawB, err := ir.EncodeTrace(testutil.Call("f0", 0, testutil.Int(1), 5), testutil.Call("f1", 1, testutil.Int(3), 6))
	require.NoError(t, err)
	_, err = compare.New(st, nil).Compare(ctx, ms,
		compare.Side{TestCaseID: tcA, Raw: rawA},
		compare.Side{TestCaseID: tcB, Raw: rawB})
	require.NoError(t, err)

	ms = memStep(ir.SeedSuite{Seed: -1, BlockSize: 256, GeneratorVersion: ir.GeneratorVersion, RunID: "run-2", CreatedAt: created.Add(time.Hour)}, 0, 0, 5)
	testCase(ir.TestCase{MemorySteppingID: ms, ImplementationID: 1, Timeout: true, ExitCode: -1})
	testCase(ir.TestCase{MemorySteppingID: ms, ImplementationID: 2, Signal: 11, ExitCode: -1})

	require.NoError(t, st.Flush())
	return path
}

func TestReport_Text(t *testing.T) {
	path := seedReportStore(t)

	out, _, err := execute(t, "report", "--db", path)
	require.NoError(t, err)

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "report", []byte(out))
}

func TestReport_JSONSingleSuite(t *testing.T) {
	path := seedReportStore(t)

	out, _, err := execute(t, "--format", "json", "report", "--db", path, "--suite", "1")
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   []SuiteReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 1)

	r := resp.Data[0]
	assert.Equal(t, "run-1", r.Suite.RunID)
	assert.EqualValues(t, 2, r.Calls)
	assert.EqualValues(t, 1, r.DivergentCalls)
	require.Len(t, r.Divergences, 1)
	d := r.Divergences[0]
	assert.Equal(t, ir.Coordinates{Seed: 42, BlockSize: 4096, Step: 3, MemoryStep: 1, ArgumentSeed: -77}, d.Coordinates)
	require.Len(t, d.Engines, 2)
	assert.Equal(t, "wazero-interpreter", d.Engines[0].Implementation)
	assert.EqualValues(t, 1, d.Engines[0].MemoryDiffs)
}

func TestReport_EmptyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, _, err := execute(t, "report", "--db", path)
	require.NoError(t, err)
	assert.Equal(t, "No seed suites found in store.\n", out)
}

func TestReport_Errors(t *testing.T) {
	_, _, err := execute(t, "report", "--db", filepath.Join(t.TempDir(), "missing.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "store not found")

	path := seedReportStore(t)
	_, _, err = execute(t, "report", "--db", path, "--suite", "99")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReport_JSONError(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "report", "--db", filepath.Join(t.TempDir(), "missing.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeStore, resp.Error.Code)
	assert.Equal(t, "store not found", resp.Error.Message)
}
