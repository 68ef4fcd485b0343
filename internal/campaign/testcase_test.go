package campaign

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wasmdiff/internal/ir"
	"github.com/roach88/wasmdiff/internal/supervisor"
	"github.com/roach88/wasmdiff/internal/testutil"
)

func TestNewTestCase(t *testing.T) {
	at := time.Unix(5, 0).UTC()
	clean, err := ir.EncodeTrace(testutil.Call("f0", 0, testutil.Int(1), 1))
	require.NoError(t, err)

	t.Run("clean trace keeps only the digest", func(t *testing.T) {
		tc, err := NewTestCase(3, 2, at, supervisor.Outcome{Success: true, Trace: clean, Elapsed: time.Millisecond})
		require.NoError(t, err)

		assert.Equal(t, int64(3), tc.MemorySteppingID)
		assert.Equal(t, int64(2), tc.ImplementationID)
		assert.Equal(t, at, tc.Timestamp)
		assert.True(t, tc.Success)
		assert.Equal(t, int64(time.Millisecond), tc.ElapsedNS)
		assert.NotEmpty(t, tc.TraceDigest)
		assert.Nil(t, tc.Trace)
	})

	t.Run("empty trace keeps nothing", func(t *testing.T) {
		tc, err := NewTestCase(1, 1, at, supervisor.Outcome{Timeout: true, ExitCode: -1})
		require.NoError(t, err)
		assert.True(t, tc.Timeout)
		assert.Equal(t, -1, tc.ExitCode)
		assert.Empty(t, tc.TraceDigest)
		assert.Nil(t, tc.Trace)
	})

	t.Run("malformed trace is kept raw", func(t *testing.T) {
		raw := []byte("Segmentation fault")
		tc, err := NewTestCase(1, 1, at, supervisor.Outcome{Signal: 11, ExitCode: -1, Trace: raw})
		require.NoError(t, err)
		assert.Equal(t, 11, tc.Signal)
		assert.Empty(t, tc.TraceDigest)
		assert.Equal(t, raw, tc.Trace)
	})

	t.Run("undecodable record is kept raw and digested in place", func(t *testing.T) {
		raw := []byte(`[{"function":"f0","elapsed":"oops"},{"function":"f1","success":true}]`)
		tc, err := NewTestCase(1, 1, at, supervisor.Outcome{Success: true, Trace: raw})
		require.NoError(t, err)
		assert.Equal(t, raw, tc.Trace)

		shifted, err := NewTestCase(1, 1, at, supervisor.Outcome{Success: true, Trace: []byte(`[{"function":"f1","success":true}]`)})
		require.NoError(t, err)
		assert.NotEmpty(t, tc.TraceDigest)
		assert.NotEqual(t, shifted.TraceDigest, tc.TraceDigest)
	})

	t.Run("digest ignores timing", func(t *testing.T) {
		rec := testutil.Call("f0", 0, testutil.Int(1), 1)
		rec.Elapsed = 999
		slow, err := ir.EncodeTrace(rec)
		require.NoError(t, err)

		a, err := NewTestCase(1, 1, at, supervisor.Outcome{Trace: clean})
		require.NoError(t, err)
		b, err := NewTestCase(1, 2, at, supervisor.Outcome{Trace: slow})
		require.NoError(t, err)
		assert.Equal(t, a.TraceDigest, b.TraceDigest)
	})
}
