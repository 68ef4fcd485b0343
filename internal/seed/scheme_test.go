package seed

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wasmdiff/internal/ir"
)

func TestBlockIsDeterministic(t *testing.T) {
	s, err := NewScheme(42, 256)
	require.NoError(t, err)

	a, err := s.Block(3)
	require.NoError(t, err)
	b, err := s.Block(3)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 256)
}

func TestBlocksDoNotOverlap(t *testing.T) {
	s, err := NewScheme(7, 64)
	require.NoError(t, err)
	wide, err := NewScheme(7, 128)
	require.NoError(t, err)

	b0, err := s.Block(0)
	require.NoError(t, err)
	b1, err := s.Block(1)
	require.NoError(t, err)
	w0, err := wide.Block(0)
	require.NoError(t, err)

	// Two consecutive 64-byte blocks tile the first 128-byte block.
	assert.Equal(t, w0, append(bytes.Clone(b0), b1...))
	assert.NotEqual(t, b0, b1)
}

func TestStreamMatchesBlock(t *testing.T) {
	s, err := NewScheme(-9, 100)
	require.NoError(t, err)

	st := s.Stream()
	for i := int64(0); i < 5; i++ {
		step, got := st.Next()
		assert.Equal(t, i, step)

		want, err := s.Block(i)
		require.NoError(t, err)
		assert.Equal(t, want, got, "step %d", i)
	}
	assert.Equal(t, int64(5), st.Step())
}

func TestSeedsDiffer(t *testing.T) {
	a, _ := NewScheme(1, 32)
	b, _ := NewScheme(2, 32)

	ba, err := a.Block(0)
	require.NoError(t, err)
	bb, err := b.Block(0)
	require.NoError(t, err)
	assert.NotEqual(t, ba, bb)
}

func TestNewSchemeRejectsBadBlockSize(t *testing.T) {
	_, err := NewScheme(1, 0)
	assert.Error(t, err)

	s, _ := NewScheme(1, 8)
	_, err = s.Block(-1)
	assert.Error(t, err)
}

func TestArgumentsReproducible(t *testing.T) {
	a := NewArguments(99)
	b := NewArguments(99)
	c := NewArguments(100)

	var sa, sc []int64
	for range 10 {
		x := a.Next()
		assert.Equal(t, x, b.Next())
		sa = append(sa, x)
		sc = append(sc, c.Next())
	}
	assert.NotEqual(t, sa, sc)
}

func TestFromClock(t *testing.T) {
	now := time.Unix(1700000000, 5)
	assert.Equal(t, now.UnixNano(), FromClock(now))
}

func TestImageCatalogue(t *testing.T) {
	s, _ := NewScheme(5, 64)
	block, err := s.Block(0)
	require.NoError(t, err)

	zero := Image(block, 0, 1)
	assert.Len(t, zero, PageSize)
	assert.Equal(t, make([]byte, PageSize), zero)

	ones := Image(block, 1, 2)
	assert.Len(t, ones, 2*PageSize)
	assert.Equal(t, bytes.Repeat([]byte{0x01}, 2*PageSize), ones)

	r2, r3, r4 := Image(block, 2, 1), Image(block, 3, 1), Image(block, 4, 1)
	assert.NotEqual(t, r2, r3)
	assert.NotEqual(t, r3, r4)
	assert.NotEqual(t, zero, r2)

	assert.Equal(t, r2, Image(block, 2, 1), "images are reproducible")
	assert.Equal(t, zero, Image(block, CatalogueSize, 1), "memory steps wrap")
	assert.Equal(t, r3, Image(block, CatalogueSize+3, 1))
}

func TestImageDependsOnBlock(t *testing.T) {
	s, _ := NewScheme(5, 64)
	b0, _ := s.Block(0)
	b1, _ := s.Block(1)

	assert.NotEqual(t, Image(b0, 2, 1), Image(b1, 2, 1))
	// A short block falls back to fixed seeds instead of failing.
	assert.Len(t, Image(nil, 4, 1), PageSize)
}

func TestImageKind(t *testing.T) {
	assert.Equal(t, "zero", ImageKind(0))
	assert.Equal(t, "ones", ImageKind(1))
	assert.Equal(t, "random", ImageKind(4))
	assert.Equal(t, "zero", ImageKind(5))
}

func TestArgStreamReproducible(t *testing.T) {
	kinds := []ir.Kind{ir.KindI32, ir.KindI64, ir.KindF32, ir.KindF64}

	a := NewArgStream(1234)
	b := NewArgStream(1234)
	for range 20 {
		assert.Equal(t, a.Select(7), b.Select(7))
		assert.Equal(t, a.Values(kinds), b.Values(kinds))
	}
}

func TestArgStreamValueKinds(t *testing.T) {
	a := NewArgStream(1)
	for range 50 {
		v := a.Value(ir.KindI32)
		assert.Equal(t, ir.KindI32, v.Kind)
		assert.LessOrEqual(t, v.Bits, uint64(0xffffffff))

		f := a.Value(ir.KindF32)
		assert.LessOrEqual(t, f.Bits, uint64(0xffffffff))
	}
	assert.True(t, a.Value(ir.KindVoid).IsVoid())
}

func TestArgStreamSelectRange(t *testing.T) {
	a := NewArgStream(77)
	seen := map[int]bool{}
	for range 500 {
		i := a.Select(4)
		require.GreaterOrEqual(t, i, 0)
		require.Less(t, i, 4)
		seen[i] = true
	}
	assert.Len(t, seen, 4)
	assert.Equal(t, 0, a.Select(0))
}

func TestStreamAtMatchesBlock(t *testing.T) {
	s, err := NewScheme(-5, 100)
	require.NoError(t, err)

	st, err := s.StreamAt(4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.Step())

	for want := int64(4); want < 7; want++ {
		step, block := st.Next()
		assert.Equal(t, want, step)
		expected, err := s.Block(want)
		require.NoError(t, err)
		assert.Equal(t, expected, block)
	}

	_, err = s.StreamAt(-1)
	assert.Error(t, err)
}
