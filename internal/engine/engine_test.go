package engine

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wasmdiff/internal/ir"
	"github.com/roach88/wasmdiff/internal/wasmgen"
)

// handModule builds a module with known behavior:
//
//	f0(i32, i32) -> i32   returns a + b
//	f1() -> void          stores byte 7 at address 5
//	f2() -> void          sets g0 to 9
//	f3(i32) -> i32        returns 1 / a (traps on zero)
func handModule() []byte {
	m := &wasmgen.Module{
		Pages:   1,
		Globals: []wasmgen.Global{{Name: "g0", Init: ir.I64(1)}},
		Funcs: []wasmgen.Func{
			{Name: "f0", Params: []ir.Kind{ir.KindI32, ir.KindI32}, Result: ir.KindI32,
				Body: []byte{0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b}},
			{Name: "f1", Result: ir.KindVoid,
				Body: []byte{0x41, 0x05, 0x41, 0x07, 0x3a, 0x00, 0x00, 0x0b}},
			{Name: "f2", Result: ir.KindVoid,
				Body: []byte{0x42, 0x09, 0x24, 0x00, 0x0b}},
			{Name: "f3", Params: []ir.Kind{ir.KindI32}, Result: ir.KindI32,
				Body: []byte{0x41, 0x01, 0x20, 0x00, 0x6d, 0x0b}},
		},
	}
	return m.Encode()
}

func newInterpreter(t *testing.T, bin []byte) *Wazero {
	t.Helper()
	ctx := context.Background()
	w, err := NewWazero(ctx, ModeInterpreter, bin)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close(ctx) })
	return w
}

func TestWazeroFunctionsSortedDescending(t *testing.T) {
	w := newInterpreter(t, handModule())

	fns := w.Functions()
	require.Len(t, fns, 4)
	names := []string{fns[0].Name, fns[1].Name, fns[2].Name, fns[3].Name}
	assert.Equal(t, []string{"f3", "f2", "f1", "f0"}, names)
	for i, f := range fns {
		assert.Equal(t, i, f.Ordinal)
	}
	assert.Equal(t, "(i32, i32) -> i32", fns[3].Signature())
	assert.Equal(t, []string{"g0"}, w.Globals())
}

func TestWazeroInvoke(t *testing.T) {
	ctx := context.Background()
	w := newInterpreter(t, handModule())

	v, err := w.Invoke(ctx, "f0", []ir.Value{ir.I32(0xffffffff), ir.I32(3)})
	require.NoError(t, err)
	assert.Equal(t, ir.I32(2), v, "i32 arithmetic wraps")

	v, err = w.Invoke(ctx, "f1", nil)
	require.NoError(t, err)
	assert.True(t, v.IsVoid())
	assert.Equal(t, byte(7), w.Memory()[5])

	_, err = w.Invoke(ctx, "f2", nil)
	require.NoError(t, err)
	g, err := w.Global("g0")
	require.NoError(t, err)
	assert.Equal(t, ir.I64(9), g)
}

func TestWazeroTrapLeavesEngineUsable(t *testing.T) {
	ctx := context.Background()
	w := newInterpreter(t, handModule())

	_, err := w.Invoke(ctx, "f3", []ir.Value{ir.I32(0)})
	require.Error(t, err, "division by zero traps")

	v, err := w.Invoke(ctx, "f3", []ir.Value{ir.I32(1)})
	require.NoError(t, err)
	assert.Equal(t, ir.I32(1), v)
}

func TestWazeroInvokeErrors(t *testing.T) {
	ctx := context.Background()
	w := newInterpreter(t, handModule())

	_, err := w.Invoke(ctx, "nope", nil)
	assert.True(t, IsInvokeError(err, ErrCodeUnknownExport))

	_, err = w.Invoke(ctx, "f0", []ir.Value{ir.I32(1)})
	assert.True(t, IsInvokeError(err, ErrCodeArity))

	_, err = w.Invoke(ctx, "f0", []ir.Value{ir.I64(1), ir.I32(1)})
	assert.True(t, IsInvokeError(err, ErrCodeKind))

	err = w.SetGlobal("g0", ir.I32(1))
	assert.True(t, IsInvokeError(err, ErrCodeKind))

	require.NoError(t, w.SetGlobal("g0", ir.I64(42)))
	g, err := w.Global("g0")
	require.NoError(t, err)
	assert.Equal(t, ir.I64(42), g)
}

func TestWazeroImportMemory(t *testing.T) {
	w := newInterpreter(t, handModule())

	require.NoError(t, w.ImportMemory(bytes.Repeat([]byte{0x01}, 2*65536)))
	mem := w.Memory()
	assert.Len(t, mem, 65536, "oversized images are truncated to memory size")
	assert.Equal(t, byte(0x01), mem[65535])

	mem[0] = 0xff
	assert.Equal(t, byte(0x01), w.Memory()[0], "Memory returns a copy")
}

func TestCompilerMatchesInterpreterOnHandModule(t *testing.T) {
	if !CompilerSupported() {
		t.Skip("wazero compiler not supported on this platform")
	}
	ctx := context.Background()
	bin := handModule()

	traces := make([][]byte, 0, 2)
	for _, mode := range []Mode{ModeInterpreter, ModeCompiler} {
		w, err := NewWazero(ctx, mode, bin)
		require.NoError(t, err)

		var buf bytes.Buffer
		err = RunSingle(ctx, w, nil, RunOptions{ArgumentSeed: 11, InvokeCount: 20, Now: fixedClock()}, ir.NewTraceWriter(&buf))
		require.NoError(t, err)
		require.NoError(t, w.Close(ctx))
		traces = append(traces, buf.Bytes())
	}
	assert.Equal(t, string(traces[0]), string(traces[1]))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("compiler")
	require.NoError(t, err)
	assert.Equal(t, ModeCompiler, m)

	_, err = ParseMode("jit")
	assert.Error(t, err)
}

func TestNewWazeroRejectsInvalidModule(t *testing.T) {
	_, err := NewWazero(context.Background(), ModeInterpreter, []byte("junk"))
	assert.Error(t, err)
}

// fixedClock advances one microsecond per reading.
func fixedClock() func() time.Time {
	t := time.Unix(0, 0)
	return func() time.Time {
		t = t.Add(time.Microsecond)
		return t
	}
}

var errTrap = errors.New("trap")
