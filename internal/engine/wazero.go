package engine

import (
	"context"
	"fmt"
	"runtime"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/roach88/wasmdiff/internal/ir"
	"github.com/roach88/wasmdiff/internal/wasmgen"
)

// Mode selects the wazero execution strategy.
type Mode string

const (
	ModeInterpreter Mode = "interpreter"
	ModeCompiler    Mode = "compiler"
)

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeInterpreter, ModeCompiler:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown engine mode %q (want %q or %q)", s, ModeInterpreter, ModeCompiler)
	}
}

// CompilerSupported reports whether wazero can compile to native code on
// this platform.
func CompilerSupported() bool {
	switch runtime.GOARCH {
	case "amd64", "arm64":
	default:
		return false
	}
	switch runtime.GOOS {
	case "linux", "darwin", "windows", "freebsd", "netbsd", "dragonfly", "solaris", "illumos":
		return true
	default:
		return false
	}
}

// Wazero runs one module instance on a wazero runtime.
type Wazero struct {
	mode    Mode
	rt      wazero.Runtime
	mod     api.Module
	funcs   []Function
	globals []string
}

var _ Engine = (*Wazero)(nil)

// NewWazero compiles and instantiates bin.
func NewWazero(ctx context.Context, mode Mode, bin []byte) (*Wazero, error) {
	var cfg wazero.RuntimeConfig
	switch mode {
	case ModeInterpreter:
		cfg = wazero.NewRuntimeConfigInterpreter()
	case ModeCompiler:
		if !CompilerSupported() {
			return nil, fmt.Errorf("wazero compiler is not supported on %s/%s", runtime.GOOS, runtime.GOARCH)
		}
		cfg = wazero.NewRuntimeConfigCompiler()
	default:
		return nil, fmt.Errorf("unknown engine mode %q", mode)
	}
	cfg = cfg.WithCloseOnContextDone(true)

	info, err := wasmgen.Inspect(bin)
	if err != nil {
		return nil, fmt.Errorf("inspect module: %w", err)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, cfg)
	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("compile module: %w", err)
	}

	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("subject"))
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate module: %w", err)
	}

	var funcs []Function
	for name, def := range compiled.ExportedFunctions() {
		f := Function{Name: name}
		for _, p := range def.ParamTypes() {
			k, err := kindOf(p)
			if err != nil {
				rt.Close(ctx)
				return nil, fmt.Errorf("function %s: %w", name, err)
			}
			f.Params = append(f.Params, k)
		}
		switch results := def.ResultTypes(); len(results) {
		case 0:
			f.Result = ir.KindVoid
		case 1:
			if f.Result, err = kindOf(results[0]); err != nil {
				rt.Close(ctx)
				return nil, fmt.Errorf("function %s: %w", name, err)
			}
		default:
			rt.Close(ctx)
			return nil, fmt.Errorf("function %s: multi-value results are not supported", name)
		}
		funcs = append(funcs, f)
	}

	return &Wazero{
		mode:    mode,
		rt:      rt,
		mod:     mod,
		funcs:   sortFunctions(funcs),
		globals: info.Globals(),
	}, nil
}

func kindOf(t api.ValueType) (ir.Kind, error) {
	switch t {
	case api.ValueTypeI32:
		return ir.KindI32, nil
	case api.ValueTypeI64:
		return ir.KindI64, nil
	case api.ValueTypeF32:
		return ir.KindF32, nil
	case api.ValueTypeF64:
		return ir.KindF64, nil
	default:
		return ir.KindVoid, fmt.Errorf("unsupported value type %s", api.ValueTypeName(t))
	}
}

// Name returns "wazero-<mode>".
func (w *Wazero) Name() string { return "wazero-" + string(w.mode) }

// Functions implements Engine.
func (w *Wazero) Functions() []Function { return w.funcs }

// Globals implements Engine.
func (w *Wazero) Globals() []string { return w.globals }

func (w *Wazero) memory() (api.Memory, error) {
	mem := w.mod.ExportedMemory(wasmgen.MemoryExport)
	if mem == nil {
		return nil, &InvokeError{Code: ErrCodeUnknownExport, Function: wasmgen.MemoryExport, Message: "module exports no memory"}
	}
	return mem, nil
}

// ImportMemory implements Engine.
func (w *Wazero) ImportMemory(image []byte) error {
	mem, err := w.memory()
	if err != nil {
		return err
	}
	n := min(uint32(len(image)), mem.Size())
	if !mem.Write(0, image[:n]) {
		return fmt.Errorf("write %d bytes of memory image", n)
	}
	return nil
}

// Memory implements Engine.
func (w *Wazero) Memory() []byte {
	mem, err := w.memory()
	if err != nil {
		return nil
	}
	view, _ := mem.Read(0, mem.Size())
	out := make([]byte, len(view))
	copy(out, view)
	return out
}

func (w *Wazero) global(name string) (api.Global, error) {
	g := w.mod.ExportedGlobal(name)
	if g == nil {
		return nil, &InvokeError{Code: ErrCodeUnknownExport, Function: name, Message: "no such global"}
	}
	return g, nil
}

// Global implements Engine.
func (w *Wazero) Global(name string) (ir.Value, error) {
	g, err := w.global(name)
	if err != nil {
		return ir.Value{}, err
	}
	k, err := kindOf(g.Type())
	if err != nil {
		return ir.Value{}, err
	}
	return ir.FromBits(k, g.Get()), nil
}

// SetGlobal implements Engine.
func (w *Wazero) SetGlobal(name string, v ir.Value) error {
	g, err := w.global(name)
	if err != nil {
		return err
	}
	mg, ok := g.(api.MutableGlobal)
	if !ok {
		return &InvokeError{Code: ErrCodeImmutable, Function: name, Message: "global is immutable"}
	}
	if k, _ := kindOf(g.Type()); k != v.Kind {
		return &InvokeError{Code: ErrCodeKind, Function: name, Message: fmt.Sprintf("want %s, got %s", k, v.Kind)}
	}
	mg.Set(v.Bits)
	return nil
}

// Invoke implements Engine.
func (w *Wazero) Invoke(ctx context.Context, name string, args []ir.Value) (ir.Value, error) {
	var fn *Function
	for i := range w.funcs {
		if w.funcs[i].Name == name {
			fn = &w.funcs[i]
			break
		}
	}
	if fn == nil {
		return ir.Value{}, &InvokeError{Code: ErrCodeUnknownExport, Function: name, Message: "no such function"}
	}
	if len(args) != len(fn.Params) {
		return ir.Value{}, &InvokeError{Code: ErrCodeArity, Function: name,
			Message: fmt.Sprintf("want %d arguments, got %d", len(fn.Params), len(args))}
	}

	params := make([]uint64, len(args))
	for i, a := range args {
		if a.Kind != fn.Params[i] {
			return ir.Value{}, &InvokeError{Code: ErrCodeKind, Function: name,
				Message: fmt.Sprintf("argument %d: want %s, got %s", i, fn.Params[i], a.Kind)}
		}
		params[i] = a.Bits
	}

	results, err := w.mod.ExportedFunction(name).Call(ctx, params...)
	if err != nil {
		return ir.Value{}, err
	}
	if fn.Result == ir.KindVoid || len(results) == 0 {
		return ir.Void(), nil
	}
	return ir.FromBits(fn.Result, results[0]), nil
}

// Close implements Engine.
func (w *Wazero) Close(ctx context.Context) error {
	return w.rt.Close(ctx)
}
