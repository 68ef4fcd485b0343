package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/roach88/wasmdiff/internal/ir"
	"github.com/roach88/wasmdiff/internal/seed"
)

// Defaults for single-shot runs.
const (
	DefaultInvokeCount = 50
	DefaultMaxDiff     = 4096
)

// RunOptions configures a single-shot run.
type RunOptions struct {
	// ArgumentSeed drives function selection and argument values.
	ArgumentSeed int64

	// InvokeCount bounds the number of calls.
	InvokeCount int

	// MaxDiff caps MemoryDiff entries per call; <= 0 means no cap.
	MaxDiff int

	// Globals sets exported mutable globals after the memory import.
	Globals map[string]ir.Bits

	// Now is the clock used for elapsed time. Defaults to time.Now.
	Now func() time.Time
}

// RunSingle imports image into eng, applies opts.Globals and performs
// InvokeCount calls selected from the argument seed, writing one trace record
// per call.
//
// The trace is closed on normal completion. When ctx is cancelled the run
// stops between calls and the array is left open, as it would be for a
// killed runner.
func RunSingle(ctx context.Context, eng Engine, image []byte, opts RunOptions, tw *ir.TraceWriter) error {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.InvokeCount < 0 {
		return fmt.Errorf("invoke count must be non-negative, got %d", opts.InvokeCount)
	}

	if err := eng.ImportMemory(image); err != nil {
		return fmt.Errorf("import memory: %w", err)
	}
	if err := ApplyGlobals(eng, opts.Globals); err != nil {
		return fmt.Errorf("set globals: %w", err)
	}

	fns := eng.Functions()
	if len(fns) == 0 {
		return tw.Close()
	}

	args := seed.NewArgStream(opts.ArgumentSeed)
	for range opts.InvokeCount {
		if err := ctx.Err(); err != nil {
			return err
		}

		fn := fns[args.Select(len(fns))]
		vals := args.Values(fn.Params)

		memBefore := eng.Memory()
		globBefore, err := SnapshotGlobals(eng)
		if err != nil {
			return fmt.Errorf("snapshot globals: %w", err)
		}

		start := now()
		result, callErr := eng.Invoke(ctx, fn.Name, vals)
		elapsed := now().Sub(start)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rec := ir.CallRecord{
			Function: ir.Name(fn.Name),
			Ordinal:  fn.Ordinal,
			Args:     make([]ir.Bits, len(vals)),
			Elapsed:  ir.Bits(elapsed.Nanoseconds()),
			Success:  callErr == nil,
		}
		for i, v := range vals {
			rec.Args[i] = ir.Bits(v.Int64())
		}
		if callErr == nil && !result.IsVoid() {
			b := ir.Bits(result.Int64())
			rec.Result = &b
		}

		rec.MemoryDiff = DiffMemory(memBefore, eng.Memory(), opts.MaxDiff)
		globAfter, err := SnapshotGlobals(eng)
		if err != nil {
			return fmt.Errorf("snapshot globals: %w", err)
		}
		rec.GlobalDiff = DiffGlobals(globBefore, globAfter)

		if err := tw.Write(rec); err != nil {
			return err
		}
	}
	return tw.Close()
}

// ListFunctions writes one line per exported function in selection order.
func ListFunctions(w io.Writer, eng Engine) error {
	for _, f := range eng.Functions() {
		if _, err := fmt.Fprintf(w, "%d\t%s\t%s\n", f.Ordinal, f.Name, f.Signature()); err != nil {
			return err
		}
	}
	for _, g := range eng.Globals() {
		v, err := eng.Global(g)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "global\t%s\t%s\n", g, v.Describe()); err != nil {
			return err
		}
	}
	return nil
}
