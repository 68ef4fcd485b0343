package engine

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/wasmdiff/internal/ir"
)

// Function describes one exported function.
type Function struct {
	Name    string
	Ordinal int
	Params  []ir.Kind
	Result  ir.Kind
}

// Signature renders the function type in text-format style.
func (f Function) Signature() string {
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = p.String()
	}
	return fmt.Sprintf("(%s) -> %s", strings.Join(params, ", "), f.Result)
}

// Engine is the capability set a runner drives.
//
// Implementations are not safe for concurrent use; a runner owns exactly one
// engine for its lifetime.
type Engine interface {
	// Name identifies the engine in logs and listings.
	Name() string

	// Functions returns the exported functions sorted by name descending,
	// with Ordinal set to the position in that order.
	Functions() []Function

	// ImportMemory copies image into linear memory from offset 0. Bytes
	// beyond the memory size are ignored.
	ImportMemory(image []byte) error

	// Memory returns a copy of linear memory.
	Memory() []byte

	// Globals returns the exported global names in export order.
	Globals() []string

	// Global reads an exported global.
	Global(name string) (ir.Value, error)

	// SetGlobal writes an exported mutable global.
	SetGlobal(name string, v ir.Value) error

	// Invoke calls an exported function. A trap is reported as an error;
	// the engine remains usable afterward.
	Invoke(ctx context.Context, name string, args []ir.Value) (ir.Value, error)

	// Close releases the engine.
	Close(ctx context.Context) error
}

// sortFunctions orders functions by name descending and assigns ordinals.
func sortFunctions(fns []Function) []Function {
	slices.SortFunc(fns, func(a, b Function) int { return strings.Compare(b.Name, a.Name) })
	for i := range fns {
		fns[i].Ordinal = i
	}
	return fns
}

// SnapshotGlobals reads every exported global.
func SnapshotGlobals(e Engine) (map[string]ir.Value, error) {
	names := e.Globals()
	snap := make(map[string]ir.Value, len(names))
	for _, name := range names {
		v, err := e.Global(name)
		if err != nil {
			return nil, err
		}
		snap[name] = v
	}
	return snap, nil
}

// ApplyGlobals sets each named global to the given bit pattern, read in the
// global's own kind. Globals are set in name order.
func ApplyGlobals(e Engine, globals map[string]ir.Bits) error {
	for _, name := range slices.Sorted(maps.Keys(globals)) {
		cur, err := e.Global(name)
		if err != nil {
			return err
		}
		if err := e.SetGlobal(name, ir.FromBits(cur.Kind, uint64(globals[name]))); err != nil {
			return err
		}
	}
	return nil
}
