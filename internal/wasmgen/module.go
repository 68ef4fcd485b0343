package wasmgen

import (
	"fmt"

	"github.com/roach88/wasmdiff/internal/ir"
)

// Shape limits.
const (
	MaxPages   = 4
	MaxGlobals = 6
	MaxFuncs   = 8
	MaxParams  = 4

	maxDepth      = 4
	maxStatements = 6
)

// MemoryExport is the export name of the module's linear memory.
const MemoryExport = "memory"

// Global is one exported mutable global.
type Global struct {
	Name string
	Init ir.Value
}

// Func is one exported function.
type Func struct {
	Name   string
	Params []ir.Kind
	Result ir.Kind
	Body   []byte
}

// Module is a generated module before encoding.
type Module struct {
	Pages   uint32
	Globals []Global
	Funcs   []Func
}

// MemoryBytes returns the size of the module's linear memory.
func (m *Module) MemoryBytes() int {
	return int(m.Pages) * 65536
}

// Generate builds a module from block.
func Generate(block []byte) *Module {
	c := NewCursor(block)
	m := &Module{Pages: uint32(1 + c.Intn(MaxPages))}

	nglobals := 1 + c.Intn(MaxGlobals)
	for i := range nglobals {
		k := randomKind(c)
		m.Globals = append(m.Globals, Global{
			Name: fmt.Sprintf("g%d", i),
			Init: randomConst(c, k),
		})
	}

	nfuncs := 1 + c.Intn(MaxFuncs)
	for i := range nfuncs {
		f := Func{Name: fmt.Sprintf("f%d", i)}
		for range c.Intn(MaxParams + 1) {
			f.Params = append(f.Params, randomKind(c))
		}
		if !c.Chance(5) {
			f.Result = randomKind(c)
		}
		m.Funcs = append(m.Funcs, f)
	}

	// Bodies are built after every signature exists so the
	// cursor order stays stable if body generation changes.
	for i := range m.Funcs {
		b := &bodyBuilder{c: c, mod: m, params: m.Funcs[i].Params}
		m.Funcs[i].Body = b.build(m.Funcs[i].Result)
	}
	return m
}

// Build generates and encodes the module for block.
func Build(block []byte) ([]byte, *Module) {
	m := Generate(block)
	return m.Encode(), m
}

func randomKind(c *Cursor) ir.Kind {
	return ir.Kinds[c.Intn(len(ir.Kinds))]
}
