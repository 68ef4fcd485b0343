package seed

import (
	"math/rand/v2"

	"github.com/roach88/wasmdiff/internal/ir"
)

const selectionSalt = 0x73656c6563742d31

// ArgStream is the per-memory-step source of function selections and
// argument values. Both engines build one from the same argument seed, so
// they make identical choices as long as they see the same function list.
type ArgStream struct {
	r *rand.Rand
}

// NewArgStream returns the stream for argSeed.
func NewArgStream(argSeed int64) *ArgStream {
	return &ArgStream{r: rand.New(rand.NewPCG(uint64(argSeed), selectionSalt))}
}

// Select picks an index in [0, n) from a 16-bit draw.
func (a *ArgStream) Select(n int) int {
	if n <= 0 {
		return 0
	}
	return int(uint16(a.r.Uint32())) % n
}

// Value draws a kind-sized random bit pattern.
func (a *ArgStream) Value(k ir.Kind) ir.Value {
	switch k {
	case ir.KindI32:
		return ir.I32(a.r.Uint32())
	case ir.KindI64:
		return ir.I64(a.r.Uint64())
	case ir.KindF32:
		return ir.FromBits(ir.KindF32, uint64(a.r.Uint32()))
	case ir.KindF64:
		return ir.FromBits(ir.KindF64, a.r.Uint64())
	default:
		return ir.Void()
	}
}

// Values draws one value per kind, in order.
func (a *ArgStream) Values(kinds []ir.Kind) []ir.Value {
	out := make([]ir.Value, len(kinds))
	for i, k := range kinds {
		out[i] = a.Value(k)
	}
	return out
}
