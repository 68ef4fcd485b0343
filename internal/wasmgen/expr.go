package wasmgen

import (
	"math"

	"github.com/roach88/wasmdiff/internal/ir"
)

const (
	opDrop      = 0x1a
	opSelect    = 0x1b
	opLocalGet  = 0x20
	opGlobalGet = 0x23
	opGlobalSet = 0x24
	opI32And    = 0x71
	opEnd       = 0x0b
)

// Opcode tables per kind.
var (
	loadOps = map[ir.Kind][]byte{
		ir.KindI32: {0x28, 0x2c, 0x2d, 0x2e, 0x2f},
		ir.KindI64: {0x29, 0x30, 0x31, 0x32, 0x33, 0x34, 0x35},
		ir.KindF32: {0x2a},
		ir.KindF64: {0x2b},
	}
	storeOps = map[ir.Kind][]byte{
		ir.KindI32: {0x36, 0x3a, 0x3b},
		ir.KindI64: {0x37, 0x3c, 0x3d, 0x3e},
		ir.KindF32: {0x38},
		ir.KindF64: {0x39},
	}
	unaryOps = map[ir.Kind][]byte{
		ir.KindI32: {0x67, 0x68, 0x69},
		ir.KindI64: {0x79, 0x7a, 0x7b},
		ir.KindF32: {0x8b, 0x8c, 0x8d, 0x8e, 0x8f, 0x90, 0x91},
		ir.KindF64: {0x99, 0x9a, 0x9b, 0x9c, 0x9d, 0x9e, 0x9f},
	}
	binaryOps = map[ir.Kind][]byte{
		ir.KindI32: opRange(0x6a, 0x78),
		ir.KindI64: opRange(0x7c, 0x8a),
		ir.KindF32: opRange(0x92, 0x98),
		ir.KindF64: opRange(0xa0, 0xa6),
	}
	// compareOps produce an i32 from two operands of the keyed kind.
	compareOps = map[ir.Kind][]byte{
		ir.KindI32: opRange(0x46, 0x4f),
		ir.KindI64: opRange(0x51, 0x5a),
		ir.KindF32: opRange(0x5b, 0x60),
		ir.KindF64: opRange(0x61, 0x66),
	}
	eqzOps = map[ir.Kind]byte{
		ir.KindI32: 0x45,
		ir.KindI64: 0x50,
	}
)

type conversion struct {
	from ir.Kind
	op   byte
}

// conversions lists every single-operand conversion into the keyed kind.
// The float-to-int truncations trap on NaN and out-of-range inputs.
var conversions = map[ir.Kind][]conversion{
	ir.KindI32: {
		{ir.KindI64, 0xa7},
		{ir.KindF32, 0xa8}, {ir.KindF32, 0xa9},
		{ir.KindF64, 0xaa}, {ir.KindF64, 0xab},
		{ir.KindF32, 0xbc},
	},
	ir.KindI64: {
		{ir.KindI32, 0xac}, {ir.KindI32, 0xad},
		{ir.KindF32, 0xae}, {ir.KindF32, 0xaf},
		{ir.KindF64, 0xb0}, {ir.KindF64, 0xb1},
		{ir.KindF64, 0xbd},
	},
	ir.KindF32: {
		{ir.KindI32, 0xb2}, {ir.KindI32, 0xb3},
		{ir.KindI64, 0xb4}, {ir.KindI64, 0xb5},
		{ir.KindF64, 0xb6},
		{ir.KindI32, 0xbe},
	},
	ir.KindF64: {
		{ir.KindI32, 0xb7}, {ir.KindI32, 0xb8},
		{ir.KindI64, 0xb9}, {ir.KindI64, 0xba},
		{ir.KindF32, 0xbb},
		{ir.KindI64, 0xbf},
	},
}

func opRange(lo, hi byte) []byte {
	ops := make([]byte, 0, int(hi-lo)+1)
	for op := lo; op <= hi; op++ {
		ops = append(ops, op)
	}
	return ops
}

// Edge-case constants mixed into the random ones.
var (
	interestingI32 = []uint32{0, 1, math.MaxUint32, 0x80000000, 0x7fffffff, 0x80, 0xff, 0xffff}
	interestingI64 = []uint64{0, 1, math.MaxUint64, 1 << 63, 1<<63 - 1, 0x80000000, 0xffffffff}
	interestingF32 = []uint64{
		f32Bits(0), f32Bits(float32(math.Copysign(0, -1))), f32Bits(1), f32Bits(-1.5),
		f32Bits(float32(math.Inf(1))), f32Bits(float32(math.Inf(-1))),
		0x7fc00000, 0x7fa00000, 0xffc00001, 0x00000001, 0x4f000000,
	}
	interestingF64 = []uint64{
		math.Float64bits(0), math.Float64bits(math.Copysign(0, -1)), math.Float64bits(1),
		math.Float64bits(math.Inf(1)), math.Float64bits(math.Inf(-1)),
		0x7ff8000000000000, 0x7ff4000000000000, 0xfff8000000000001, 0x0000000000000001,
		math.Float64bits(2147483648), math.Float64bits(-9223372036854775808),
	}
)

func randomConst(c *Cursor, k ir.Kind) ir.Value {
	pick := c.Chance(3)
	switch k {
	case ir.KindI32:
		if pick {
			return ir.I32(interestingI32[c.Intn(len(interestingI32))])
		}
		return ir.I32(c.U32())
	case ir.KindI64:
		if pick {
			return ir.I64(interestingI64[c.Intn(len(interestingI64))])
		}
		return ir.I64(c.U64())
	case ir.KindF32:
		if pick {
			return ir.FromBits(ir.KindF32, interestingF32[c.Intn(len(interestingF32))])
		}
		return ir.FromBits(ir.KindF32, uint64(c.U32()))
	case ir.KindF64:
		if pick {
			return ir.FromBits(ir.KindF64, interestingF64[c.Intn(len(interestingF64))])
		}
		return ir.FromBits(ir.KindF64, c.U64())
	default:
		return ir.Void()
	}
}

// bodyBuilder emits one function body.
type bodyBuilder struct {
	c      *Cursor
	mod    *Module
	params []ir.Kind
	out    encoder
}

func (b *bodyBuilder) build(result ir.Kind) []byte {
	for range b.c.Intn(maxStatements + 1) {
		b.statement()
	}
	if result != ir.KindVoid {
		b.expr(result, 0)
	}
	b.out.byte(opEnd)
	return b.out.bytesOut()
}

// statement emits an instruction sequence that leaves the stack unchanged.
func (b *bodyBuilder) statement() {
	switch b.c.Intn(4) {
	case 0, 1:
		k := randomKind(b.c)
		b.address(1)
		b.expr(k, 1)
		ops := storeOps[k]
		b.out.byte(ops[b.c.Intn(len(ops))])
		b.out.memarg(0)
	case 2:
		g := b.c.Intn(len(b.mod.Globals))
		b.expr(b.mod.Globals[g].Init.Kind, 1)
		b.out.byte(opGlobalSet)
		b.out.u32(uint32(g))
	default:
		b.expr(randomKind(b.c), 1)
		b.out.byte(opDrop)
	}
}

// expr emits an expression producing one value of kind k.
func (b *bodyBuilder) expr(k ir.Kind, depth int) {
	if depth >= maxDepth {
		b.leaf(k)
		return
	}
	switch b.c.Intn(9) {
	case 0, 1:
		b.leaf(k)
	case 2:
		b.address(depth + 1)
		ops := loadOps[k]
		b.out.byte(ops[b.c.Intn(len(ops))])
		b.out.memarg(0)
	case 3:
		b.expr(k, depth+1)
		ops := unaryOps[k]
		b.out.byte(ops[b.c.Intn(len(ops))])
	case 4, 5:
		b.expr(k, depth+1)
		b.expr(k, depth+1)
		ops := binaryOps[k]
		b.out.byte(ops[b.c.Intn(len(ops))])
	case 6:
		if k == ir.KindI32 {
			b.compare(depth)
			return
		}
		b.convert(k, depth)
	case 7:
		b.convert(k, depth)
	default:
		b.expr(k, depth+1)
		b.expr(k, depth+1)
		b.expr(ir.KindI32, depth+1)
		b.out.byte(opSelect)
	}
}

func (b *bodyBuilder) leaf(k ir.Kind) {
	switch b.c.Intn(3) {
	case 1:
		if idx, ok := pickIndex(b.c, len(b.params), func(i int) bool { return b.params[i] == k }); ok {
			b.out.byte(opLocalGet)
			b.out.u32(uint32(idx))
			return
		}
	case 2:
		globals := b.mod.Globals
		if idx, ok := pickIndex(b.c, len(globals), func(i int) bool { return globals[i].Init.Kind == k }); ok {
			b.out.byte(opGlobalGet)
			b.out.u32(uint32(idx))
			return
		}
	}
	b.out.constant(randomConst(b.c, k))
}

// pickIndex chooses uniformly among the indices in [0, n) accepted by match.
func pickIndex(c *Cursor, n int, match func(int) bool) (int, bool) {
	var candidates []int
	for i := range n {
		if match(i) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return 0, false
	}
	return candidates[c.Intn(len(candidates))], true
}

// compare emits an i32-valued test over a randomly typed operand pair.
func (b *bodyBuilder) compare(depth int) {
	k := randomKind(b.c)
	if op, ok := eqzOps[k]; ok && b.c.Chance(4) {
		b.expr(k, depth+1)
		b.out.byte(op)
		return
	}
	b.expr(k, depth+1)
	b.expr(k, depth+1)
	ops := compareOps[k]
	b.out.byte(ops[b.c.Intn(len(ops))])
}

func (b *bodyBuilder) convert(k ir.Kind, depth int) {
	convs := conversions[k]
	conv := convs[b.c.Intn(len(convs))]
	b.expr(conv.from, depth+1)
	b.out.byte(conv.op)
}

// address emits an i32 memory address. Most addresses are masked to stay in
// bounds for an 8-byte access; the rest are left raw so out-of-bounds traps
// are exercised too.
func (b *bodyBuilder) address(depth int) {
	b.expr(ir.KindI32, depth)
	if b.c.Chance(16) {
		return
	}
	span := uint32(1)
	for span*2 <= uint32(b.mod.MemoryBytes()) {
		span *= 2
	}
	mask := span - 8
	if b.c.Chance(2) {
		mask = span/2 - 1
	}
	b.out.constant(ir.I32(mask))
	b.out.byte(opI32And)
}
