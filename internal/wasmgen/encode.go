package wasmgen

import (
	"encoding/binary"
	"math"

	"github.com/roach88/wasmdiff/internal/ir"
)

var header = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// Section ids.
const (
	secType     = 1
	secFunction = 3
	secMemory   = 5
	secGlobal   = 6
	secExport   = 7
	secCode     = 10
)

// Export kinds.
const (
	ExternFunc   byte = 0x00
	ExternTable  byte = 0x01
	ExternMemory byte = 0x02
	ExternGlobal byte = 0x03
)

func valType(k ir.Kind) byte {
	switch k {
	case ir.KindI32:
		return 0x7f
	case ir.KindI64:
		return 0x7e
	case ir.KindF32:
		return 0x7d
	case ir.KindF64:
		return 0x7c
	default:
		panic("wasmgen: no value type for " + k.String())
	}
}

func appendUleb(buf []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf = append(buf, b)
		if v == 0 {
			return buf
		}
	}
}

func appendSleb(buf []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}

// encoder accumulates one section or function body.
type encoder struct {
	buf []byte
}

func (e *encoder) byte(b ...byte) { e.buf = append(e.buf, b...) }
func (e *encoder) u32(v uint32) { e.buf = appendUleb(e.buf, uint64(v)) }
func (e *encoder) raw(p []byte) { e.buf = append(e.buf, p...) }
func (e *encoder) size() int { return len(e.buf) }
func (e *encoder) vec(n int) { e.u32(uint32(n)) }
func (e *encoder) name(s string) { e.u32(uint32(len(s))); e.buf = append(e.buf, s...) }
func (e *encoder) bytesOut() []byte { return e.buf }

// constant emits the const instruction for v.
func (e *encoder) constant(v ir.Value) {
	switch v.Kind {
	case ir.KindI32:
		e.byte(0x41)
		e.buf = appendSleb(e.buf, int64(int32(uint32(v.Bits))))
	case ir.KindI64:
		e.byte(0x42)
		e.buf = appendSleb(e.buf, int64(v.Bits))
	case ir.KindF32:
		e.byte(0x43)
		e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(v.Bits))
	case ir.KindF64:
		e.byte(0x44)
		e.buf = binary.LittleEndian.AppendUint64(e.buf, v.Bits)
	}
}

// memarg emits alignment hint 0 and the given offset.
func (e *encoder) memarg(offset uint32) {
	e.u32(0)
	e.u32(offset)
}

func (e *encoder) section(id byte, content *encoder) {
	e.byte(id)
	e.u32(uint32(content.size()))
	e.raw(content.buf)
}

// Encode renders the module as a WebAssembly binary.
func (m *Module) Encode() []byte {
	var out encoder
	out.raw(header)

	var types encoder
	types.vec(len(m.Funcs))
	for _, f := range m.Funcs {
		types.byte(0x60)
		types.vec(len(f.Params))
		for _, p := range f.Params {
			types.byte(valType(p))
		}
		if f.Result == ir.KindVoid {
			types.vec(0)
		} else {
			types.vec(1)
			types.byte(valType(f.Result))
		}
	}
	out.section(secType, &types)

	var funcs encoder
	funcs.vec(len(m.Funcs))
	for i := range m.Funcs {
		funcs.u32(uint32(i))
	}
	out.section(secFunction, &funcs)

	var mem encoder
	mem.vec(1)
	mem.byte(0x00)
	mem.u32(m.Pages)
	out.section(secMemory, &mem)

	var globals encoder
	globals.vec(len(m.Globals))
	for _, g := range m.Globals {
		globals.byte(valType(g.Init.Kind), 0x01)
		globals.constant(g.Init)
		globals.byte(opEnd)
	}
	out.section(secGlobal, &globals)

	var exports encoder
	exports.vec(len(m.Funcs) + 1 + len(m.Globals))
	exports.name(MemoryExport)
	exports.byte(ExternMemory)
	exports.u32(0)
	for i, g := range m.Globals {
		exports.name(g.Name)
		exports.byte(ExternGlobal)
		exports.u32(uint32(i))
	}
	for i, f := range m.Funcs {
		exports.name(f.Name)
		exports.byte(ExternFunc)
		exports.u32(uint32(i))
	}
	out.section(secExport, &exports)

	var code encoder
	code.vec(len(m.Funcs))
	for _, f := range m.Funcs {
		var body encoder
		body.vec(0) // no locals beyond params
		body.raw(f.Body)
		code.u32(uint32(body.size()))
		code.raw(body.buf)
	}
	out.section(secCode, &code)

	return out.bytesOut()
}

func f32Bits(f float32) uint64 { return uint64(math.Float32bits(f)) }
