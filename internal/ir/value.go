package ir

import (
	"fmt"
	"math"
	"strconv"
)

// Kind identifies a WebAssembly value type.
// KindVoid marks the absence of a value (a function without results).
type Kind uint8

const (
	KindVoid Kind = iota
	KindI32
	KindI64
	KindF32
	KindF64
)

// Kinds lists every non-void kind in a stable order.
var Kinds = []Kind{KindI32, KindI64, KindF32, KindF64}

// String returns the WebAssembly text-format name of the kind.
func (k Kind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Width returns the size of the kind in bytes (0 for void).
func (k Kind) Width() int {
	switch k {
	case KindI32, KindF32:
		return 4
	case KindI64, KindF64:
		return 8
	default:
		return 0
	}
}

// ParseKind parses a text-format kind name.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "void", "":
		return KindVoid, nil
	case "i32":
		return KindI32, nil
	case "i64":
		return KindI64, nil
	case "f32":
		return KindF32, nil
	case "f64":
		return KindF64, nil
	default:
		return KindVoid, fmt.Errorf("unknown value kind %q", s)
	}
}

// Value is a tagged WebAssembly value.
//
// Bits holds the raw bit pattern: the low 32 bits for I32/F32, all 64 bits for
// I64/F64, and zero for Void. Two values are equal only when both kind and bit
// pattern match, so NaN payloads are compared exactly.
type Value struct {
	Kind Kind
	Bits uint64
}

// Void returns the empty value.
func Void() Value { return Value{Kind: KindVoid} }

// I32 returns an i32 value.
func I32(v uint32) Value { return Value{Kind: KindI32, Bits: uint64(v)} }

// I64 returns an i64 value.
func I64(v uint64) Value { return Value{Kind: KindI64, Bits: v} }

// F32 returns an f32 value holding the bit pattern of f.
func F32(f float32) Value { return Value{Kind: KindF32, Bits: uint64(math.Float32bits(f))} }

// F64 returns an f64 value holding the bit pattern of f.
func F64(f float64) Value { return Value{Kind: KindF64, Bits: math.Float64bits(f)} }

// FromBits builds a value of kind k from a raw pattern, masking it to the kind's width.
func FromBits(k Kind, bits uint64) Value {
	switch k {
	case KindI32, KindF32:
		return Value{Kind: k, Bits: bits & math.MaxUint32}
	case KindI64, KindF64:
		return Value{Kind: k, Bits: bits}
	default:
		return Void()
	}
}

// IsVoid reports whether v carries no value.
func (v Value) IsVoid() bool { return v.Kind == KindVoid }

// Int64 returns the signed integer reinterpretation of the bit pattern.
// 32-bit kinds are sign-extended from their low 32 bits.
func (v Value) Int64() int64 {
	switch v.Kind {
	case KindI32, KindF32:
		return int64(int32(uint32(v.Bits)))
	case KindI64, KindF64:
		return int64(v.Bits)
	default:
		return 0
	}
}

// Float32 decodes an F32 bit pattern.
func (v Value) Float32() float32 { return math.Float32frombits(uint32(v.Bits)) }

// Float64 decodes an F64 bit pattern.
func (v Value) Float64() float64 { return math.Float64frombits(v.Bits) }

// Equal reports bitwise equality.
func (v Value) Equal(o Value) bool {
	return v.Kind == o.Kind && v.Bits == o.Bits
}

// String returns the signed decimal bit pattern used on the wire.
// Void values render as the empty string.
func (v Value) String() string {
	if v.Kind == KindVoid {
		return ""
	}
	return strconv.FormatInt(v.Int64(), 10)
}

// Describe renders the value with its kind and decoded form, for humans.
func (v Value) Describe() string {
	switch v.Kind {
	case KindI32:
		return fmt.Sprintf("i32:%d", int32(uint32(v.Bits)))
	case KindI64:
		return fmt.Sprintf("i64:%d", int64(v.Bits))
	case KindF32:
		return fmt.Sprintf("f32:%g(0x%08x)", v.Float32(), uint32(v.Bits))
	case KindF64:
		return fmt.Sprintf("f64:%g(0x%016x)", v.Float64(), v.Bits)
	default:
		return "void"
	}
}

// ValueFromInt64 rebuilds a value of kind k from its signed reinterpretation.
// It is the inverse of Value.Int64 for every bit pattern.
func ValueFromInt64(k Kind, n int64) (Value, error) {
	switch k {
	case KindI32, KindF32:
		if n < math.MinInt32 || n > math.MaxUint32 {
			return Value{}, fmt.Errorf("%s bit pattern out of range: %d", k, n)
		}
		return FromBits(k, uint64(n)), nil
	case KindI64, KindF64:
		return Value{Kind: k, Bits: uint64(n)}, nil
	case KindVoid:
		return Void(), nil
	default:
		return Value{}, fmt.Errorf("unknown value kind %d", uint8(k))
	}
}

// ParseValue parses the wire form of a value of kind k.
func ParseValue(k Kind, s string) (Value, error) {
	if k == KindVoid {
		return Void(), nil
	}
	n, err := ParseBits(s)
	if err != nil {
		return Value{}, err
	}
	return ValueFromInt64(k, int64(n))
}
