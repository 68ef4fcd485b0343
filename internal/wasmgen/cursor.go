package wasmgen

import "encoding/binary"

// Cursor reads decisions from a block of seed bytes. Reads past the end wrap
// around to the start; an empty block reads as zeros.
type Cursor struct {
	data []byte
	pos  int
}

// NewCursor returns a cursor over block.
func NewCursor(block []byte) *Cursor {
	return &Cursor{data: block}
}

// Byte returns the next byte.
func (c *Cursor) Byte() byte {
	if len(c.data) == 0 {
		return 0
	}
	b := c.data[c.pos%len(c.data)]
	c.pos++
	return b
}

// Intn returns a value in [0, n) for n <= 65536.
func (c *Cursor) Intn(n int) int {
	if n <= 1 {
		return 0
	}
	if n <= 256 {
		return int(c.Byte()) % n
	}
	return int(c.U16()) % n
}

// Chance reports true roughly once every n calls.
func (c *Cursor) Chance(n int) bool {
	return c.Intn(n) == 0
}

// U16 reads a little-endian uint16.
func (c *Cursor) U16() uint16 {
	var b [2]byte
	c.fill(b[:])
	return binary.LittleEndian.Uint16(b[:])
}

// U32 reads a little-endian uint32.
func (c *Cursor) U32() uint32 {
	var b [4]byte
	c.fill(b[:])
	return binary.LittleEndian.Uint32(b[:])
}

// U64 reads a little-endian uint64.
func (c *Cursor) U64() uint64 {
	var b [8]byte
	c.fill(b[:])
	return binary.LittleEndian.Uint64(b[:])
}

func (c *Cursor) fill(p []byte) {
	for i := range p {
		p[i] = c.Byte()
	}
}

// Consumed reports how many bytes have been read, including wrapped reads.
func (c *Cursor) Consumed() int { return c.pos }
