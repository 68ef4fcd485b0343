package wasmgen

import (
	"bytes"
	"errors"
	"fmt"
)

var errTruncated = errors.New("truncated module")

// Export is one entry of a module's export section.
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// Info summarizes what a runner needs to know about a binary without
// instantiating it.
type Info struct {
	Exports []Export
	// MemoryPages is the minimum size of the first defined memory, or 0.
	MemoryPages uint32
}

// Globals returns the exported global names in export order.
func (i Info) Globals() []string {
	var names []string
	for _, e := range i.Exports {
		if e.Kind == ExternGlobal {
			names = append(names, e.Name)
		}
	}
	return names
}

// Inspect reads the memory and export sections of a binary.
func Inspect(bin []byte) (Info, error) {
	var info Info
	if len(bin) < len(header) || !bytes.Equal(bin[:4], header[:4]) {
		return info, fmt.Errorf("not a wasm binary")
	}
	r := &reader{data: bin, pos: len(header)}
	for r.pos < len(r.data) {
		id, err := r.byte()
		if err != nil {
			return info, err
		}
		size, err := r.uleb()
		if err != nil {
			return info, err
		}
		end := r.pos + int(size)
		if end > len(r.data) {
			return info, fmt.Errorf("section %d: %w", id, errTruncated)
		}
		sec := &reader{data: r.data[:end], pos: r.pos}
		switch id {
		case secMemory:
			if info.MemoryPages, err = readMemory(sec); err != nil {
				return info, fmt.Errorf("memory section: %w", err)
			}
		case secExport:
			if info.Exports, err = readExports(sec); err != nil {
				return info, fmt.Errorf("export section: %w", err)
			}
		}
		r.pos = end
	}
	return info, nil
}

func readMemory(r *reader) (uint32, error) {
	n, err := r.uleb()
	if err != nil || n == 0 {
		return 0, err
	}
	if _, err := r.byte(); err != nil {
		return 0, err
	}
	pages, err := r.uleb()
	return uint32(pages), err
}

func readExports(r *reader) ([]Export, error) {
	n, err := r.uleb()
	if err != nil {
		return nil, err
	}
	exports := make([]Export, 0, n)
	for range n {
		nameLen, err := r.uleb()
		if err != nil {
			return nil, err
		}
		name, err := r.take(int(nameLen))
		if err != nil {
			return nil, err
		}
		kind, err := r.byte()
		if err != nil {
			return nil, err
		}
		idx, err := r.uleb()
		if err != nil {
			return nil, err
		}
		exports = append(exports, Export{Name: string(name), Kind: kind, Index: uint32(idx)})
	}
	return exports, nil
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, errTruncated
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, errTruncated
	}
	p := r.data[r.pos : r.pos+n]
	r.pos += n
	return p, nil
}

func (r *reader) uleb() (uint64, error) {
	var v uint64
	for shift := uint(0); shift < 64; shift += 7 {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("leb128 overflow")
}
