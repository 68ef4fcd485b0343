package seed

import (
	"encoding/binary"
	"math/rand/v2"
)

// PageSize is the WebAssembly linear-memory page size.
const PageSize = 65536

// CatalogueSize is the number of distinct memory images. Memory steps beyond
// it wrap around.
const CatalogueSize = 5

// Fallback seeds for the random images when a block is too short to supply
// its own.
var defaultImageSeeds = [3]uint64{1234567890, 2468012345, 5432101234}

// ImageKind names a catalogue entry.
func ImageKind(memoryStep int64) string {
	switch memoryStep % CatalogueSize {
	case 0:
		return "zero"
	case 1:
		return "ones"
	default:
		return "random"
	}
}

// Image builds the catalogue image for memoryStep, sized to pages.
// Random images are seeded from the words of the step's module block, so
// the image depends only on (seed, block_size, step, memory_step).
func Image(block []byte, memoryStep int64, pages int) []byte {
	img := make([]byte, pages*PageSize)
	idx := memoryStep % CatalogueSize
	if idx < 0 {
		idx += CatalogueSize
	}
	switch idx {
	case 0:
	case 1:
		for i := range img {
			img[i] = 0x01
		}
	default:
		n := int(idx - 2)
		s := defaultImageSeeds[n]
		if off := n * 8; off+8 <= len(block) {
			s ^= binary.LittleEndian.Uint64(block[off:])
		}
		var key [32]byte
		binary.LittleEndian.PutUint64(key[:], s)
		binary.LittleEndian.PutUint64(key[8:], uint64(idx))
		_, _ = rand.NewChaCha8(key).Read(img)
	}
	return img
}
