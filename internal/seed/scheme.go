package seed

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand/v2"
	"time"
)

const domainStream = "wasmdiff/stream/v1"

// argumentSalt separates the campaign generator from the module byte stream.
const argumentSalt = 0x6172672d73656564

// Scheme derives module blocks for one (seed, block size) pair.
type Scheme struct {
	Seed      int64
	BlockSize int
}

// NewScheme validates the block size and returns a Scheme.
func NewScheme(seed int64, blockSize int) (Scheme, error) {
	if blockSize <= 0 {
		return Scheme{}, fmt.Errorf("block size must be positive, got %d", blockSize)
	}
	return Scheme{Seed: seed, BlockSize: blockSize}, nil
}

// FromClock derives a campaign seed from wall-clock time.
func FromClock(now time.Time) int64 {
	return now.UnixNano()
}

func streamKey(seed int64) [32]byte {
	var buf [len(domainStream) + 1 + 8]byte
	copy(buf[:], domainStream)
	binary.LittleEndian.PutUint64(buf[len(domainStream)+1:], uint64(seed))
	return sha256.Sum256(buf[:])
}

// Block returns bytes [step*BlockSize, (step+1)*BlockSize) of the seed's
// byte stream. It is independent of any earlier call.
func (s Scheme) Block(step int64) ([]byte, error) {
	if step < 0 {
		return nil, fmt.Errorf("step must be non-negative, got %d", step)
	}
	src := rand.NewChaCha8(streamKey(s.Seed))
	if _, err := io.CopyN(io.Discard, src, step*int64(s.BlockSize)); err != nil {
		return nil, fmt.Errorf("skip to step %d: %w", step, err)
	}
	block := make([]byte, s.BlockSize)
	if _, err := io.ReadFull(src, block); err != nil {
		return nil, fmt.Errorf("read block %d: %w", step, err)
	}
	return block, nil
}

// Stream hands out consecutive blocks without re-deriving the prefix.
// Block n of a Stream equals Scheme.Block(n).
type Stream struct {
	scheme Scheme
	src    *rand.ChaCha8
	step   int64
}

// Stream returns a sequential reader positioned at step 0.
func (s Scheme) Stream() *Stream {
	return &Stream{scheme: s, src: rand.NewChaCha8(streamKey(s.Seed))}
}

// StreamAt returns a sequential reader positioned at step.
func (s Scheme) StreamAt(step int64) (*Stream, error) {
	if step < 0 {
		return nil, fmt.Errorf("step must be non-negative, got %d", step)
	}
	st := s.Stream()
	if _, err := io.CopyN(io.Discard, st.src, step*int64(s.BlockSize)); err != nil {
		return nil, fmt.Errorf("skip to step %d: %w", step, err)
	}
	st.step = step
	return st, nil
}

// Next returns the next block and its step index.
func (st *Stream) Next() (int64, []byte) {
	block := make([]byte, st.scheme.BlockSize)
	// ChaCha8.Read never fails.
	_, _ = io.ReadFull(st.src, block)
	step := st.step
	st.step++
	return step, block
}

// Step reports the index of the block the next call to Next returns.
func (st *Stream) Step() int64 { return st.step }

// Arguments is the campaign's running generator of argument seeds.
type Arguments struct {
	r *rand.Rand
}

// NewArguments seeds the argument-seed generator from the campaign seed.
func NewArguments(seed int64) *Arguments {
	return &Arguments{r: rand.New(rand.NewPCG(uint64(seed), argumentSalt))}
}

// Next draws a fresh 64-bit argument seed.
func (a *Arguments) Next() int64 {
	return int64(a.r.Uint64())
}
