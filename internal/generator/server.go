package generator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/wasmdiff/internal/seed"
	"github.com/roach88/wasmdiff/internal/wasmgen"
)

// Protocol commands.
const (
	CmdModule = 'w'
	CmdMemory = 'm'
	CmdQuit   = 'q'
)

// ErrNoModule is returned when a memory image is requested before any module.
var ErrNoModule = errors.New("no module generated yet")

// Config configures a Server.
type Config struct {
	Scheme seed.Scheme
	// Skip is the step of the first module written.
	Skip int64
	// ModulePath and MemoryPath are overwritten atomically on every command.
	ModulePath string
	MemoryPath string
	Logger     *slog.Logger
}

// Server generates files for consecutive steps of one seed.
type Server struct {
	cfg    Config
	stream *seed.Stream
	log    *slog.Logger

	block   []byte
	module  *wasmgen.Module
	step    int64
	memStep int64
}

// NewServer returns a server positioned at cfg.Skip.
func NewServer(cfg Config) (*Server, error) {
	if cfg.ModulePath == "" || cfg.MemoryPath == "" {
		return nil, errors.New("module and memory paths are required")
	}
	stream, err := cfg.Scheme.StreamAt(cfg.Skip)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{cfg: cfg, stream: stream, log: logger, step: -1}, nil
}

// Step returns the step of the current module, or -1 before the first one.
func (s *Server) Step() int64 { return s.step }

// MemoryStep returns the index the next memory image will use.
func (s *Server) MemoryStep() int64 { return s.memStep }

// NextModule writes the module for the next step and resets the memory
// step. Returns the number of bytes written.
func (s *Server) NextModule() (int, error) {
	step, block := s.stream.Next()
	bin, mod := wasmgen.Build(block)
	if err := writeFileAtomic(s.cfg.ModulePath, bin); err != nil {
		return 0, fmt.Errorf("write module: %w", err)
	}
	s.block, s.module, s.step, s.memStep = block, mod, step, 0
	s.log.Debug("module written", "step", step, "bytes", len(bin), "functions", len(mod.Funcs), "pages", mod.Pages)
	return len(bin), nil
}

// NextMemory writes the next catalogue image for the current module.
// Returns the number of bytes written.
func (s *Server) NextMemory() (int, error) {
	if s.module == nil {
		return 0, ErrNoModule
	}
	img := seed.Image(s.block, s.memStep, int(s.module.Pages))
	if err := writeFileAtomic(s.cfg.MemoryPath, img); err != nil {
		return 0, fmt.Errorf("write memory: %w", err)
	}
	s.log.Debug("memory written", "step", s.step, "memory_step", s.memStep, "kind", seed.ImageKind(s.memStep))
	s.memStep++
	return len(img), nil
}

// Serve answers commands read from in until q, end of input or ctx ends.
// File errors are reported to the client and do not stop the server.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	r := bufio.NewReader(in)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, err := r.ReadByte()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read command: %w", err)
		}

		var n int
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		case CmdQuit:
			return nil
		case CmdModule:
			n, err = s.NextModule()
		case CmdMemory:
			n, err = s.NextMemory()
		default:
			err = fmt.Errorf("unknown command %q", c)
		}

		if err != nil {
			s.log.Warn("command failed", "command", string(c), "error", err)
			_, err = fmt.Fprintf(out, "err %v\n", err)
		} else {
			_, err = fmt.Fprintf(out, "ok %c %d\n", c, n)
		}
		if err != nil {
			return fmt.Errorf("write ack: %w", err)
		}
	}
}

// WriteCoordinate writes the module of step and the image of memoryStep
// directly, without replaying earlier memory steps.
func WriteCoordinate(scheme seed.Scheme, step, memoryStep int64, modulePath, memoryPath string) error {
	if memoryStep < 0 {
		return fmt.Errorf("memory step must be non-negative, got %d", memoryStep)
	}
	block, err := scheme.Block(step)
	if err != nil {
		return err
	}
	bin, mod := wasmgen.Build(block)
	if err := writeFileAtomic(modulePath, bin); err != nil {
		return fmt.Errorf("write module: %w", err)
	}
	if err := writeFileAtomic(memoryPath, seed.Image(block, memoryStep, int(mod.Pages))); err != nil {
		return fmt.Errorf("write memory: %w", err)
	}
	return nil
}

// writeFileAtomic replaces path so readers never see a partial file.
func writeFileAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
