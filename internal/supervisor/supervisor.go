package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// ErrSpawn is returned when a runner cannot be started at all.
var ErrSpawn = errors.New("spawn runner")

// Defaults.
const (
	DefaultTimeout = 10 * time.Second
	DefaultPoll    = 10 * time.Millisecond
)

// TraceFD is the descriptor number of the structured-output channel as seen
// by the runner.
const TraceFD = 3

// Outcome is the uniform result of one runner invocation.
type Outcome struct {
	// Success is true only for a normal exit with status 0.
	Success bool
	// Timeout is set when the deadline elapsed and the runner was killed.
	Timeout bool
	// Interrupted is set when the caller's context ended the run early.
	Interrupted bool
	// Signal is the terminating signal of a runner that crashed on its own.
	Signal int
	// ExitCode is the exit status, or -1 when the runner did not exit normally.
	ExitCode int
	// Trace is everything read from the structured channel. It may be empty,
	// truncated or malformed.
	Trace []byte
	// Elapsed is the wall-clock time from start to reap.
	Elapsed time.Duration
	// Pid identifies the runner process.
	Pid int
}

// Status summarizes the outcome for logs and progress lines.
func (o Outcome) Status() string {
	switch {
	case o.Interrupted:
		return "interrupted"
	case o.Timeout:
		return "timeout"
	case o.Signal != 0:
		return "signal " + strconv.Itoa(o.Signal)
	case o.Success:
		return "ok"
	default:
		return "exit " + strconv.Itoa(o.ExitCode)
	}
}

// Supervisor runs runners. The zero value uses the defaults.
// A Supervisor is safe for concurrent use.
type Supervisor struct {
	Timeout time.Duration
	Poll    time.Duration
	Logger  *slog.Logger
}

func (s *Supervisor) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultTimeout
}

func (s *Supervisor) poll() time.Duration {
	if s.Poll > 0 {
		return s.Poll
	}
	return DefaultPoll
}

func (s *Supervisor) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// capture is the buffer shared by the read loop and Run.
type capture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *capture) write(p []byte) {
	c.mu.Lock()
	c.buf.Write(p)
	c.mu.Unlock()
}

func (c *capture) bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.buf.Bytes())
}

// Run starts path with args, captures its structured output and returns once
// the runner has been reaped.
//
// The deadline covers the whole lifetime: a runner that closes its trace
// channel early and keeps running is still killed when time runs out.
// Cancelling ctx kills the runner and marks the outcome Interrupted.
func (s *Supervisor) Run(ctx context.Context, path string, args ...string) (Outcome, error) {
	log := s.logger()

	r, w, err := os.Pipe()
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: trace pipe: %w", ErrSpawn, err)
	}
	defer r.Close()

	cmd := exec.Command(path, args...)
	cmd.ExtraFiles = []*os.File{w} // becomes TraceFD in the child
	setupProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		w.Close()
		return Outcome{}, fmt.Errorf("%w: %s: %w", ErrSpawn, path, err)
	}
	// The child holds its own copy; ours must go so EOF can be observed.
	w.Close()

	out := Outcome{Pid: cmd.Process.Pid, ExitCode: -1}
	log.Debug("runner started", "pid", out.Pid, "path", path)

	var captured capture
	stop := make(chan struct{})
	drained := make(chan error, 1)
	go func() { drained <- s.drain(r, &captured, stop) }()

	timer := time.NewTimer(s.timeout())
	defer timer.Stop()

	kill := func() {
		if err := killProcessGroup(cmd); err != nil {
			log.Warn("kill runner", "pid", out.Pid, "error", err)
		}
	}

	select {
	case readErr := <-drained:
		if readErr != nil {
			log.Warn("trace read failed", "pid", out.Pid, "error", readErr)
		}
		waited := make(chan error, 1)
		go func() { waited <- cmd.Wait() }()
		select {
		case <-waited:
			classify(cmd.ProcessState, &out)
		case <-timer.C:
			kill()
			<-waited
			out.Timeout = true
		case <-ctx.Done():
			kill()
			<-waited
			out.Interrupted = true
		}

	case <-timer.C:
		close(stop)
		kill()
		<-drained
		_ = cmd.Wait()
		out.Timeout = true

	case <-ctx.Done():
		close(stop)
		kill()
		<-drained
		_ = cmd.Wait()
		out.Interrupted = true
	}

	out.Elapsed = time.Since(start)
	out.Trace = captured.bytes()
	log.Debug("runner finished", "pid", out.Pid, "status", out.Status(),
		"elapsed", out.Elapsed, "trace_bytes", len(out.Trace))
	return out, nil
}

// drain copies the pipe into c until EOF or until stop is closed.
// Reads use a short deadline so the stop request is noticed promptly even
// when the runner writes nothing.
func (s *Supervisor) drain(r *os.File, c *capture, stop <-chan struct{}) error {
	chunk := make([]byte, 32*1024)
	poll := s.poll()
	deadlines := true
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		if deadlines {
			if err := r.SetReadDeadline(time.Now().Add(poll)); err != nil {
				// Not pollable here; fall back to blocking reads, which
				// still end at EOF once the runner is killed.
				deadlines = false
			}
		}

		n, err := r.Read(chunk)
		if n > 0 {
			c.write(chunk[:n])
		}
		switch {
		case err == nil:
		case errors.Is(err, os.ErrDeadlineExceeded):
		case errors.Is(err, io.EOF):
			return nil
		default:
			return err
		}
	}
}
