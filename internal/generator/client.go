package generator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// Source hands out module and memory files for one outer step.
type Source interface {
	// Module writes the module file and returns its size.
	Module() (int, error)
	// Memory writes the next memory image and returns its size.
	Memory() (int, error)
	// Quit ends the source. It is safe to call more than once.
	Quit() error
}

// Client drives a generator subprocess over its stdin.
type Client struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	acks  *bufio.Reader

	once    sync.Once
	quitErr error
}

var _ Source = (*Client)(nil)

// Start launches the generator at path with args. Its stderr is discarded.
func Start(ctx context.Context, path string, args ...string) (*Client, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("generator stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("generator stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start generator %s: %w", path, err)
	}
	return &Client{cmd: cmd, stdin: stdin, acks: bufio.NewReader(stdout)}, nil
}

// Args returns the generator arguments for one outer step.
func Args(seedValue int64, blockSize int, skip int64, modulePath, memoryPath string) []string {
	return []string{
		"--seed", strconv.FormatInt(seedValue, 10),
		"--block-size", strconv.Itoa(blockSize),
		"--skip", strconv.FormatInt(skip, 10),
		"--output", modulePath,
		"--memory", memoryPath,
	}
}

// Module implements Source.
func (c *Client) Module() (int, error) { return c.send(CmdModule) }

// Memory implements Source.
func (c *Client) Memory() (int, error) { return c.send(CmdMemory) }

func (c *Client) send(cmd byte) (int, error) {
	if _, err := c.stdin.Write([]byte{cmd, '\n'}); err != nil {
		return 0, fmt.Errorf("send %c: %w", cmd, err)
	}
	line, err := c.acks.ReadString('\n')
	if err != nil {
		return 0, fmt.Errorf("await %c: %w", cmd, err)
	}
	return parseAck(cmd, strings.TrimSpace(line))
}

func parseAck(cmd byte, line string) (int, error) {
	if msg, ok := strings.CutPrefix(line, "err "); ok {
		return 0, fmt.Errorf("generator: %s", msg)
	}
	fields := strings.Fields(line)
	if len(fields) != 3 || fields[0] != "ok" || fields[1] != string(cmd) {
		return 0, fmt.Errorf("unexpected generator reply %q", line)
	}
	n, err := strconv.Atoi(fields[2])
	if err != nil {
		return 0, fmt.Errorf("unexpected generator reply %q", line)
	}
	return n, nil
}

// Quit sends q, closes stdin and reaps the generator.
func (c *Client) Quit() error {
	c.once.Do(func() {
		// A generator that already exited fails the write; only its exit
		// status matters.
		_, _ = c.stdin.Write([]byte{CmdQuit, '\n'})
		_ = c.stdin.Close()
		_, _ = io.Copy(io.Discard, c.acks)
		if err := c.cmd.Wait(); err != nil {
			c.quitErr = fmt.Errorf("generator exit: %w", err)
		}
	})
	return c.quitErr
}

// Local serves a Source from an in-process Server.
type Local struct {
	*Server
}

var _ Source = Local{}

// Module implements Source.
func (l Local) Module() (int, error) { return l.NextModule() }

// Memory implements Source.
func (l Local) Memory() (int, error) { return l.NextMemory() }

// Quit implements Source.
func (l Local) Quit() error { return nil }
