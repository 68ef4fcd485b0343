package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/wasmdiff/internal/engine"
	"github.com/roach88/wasmdiff/internal/ir"
	"github.com/roach88/wasmdiff/internal/supervisor"
)

// RunnerOptions holds flags for the runner command.
type RunnerOptions struct {
	*RootOptions
	Engine      string
	Mode        string
	Input       string
	Memory      string
	ArgSeed     int64
	InvokeCount int
	TraceFD     int
	MaxDiff     int
	Globals     []string
}

// Runner modes.
const (
	ModeSingle = "single"
	ModeList   = "list"
)

// NewRunnerCommand creates the runner command.
func NewRunnerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunnerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runner",
		Short: "Run a module on one wazero engine",
		Long: `Run a module on one wazero engine and write its execution trace.

In single mode the memory image is loaded, then --invoke-count exported
functions are called with functions and arguments drawn from --arg-seed. One
JSON record per call is written to --trace-fd as it completes, so a killed
runner leaves a repairable prefix. Ordinary output is never part of the trace.

Each --global NAME=VALUE sets an exported mutable global after the memory
image is loaded. VALUE is a decimal bit pattern, signed or unsigned.

In list mode the exported functions and globals are printed in selection
order.

Examples:
  wasmdiff runner --engine compiler --input m.wasm --memory m.bin --arg-seed 7 3>trace.json
  wasmdiff runner --input m.wasm --memory m.bin --global g0=-1 --trace-fd 1
  wasmdiff runner --mode list --engine interpreter --input m.wasm`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunner(opts, cmd)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Engine, "engine", string(engine.ModeInterpreter), "wazero engine (interpreter|compiler)")
	f.StringVar(&opts.Mode, "mode", ModeSingle, "runner mode (single|list)")
	f.StringVar(&opts.Input, "input", "", "module file (required)")
	_ = cmd.MarkFlagRequired("input")
	f.StringVar(&opts.Memory, "memory", "", "memory image file (required in single mode)")
	f.Int64Var(&opts.ArgSeed, "arg-seed", 0, "argument seed")
	f.IntVar(&opts.InvokeCount, "invoke-count", engine.DefaultInvokeCount, "number of calls")
	f.IntVar(&opts.TraceFD, "trace-fd", supervisor.TraceFD, "descriptor the trace is written to")
	f.IntVar(&opts.MaxDiff, "max-diff", engine.DefaultMaxDiff, "memory diff entries per call (0: unlimited)")
	f.StringArrayVar(&opts.Globals, "global", nil, "set an exported global before the first call (NAME=VALUE, repeatable)")

	return cmd
}

func runRunner(opts *RunnerOptions, cmd *cobra.Command) error {
	mode, err := engine.ParseMode(opts.Engine)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid engine", err)
	}
	if opts.Mode != ModeSingle && opts.Mode != ModeList {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid mode %q: must be %s or %s", opts.Mode, ModeSingle, ModeList))
	}

	bin, err := os.ReadFile(opts.Input)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read module", err)
	}

	ctx := cmd.Context()
	eng, err := engine.NewWazero(ctx, mode, bin)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to instantiate module", err)
	}
	defer eng.Close(ctx)

	if opts.Mode == ModeList {
		return engine.ListFunctions(cmd.OutOrStdout(), eng)
	}

	if opts.Memory == "" {
		return NewExitError(ExitCommandError, "--memory is required in single mode")
	}
	globals, err := parseGlobals(opts.Globals)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --global", err)
	}
	image, err := os.ReadFile(opts.Memory)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read memory image", err)
	}

	trace, err := traceWriter(cmd, opts.TraceFD)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open trace channel", err)
	}

	err = engine.RunSingle(ctx, eng, image, engine.RunOptions{
		ArgumentSeed: opts.ArgSeed,
		InvokeCount:  opts.InvokeCount,
		MaxDiff:      opts.MaxDiff,
		Globals:      globals,
	}, ir.NewTraceWriter(trace))
	if err != nil {
		return WrapExitError(ExitFailure, "run failed", err)
	}
	return nil
}

// parseGlobals parses NAME=VALUE assignments. A later assignment to the same
// name wins.
func parseGlobals(assignments []string) (map[string]ir.Bits, error) {
	if len(assignments) == 0 {
		return nil, nil
	}
	globals := make(map[string]ir.Bits, len(assignments))
	for _, a := range assignments {
		name, value, ok := strings.Cut(a, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%q: want NAME=VALUE", a)
		}
		bits, err := ir.ParseBits(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		globals[name] = bits
	}
	return globals, nil
}

// traceWriter returns the trace channel. Descriptor 1 means the command's
// stdout.
func traceWriter(cmd *cobra.Command, fd int) (io.Writer, error) {
	switch {
	case fd == 1:
		return cmd.OutOrStdout(), nil
	case fd < 0:
		return nil, fmt.Errorf("invalid descriptor %d", fd)
	}
	f := os.NewFile(uintptr(fd), "trace")
	if f == nil {
		return nil, fmt.Errorf("descriptor %d is not open", fd)
	}
	if _, err := f.Stat(); err != nil {
		return nil, fmt.Errorf("descriptor %d: %w", fd, err)
	}
	return f, nil
}
