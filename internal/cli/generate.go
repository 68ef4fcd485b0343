package cli

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/roach88/wasmdiff/internal/campaign"
	"github.com/roach88/wasmdiff/internal/generator"
	"github.com/roach88/wasmdiff/internal/seed"
)

// GenerateOptions holds flags for the generate command.
type GenerateOptions struct {
	*RootOptions
	Seed       int64
	BlockSize  int
	Skip       int64
	Step       int64
	MemoryStep int64
	Output     string
	Memory     string
}

// NewGenerateCommand creates the generate command.
func NewGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GenerateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate modules and memory images from a seed",
		Long: `Generate random WebAssembly modules and memory images from a seed.

By default commands are read from stdin, one character each:
  w  write the next module to --output (starting at step --skip)
  m  write the next memory image of the current module to --memory
  q  exit
Each command is acknowledged with one line on stdout once its file is in
place: "ok w <bytes>", "ok m <bytes>" or "err <message>".

With --step the module of that step and the image of --memory-step are
written directly and the command exits.

Examples:
  wasmdiff generate --seed 42 --output m.wasm --memory m.bin
  wasmdiff generate --seed 42 --block-size 4096 --step 17 --memory-step 3 --output m.wasm --memory m.bin`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(opts, cmd)
		},
	}

	f := cmd.Flags()
	f.Int64Var(&opts.Seed, "seed", 0, "campaign seed (required)")
	_ = cmd.MarkFlagRequired("seed")
	f.IntVar(&opts.BlockSize, "block-size", campaign.DefaultBlockSize, "seed bytes consumed per module")
	f.Int64Var(&opts.Skip, "skip", 0, "steps to skip before the first module")
	f.Int64Var(&opts.Step, "step", 0, "write this step's module and exit")
	f.Int64Var(&opts.MemoryStep, "memory-step", 0, "memory image written with --step")
	f.StringVar(&opts.Output, "output", "", "module file (required)")
	_ = cmd.MarkFlagRequired("output")
	f.StringVar(&opts.Memory, "memory", "", "memory image file (required)")
	_ = cmd.MarkFlagRequired("memory")
	cmd.MarkFlagsMutuallyExclusive("skip", "step")

	return cmd
}

func runGenerate(opts *GenerateOptions, cmd *cobra.Command) error {
	scheme, err := seed.NewScheme(opts.Seed, opts.BlockSize)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid seed scheme", err)
	}

	if cmd.Flags().Changed("step") {
		if err := generator.WriteCoordinate(scheme, opts.Step, opts.MemoryStep, opts.Output, opts.Memory); err != nil {
			return WrapExitError(ExitFailure, "generation failed", err)
		}
		return nil
	}

	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	srv, err := generator.NewServer(generator.Config{
		Scheme:     scheme,
		Skip:       opts.Skip,
		ModulePath: opts.Output,
		MemoryPath: opts.Memory,
		Logger:     logger,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid generator config", err)
	}

	// A terminal interrupt reaches this process too. The coordinator still
	// needs the current step's files, so serving continues until q or the
	// end of stdin.
	signal.Ignore(os.Interrupt)
	if err := srv.Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
		return WrapExitError(ExitFailure, "generator failed", err)
	}
	return nil
}
