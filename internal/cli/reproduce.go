package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/wasmdiff/internal/campaign"
	"github.com/roach88/wasmdiff/internal/compare"
	"github.com/roach88/wasmdiff/internal/engine"
	"github.com/roach88/wasmdiff/internal/ir"
	"github.com/roach88/wasmdiff/internal/supervisor"
)

// ReproduceOptions holds flags for the reproduce command.
type ReproduceOptions struct {
	*RootOptions
	Coordinates ir.Coordinates
	Database    string
	ConfigFile  string
	All         bool

	invokeCount int
	timeout     time.Duration
	workDir     string
}

// NewReproduceCommand creates the reproduce command.
func NewReproduceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReproduceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reproduce",
		Short: "Replay one memory step and show where the engines disagree",
		Long: `Regenerate the module and memory image of one coordinate, run both engines
on it with the given argument seed and print the aligned calls on which they
disagree. The coordinates are those printed by a campaign or listed by report.

With --db the replay is also recorded as a one-step seed suite.

Exit codes:
  0 - The engines agree
  1 - The engines diverged or desynchronised
  2 - Command error (bad flags, unreadable config, store errors)

Examples:
  wasmdiff reproduce --seed 42 --step 3 --memory-step 1 --arg-seed -8213
  wasmdiff reproduce --seed 42 --block-size 512 --step 3 --memory-step 1 --arg-seed -8213 --all`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReproduce(opts, cmd)
		},
	}

	f := cmd.Flags()
	f.Int64Var(&opts.Coordinates.Seed, "seed", 0, "campaign seed (required)")
	_ = cmd.MarkFlagRequired("seed")
	f.Int64Var(&opts.Coordinates.BlockSize, "block-size", campaign.DefaultBlockSize, "seed bytes consumed per module")
	f.Int64Var(&opts.Coordinates.Step, "step", 0, "step of the module")
	f.Int64Var(&opts.Coordinates.MemoryStep, "memory-step", 0, "memory step of the image")
	f.Int64Var(&opts.Coordinates.ArgumentSeed, "arg-seed", 0, "argument seed (required)")
	_ = cmd.MarkFlagRequired("arg-seed")
	f.StringVar(&opts.Database, "db", "", "also record the replay in this SQLite database")
	f.StringVar(&opts.ConfigFile, "config", "", "YAML campaign file naming the engines")
	f.BoolVar(&opts.All, "all", false, "list every aligned call, not only flagged ones")
	f.IntVar(&opts.invokeCount, "invoke-count", engine.DefaultInvokeCount, "function calls per engine run")
	f.DurationVar(&opts.timeout, "timeout", supervisor.DefaultTimeout, "wall-clock limit per engine run")
	f.StringVar(&opts.workDir, "work-dir", "", "directory for generated files")

	return cmd
}

func reproduceConfig(opts *ReproduceOptions, cmd *cobra.Command) (campaign.Config, error) {
	self, err := executable()
	if err != nil {
		return campaign.Config{}, fmt.Errorf("locate executable: %w", err)
	}
	cfg := campaign.DefaultConfig(self)
	if opts.ConfigFile != "" {
		if cfg, err = campaign.LoadConfig(opts.ConfigFile, cfg); err != nil {
			return campaign.Config{}, err
		}
	}
	f := cmd.Flags()
	if f.Changed("invoke-count") {
		cfg.InvokeCount = opts.invokeCount
	}
	if f.Changed("timeout") {
		cfg.Timeout = opts.timeout
	}
	if f.Changed("work-dir") {
		cfg.WorkDir = opts.workDir
	}
	cfg.BlockSize = int(opts.Coordinates.BlockSize)
	return cfg, cfg.Validate()
}

func runReproduce(opts *ReproduceOptions, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr(), Verbose: opts.Verbose}

	cfg, err := reproduceConfig(opts, cmd)
	if err != nil {
		return formatter.Fail(ExitCommandError, CodeConfig, "invalid campaign config", err)
	}

	ctx, stop := signalContext(cmd, logger)
	defer stop()

	c := &campaign.Campaign{
		Config:     cfg,
		Supervisor: &supervisor.Supervisor{Timeout: cfg.Timeout, Logger: logger},
		Logger:     logger,
	}
	if opts.Database != "" {
		formatter.VerboseLog("opening store %s", opts.Database)
		st, err := openCampaignStore(ctx, opts.Database, cfg.Engines)
		if err != nil {
			return formatter.Fail(ExitCommandError, CodeStore, "failed to open store", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing store", "error", closeErr)
			}
		}()
		c.Store = st
	}

	rep, err := c.Reproduce(ctx, opts.Coordinates)
	if err != nil {
		return formatter.Fail(ExitFailure, CodeRun, "reproduction failed", err)
	}

	diverged := rep.Result.Divergent > 0 || rep.Result.Desyncs > 0
	if opts.Format == "json" {
		if diverged {
			if err := formatter.Failure(CodeDivergence, "engines diverged", rep); err != nil {
				return err
			}
		} else if err := formatter.Success(rep); err != nil {
			return err
		}
	} else {
		names := [2]string{cfg.Engines[0].Name, cfg.Engines[1].Name}
		if err := writeReproduction(cmd.OutOrStdout(), names, rep, opts.All); err != nil {
			return err
		}
	}

	if diverged {
		return NewExitError(ExitFailure, fmt.Sprintf("engines diverged on %d call(s)", rep.Result.Divergent))
	}
	return nil
}

func writeReproduction(w io.Writer, names [2]string, rep campaign.Reproduction, all bool) error {
	c := rep.Coordinates
	fmt.Fprintf(w, "seed: %d block-size: %d step: %d memory-step: %d arg-seed: %d\n",
		c.Seed, c.BlockSize, c.Step, c.MemoryStep, c.ArgumentSeed)
	for i, name := range names {
		fmt.Fprintf(w, "%s: %s\n", name, rep.Statuses[i])
	}
	if rep.SeedSuiteID != 0 {
		fmt.Fprintf(w, "recorded: suite %d\n", rep.SeedSuiteID)
	}
	return compare.Render(w, names, rep.Result, rep.Calls, all)
}
