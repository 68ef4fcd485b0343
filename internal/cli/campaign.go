package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/wasmdiff/internal/campaign"
	"github.com/roach88/wasmdiff/internal/engine"
	"github.com/roach88/wasmdiff/internal/ir"
	"github.com/roach88/wasmdiff/internal/store"
	"github.com/roach88/wasmdiff/internal/supervisor"
)

// CampaignOptions holds flags for the campaign command.
type CampaignOptions struct {
	*RootOptions
	Database       string
	ConfigFile     string
	LocalGenerator bool

	// flag values, applied over the config file only when set
	seed        int64
	blockSize   int
	steps       int
	memorySteps int
	invokeCount int
	timeout     time.Duration
	flushEvery  int
	workDir     string
	metricsAddr string
}

// NewCampaignCommand creates the campaign command.
func NewCampaignCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CampaignOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "campaign",
		Short: "Run a differential-testing campaign",
		Long: `Run a differential-testing campaign and record it in a SQLite store.

Each step generates a fresh module; each memory step loads the next catalogue
memory image, draws an argument seed and runs both engines on the same input
concurrently. Outcomes, aligned calls and divergences are persisted as they
are found. Ctrl-C finishes the current memory step, flushes the store and
exits cleanly.

Without --config both engines are this binary's runner command, on the
wazero interpreter and compiler.

Examples:
  wasmdiff campaign --db ./campaign.db
  wasmdiff campaign --db ./campaign.db --seed 42 --steps 100
  wasmdiff campaign --db ./campaign.db --config engines.yaml --metrics-addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCampaign(opts, cmd)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	f.StringVar(&opts.ConfigFile, "config", "", "YAML campaign file")
	f.BoolVar(&opts.LocalGenerator, "local-generator", false, "generate modules in-process instead of spawning the generator")
	f.Int64Var(&opts.seed, "seed", 0, "campaign seed (default: derived from the clock)")
	f.IntVar(&opts.blockSize, "block-size", campaign.DefaultBlockSize, "seed bytes consumed per module")
	f.IntVar(&opts.steps, "steps", campaign.DefaultSteps, "modules to generate")
	f.IntVar(&opts.memorySteps, "memory-steps", campaign.DefaultMemorySteps, "memory images per module")
	f.IntVar(&opts.invokeCount, "invoke-count", engine.DefaultInvokeCount, "function calls per engine run")
	f.DurationVar(&opts.timeout, "timeout", supervisor.DefaultTimeout, "wall-clock limit per engine run")
	f.IntVar(&opts.flushEvery, "flush-every", campaign.DefaultFlushEvery, "memory steps between store flushes")
	f.StringVar(&opts.workDir, "work-dir", "", "directory for generated files (default: /dev/shm or the temp dir)")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

// loadCampaignConfig merges defaults, the config file and explicitly set flags.
func loadCampaignConfig(opts *CampaignOptions, cmd *cobra.Command) (campaign.Config, error) {
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
	if f.Changed("seed") {
		cfg.Seed = &opts.seed
	}
	if f.Changed("block-size") {
		cfg.BlockSize = opts.blockSize
	}
	if f.Changed("steps") {
		cfg.Steps = opts.steps
	}
	if f.Changed("memory-steps") {
		cfg.MemorySteps = opts.memorySteps
	}
	if f.Changed("invoke-count") {
		cfg.InvokeCount = opts.invokeCount
	}
	if f.Changed("timeout") {
		cfg.Timeout = opts.timeout
	}
	if f.Changed("flush-every") {
		cfg.FlushEvery = opts.flushEvery
	}
	if f.Changed("work-dir") {
		cfg.WorkDir = opts.workDir
	}
	if f.Changed("metrics-addr") {
		cfg.MetricsAddr = opts.metricsAddr
	}
	return cfg, cfg.Validate()
}

// openCampaignStore opens the store, seeding a new one with the configured
// engines, and checks an existing catalogue knows them.
func openCampaignStore(ctx context.Context, path string, engines []campaign.EngineConfig) (*store.Store, error) {
	impls := make([]ir.Implementation, len(engines))
	for i, e := range engines {
		impls[i] = ir.Implementation{ID: e.ID, Name: e.Name}
	}
	st, err := store.Open(path, store.WithImplementations(impls...))
	if err != nil {
		return nil, err
	}
	if st.Created() {
		return st, nil
	}

	known, err := st.Implementations(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}
	names := make(map[int64]string, len(known))
	for _, impl := range known {
		names[impl.ID] = impl.Name
	}
	for _, e := range engines {
		if name, ok := names[e.ID]; !ok || name != e.Name {
			st.Close()
			return nil, fmt.Errorf("engine %s (id %d) is not in the store's implementation catalogue", e.Name, e.ID)
		}
	}
	return st, nil
}

func runCampaign(opts *CampaignOptions, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr(), Verbose: opts.Verbose}

	cfg, err := loadCampaignConfig(opts, cmd)
	if err != nil {
		return formatter.Fail(ExitCommandError, CodeConfig, "invalid campaign config", err)
	}

	ctx, stop := signalContext(cmd, logger)
	defer stop()

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

	// Progress lines stay off stdout when it carries JSON.
	var progress io.Writer = cmd.OutOrStdout()
	if opts.Format == "json" {
		progress = cmd.ErrOrStderr()
	}

	c := &campaign.Campaign{
		Config:     cfg,
		Store:      st,
		Supervisor: &supervisor.Supervisor{Timeout: cfg.Timeout, Logger: logger},
		Metrics:    campaign.NewMetrics(),
		Logger:     logger,
		Out:        progress,
	}
	if opts.LocalGenerator {
		c.Spawn = campaign.LocalSpawner(logger)
	}

	var metrics errgroup.Group
	if cfg.MetricsAddr != "" {
		metrics.Go(func() error {
			return campaign.ServeMetrics(ctx, cfg.MetricsAddr, c.Metrics, logger)
		})
	}

	sum, runErr := c.Run(ctx)
	stop()
	if err := metrics.Wait(); err != nil {
		logger.Warn("metrics server failed", "addr", cfg.MetricsAddr, "error", err)
	}
	if runErr != nil {
		return formatter.Fail(ExitFailure, CodeRun, "campaign aborted", runErr)
	}

	if opts.Format == "json" {
		return formatter.Success(sum)
	}
	return writeCampaignSummary(cmd.OutOrStdout(), sum)
}

func writeCampaignSummary(w io.Writer, sum campaign.Summary) error {
	fmt.Fprintf(w, "suite: %d seed: %d block-size: %d run: %s\n", sum.SeedSuiteID, sum.Seed, sum.BlockSize, sum.RunID)
	fmt.Fprintf(w, "steps: %d memory-steps: %d\n", sum.Steps, sum.MemorySteps)
	fmt.Fprintf(w, "failures: %d timeouts: %d signals: %d aborted: %d\n", sum.Failures, sum.Timeouts, sum.Signals, sum.Aborted)
	_, err := fmt.Fprintf(w, "divergent: %d desyncs: %d\n", sum.DivergentCalls, sum.Desyncs)
	if sum.Interrupted {
		_, err = fmt.Fprintln(w, "interrupted")
	}
	return err
}
