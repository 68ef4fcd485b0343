package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/wasmdiff/internal/store"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Database string
	Suite    int64 // 0 means every suite
	Limit    int
}

// SuiteReport is one seed suite's totals and divergent calls.
type SuiteReport struct {
	store.SuiteSummary
	Divergences []store.Divergence `json:"divergences"`
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize recorded campaigns and their divergences",
		Long: `Summarize the seed suites in a campaign store.

For each suite the totals of steps, memory steps, engine failures, timeouts,
signals, aligned calls and divergent calls are printed, followed by the
divergent calls with the coordinates that reproduce them.

Examples:
  wasmdiff report --db ./campaign.db
  wasmdiff report --db ./campaign.db --suite 3 --limit 0 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().Int64Var(&opts.Suite, "suite", 0, "report only this seed suite")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "divergent calls listed per suite (0: all)")

	return cmd
}

func runReport(opts *ReportOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	// Opening a missing path would create an empty store.
	if _, err := os.Stat(opts.Database); err != nil {
		return formatter.Fail(ExitCommandError, CodeStore, "store not found", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, CodeStore, "failed to open store", err)
	}
	defer st.Close()

	reports, err := buildReports(ctx, st, opts.Suite, opts.Limit)
	if err != nil {
		return formatter.Fail(ExitCommandError, CodeStore, "failed to read store", err)
	}

	if opts.Format == "json" {
		return formatter.Success(reports)
	}
	return writeReports(cmd.OutOrStdout(), reports)
}

func buildReports(ctx context.Context, st *store.Store, suiteID int64, limit int) ([]SuiteReport, error) {
	var ids []int64
	if suiteID != 0 {
		ids = []int64{suiteID}
	} else {
		suites, err := st.SeedSuites(ctx)
		if err != nil {
			return nil, err
		}
		for _, s := range suites {
			ids = append(ids, s.ID)
		}
	}

	reports := make([]SuiteReport, 0, len(ids))
	for _, id := range ids {
		sum, err := st.Summarize(ctx, id)
		if err != nil {
			return nil, err
		}
		divs, err := st.Divergences(ctx, id, limit)
		if err != nil {
			return nil, err
		}
		reports = append(reports, SuiteReport{SuiteSummary: sum, Divergences: divs})
	}
	return reports, nil
}

func writeReports(w io.Writer, reports []SuiteReport) error {
	if len(reports) == 0 {
		_, err := fmt.Fprintln(w, "No seed suites found in store.")
		return err
	}

	var b strings.Builder
	for i, r := range reports {
		if i > 0 {
			b.WriteByte('\n')
		}
		s := r.Suite
		fmt.Fprintf(&b, "suite %d: seed %d block-size %d generator %s run %s at %s\n",
			s.ID, s.Seed, s.BlockSize, s.GeneratorVersion, s.RunID, s.CreatedAt.UTC().Format(time.RFC3339))
		fmt.Fprintf(&b, "  steps: %d memory-steps: %d test-cases: %d\n", r.Steps, r.MemorySteps, r.TestCases)
		fmt.Fprintf(&b, "  failures: %d timeouts: %d signals: %d\n", r.Failures, r.Timeouts, r.Signals)
		fmt.Fprintf(&b, "  calls: %d divergent: %d desyncs: %d\n", r.Calls, r.DivergentCalls, r.Desyncs)

		for _, d := range r.Divergences {
			c := d.Coordinates
			fmt.Fprintf(&b, "  #%d %s (ordinal %d) --seed %d --block-size %d --step %d --memory-step %d --arg-seed %d\n",
				d.Seq, d.FunctionName, d.FunctionOrdinal, c.Seed, c.BlockSize, c.Step, c.MemoryStep, c.ArgumentSeed)
			for _, e := range d.Engines {
				status := "trap"
				if e.Success {
					status = "ok"
				}
				if e.HasResult {
					status += fmt.Sprintf(" result=%d", e.Result)
				}
				fmt.Fprintf(&b, "    %s: %s memory-diffs=%d global-diffs=%d\n", e.Implementation, status, e.MemoryDiffs, e.GlobalDiffs)
			}
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
