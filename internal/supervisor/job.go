package supervisor

import (
	"context"
	"strconv"
)

// Runner is how to launch one engine runner: the executable and the leading
// arguments that select its engine and single-shot mode.
type Runner struct {
	Path string
	Args []string
}

// Job is the per-inner-step input shared by both engines.
type Job struct {
	Module       string
	Memory       string
	ArgumentSeed int64
	InvokeCount  int
}

// Argv returns the runner arguments for j.
func (r Runner) Argv(j Job) []string {
	argv := make([]string, 0, len(r.Args)+10)
	argv = append(argv, r.Args...)
	argv = append(argv,
		"--input", j.Module,
		"--memory", j.Memory,
		"--arg-seed", strconv.FormatInt(j.ArgumentSeed, 10),
		"--invoke-count", strconv.Itoa(j.InvokeCount),
		"--trace-fd", strconv.Itoa(TraceFD),
	)
	return argv
}

// RunJob runs r on j.
func (s *Supervisor) RunJob(ctx context.Context, r Runner, j Job) (Outcome, error) {
	return s.Run(ctx, r.Path, r.Argv(j)...)
}
