// Package supervisor runs engine-runner subprocesses under a wall-clock
// deadline and classifies how they ended.
//
// A runner gets three channels: stdin, stdout and stderr are attached to the
// null device and never inspected; file descriptor 3 is the write end of a
// pipe carrying the structured trace. A background loop drains the pipe with
// short read deadlines so it can notice a stop request between reads.
//
// Run never returns an error for runner misbehavior. Crashes, signals,
// timeouts and garbage output are all encoded in Outcome. The only error is
// ErrSpawn (and pipe setup failures wrapped in it), which means the
// environment is broken and the campaign should stop.
package supervisor
