// Package compare aligns two engines' traces for one memory stepping and
// extracts their divergences.
//
// Alignment is positional: record i of one trace is paired with record i of
// the other until either trace runs out. Trailing records of the longer trace
// are dropped; the asymmetry is already visible in the engines' coarse
// outcomes.
//
// Both engines draw their schedule from the same argument seed, so paired
// records must name the same function. A mismatch means the schedules
// desynchronised; it is counted, logged and flagged on the persisted rows,
// and alignment continues.
package compare
