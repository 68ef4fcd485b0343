// Package campaign drives a differential-testing campaign.
//
// One campaign is one seed suite. Each outer step asks the generator for a
// fresh module; each inner step asks for the next memory image, draws an
// argument seed and runs both engines concurrently under the supervisor.
// Once both runs are joined the loop persists the memory stepping, both test
// cases and the comparator's rows, all from the calling goroutine.
//
// Cancelling the context passed to Run is the interrupt: it is observed at
// the top of each inner step, in-flight engine runs are allowed to finish,
// the generator is told to quit and the store is flushed.
package campaign
