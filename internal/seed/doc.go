// Package seed implements the determinism scheme of a campaign.
//
// Everything a campaign feeds to the engines is a pure function of a few
// integers:
//
//	seed, block_size        -> the module byte stream
//	step                    -> one non-overlapping block of that stream
//	memory_step, block      -> one image from the memory catalogue
//	argument_seed           -> function selection and argument values
//
// Argument seeds are drawn from the campaign's running generator, but once
// recorded they reproduce a run without any prior campaign state.
package seed
