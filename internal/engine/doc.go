// Package engine drives WebAssembly engines on behalf of the runner command.
//
// Engine is the capability set the runner needs from an engine: list the
// exported functions, import a memory image, invoke a function, read and
// write globals, and snapshot memory for comparison. Wazero provides the two
// reference implementations (interpreter and compiler).
//
// The coordinator never uses this package directly. It talks to runners
// through the subprocess contract: a trace written to a dedicated file
// descriptor and an exit status.
//
// RunSingle is the single-shot mode: select functions and arguments from the
// argument seed, invoke them, and stream one trace record per call so a
// runner killed mid-run leaves a repairable prefix.
package engine
