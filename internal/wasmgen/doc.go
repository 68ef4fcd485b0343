// Package wasmgen builds random but valid WebAssembly modules from a block
// of seed bytes.
//
// Every generated module has the same shape so the engine runner can drive
// it without imports:
//   - one exported linear memory named "memory" (1 to 4 pages)
//   - 1 to 6 exported mutable globals "g0".."gN" of random kinds
//   - 1 to 8 exported functions "f0".."fN" with random signatures
//
// Function bodies are typed expression trees with side-effecting store and
// global.set statements. There are no loops or calls, so every invocation
// terminates; traps (division by zero, out-of-bounds access, invalid
// float-to-int truncation) are expected and deliberate.
//
// The same block always yields the same binary.
package wasmgen
