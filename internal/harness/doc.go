// Package harness runs comparison scenarios against a scratch store.
//
// A scenario fixes what two engine runners produced for one memory step and
// states what the comparison must record. The harness persists both outcomes
// the way a campaign does, aligns the traces, writes every row and then
// checks the assertions against the store.
//
// # Scenario Format
//
//	name: memory_divergence
//	description: "The compiler writes a byte the interpreter does not"
//	argument_seed: -99
//	engines:
//	  - name: wazero-interpreter
//	    trace: |
//	      [{"function":"f0","ordinal":0,"args":["1"],"elapsed":"5","success":true,"result":"1"}]
//	  - name: wazero-compiler
//	    exit_code: 1
//	    trace: |
//	      [{"function":"f0","ordinal":0,"args":["1"],"elapsed":"5","success":true,"result":"1",
//	        "MemoryDiff":{"5":["0","7"]}}]
//	assertions:
//	  - type: state
//	    state: completed
//	  - type: divergent
//	    seqs: [0]
//	  - type: row_count
//	    table: memory_diffs
//	    count: 1
//	  - type: final_state
//	    table: test_cases
//	    where: { implementation_id: 2 }
//	    expect: { exit_code: 1, success: false }
//
// An engine succeeds unless it timed out, was signalled or exited non-zero.
// The first engine is implementation 1 and the second implementation 2.
//
// # Assertion Types
//
//   - state: the comparison ended in the given state
//   - divergent: exactly these seqs were stored as divergent
//   - desync: exactly these seqs were stored as desynchronised
//   - row_count: a table holds count rows matching where
//   - final_state: exactly one row matches where and carries expect
//
// # Golden Files
//
// RunWithGolden renders every aligned call and compares it against
// testdata/golden/{name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
