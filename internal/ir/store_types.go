package ir

import "time"

// NOTE: These are store-layer row types. IDs are auto-increment surrogate
// keys assigned by the store; every row except SeedSuite and Implementation
// references exactly one parent.

// SeedSuite is one campaign run.
type SeedSuite struct {
	ID               int64     `json:"id"`
	Seed             int64     `json:"seed"`
	BlockSize        int64     `json:"block_size"`
	GeneratorVersion string    `json:"generator_version"`
	RunID            string    `json:"run_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// Stepping is one outer iteration: a freshly generated module.
type Stepping struct {
	ID          int64 `json:"id"`
	SeedSuiteID int64 `json:"seed_suite_id"`
	Step        int64 `json:"step"`
}

// MemoryStepping is one inner iteration: a memory image plus argument seed.
type MemoryStepping struct {
	ID           int64 `json:"id"`
	SteppingID   int64 `json:"stepping_id"`
	Step         int64 `json:"step"`
	ArgumentSeed int64 `json:"argument_seed"`
}

// Implementation is one row of the fixed engine catalogue.
type Implementation struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// TestCase is one engine's coarse outcome for a MemoryStepping.
type TestCase struct {
	ID               int64     `json:"id"`
	MemorySteppingID int64     `json:"memory_stepping_id"`
	ImplementationID int64     `json:"implementation_id"`
	Timestamp        time.Time `json:"timestamp"`
	Success          bool      `json:"success"`
	Timeout          bool      `json:"timeout"`
	Signal           int       `json:"signal"`
	ExitCode         int       `json:"exit_code"`
	ElapsedNS        int64     `json:"elapsed_ns"`
	TraceDigest      string    `json:"trace_digest,omitempty"`
	// Trace holds the raw runner output only when it could not be parsed.
	Trace []byte `json:"trace,omitempty"`
}

// FunctionCall is one position in the call sequence shared by both engines.
type FunctionCall struct {
	ID               int64  `json:"id"`
	MemorySteppingID int64  `json:"memory_stepping_id"`
	Seq              int64  `json:"seq"`
	FunctionOrdinal  int64  `json:"function_ordinal"`
	FunctionName     string `json:"function_name"`
	Divergent        bool   `json:"divergent"`
}

// FunctionArg is one argument bit pattern of a FunctionCall.
type FunctionArg struct {
	ID             int64 `json:"id"`
	FunctionCallID int64 `json:"function_call_id"`
	Position       int64 `json:"position"`
	Value          int64 `json:"value"`
}

// TestCaseCall is one engine's result for a FunctionCall.
type TestCaseCall struct {
	ID             int64 `json:"id"`
	TestCaseID     int64 `json:"test_case_id"`
	FunctionCallID int64 `json:"function_call_id"`
	Success        bool  `json:"success"`
	ElapsedNS      int64 `json:"elapsed_ns"`
	HasResult      bool  `json:"has_result"`
	Result         int64 `json:"result"`
	// Desync marks a record whose function did not match the other engine's
	// record at the same position.
	Desync bool `json:"desync"`
}

// MemoryDiff is one byte changed by a call, as reported by one engine.
type MemoryDiff struct {
	ID             int64 `json:"id"`
	TestCaseCallID int64 `json:"test_case_call_id"`
	ByteIndex      int64 `json:"byte_index"`
	Before         int64 `json:"before"`
	After          int64 `json:"after"`
}

// GlobalDiff is one global changed by a call, as reported by one engine.
type GlobalDiff struct {
	ID             int64  `json:"id"`
	TestCaseCallID int64  `json:"test_case_call_id"`
	Slot           int64  `json:"slot"`
	Name           string `json:"name"`
	Before         int64  `json:"before"`
	After          int64  `json:"after"`
}

// Coordinates are the integers that reproduce one MemoryStepping.
type Coordinates struct {
	Seed         int64 `json:"seed"`
	BlockSize    int64 `json:"block_size"`
	Step         int64 `json:"step"`
	MemoryStep   int64 `json:"memory_step"`
	ArgumentSeed int64 `json:"argument_seed"`
}
