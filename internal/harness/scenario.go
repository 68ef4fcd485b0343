package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines one memory step's worth of engine output and what the
// comparison must make of it.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// ArgumentSeed is recorded on the memory stepping.
	ArgumentSeed int64 `yaml:"argument_seed,omitempty"`

	// Engines lists the two runs in implementation order.
	Engines []EngineRun `yaml:"engines"`

	// Assertions validate the comparison and the stored rows.
	Assertions []Assertion `yaml:"assertions"`
}

// EngineRun is what one engine runner left behind.
type EngineRun struct {
	// Name labels the engine in the catalogue and in rendered output.
	Name string `yaml:"name"`

	// ExitCode is the runner's exit status.
	ExitCode int `yaml:"exit_code,omitempty"`

	// Timeout marks a runner killed at the deadline.
	Timeout bool `yaml:"timeout,omitempty"`

	// Signal is the signal that terminated the runner, if any.
	Signal int `yaml:"signal,omitempty"`

	// Trace is the raw structured output. It may be empty, truncated or
	// malformed.
	Trace string `yaml:"trace"`
}

// Success reports whether the runner exited cleanly.
func (e EngineRun) Success() bool {
	return e.ExitCode == 0 && !e.Timeout && e.Signal == 0
}

// Assertion validates the comparison or the stored rows.
type Assertion struct {
	// Type specifies the assertion type:
	// - "state": the comparison state
	// - "divergent": the exact set of divergent seqs
	// - "desync": the exact set of desynchronised seqs
	// - "row_count": rows of a table matching where
	// - "final_state": one row of a table carries expected values
	Type string `yaml:"type"`

	// State is the expected comparison state (used by state).
	State string `yaml:"state,omitempty"`

	// Seqs are the expected flagged positions (used by divergent and desync).
	Seqs []int64 `yaml:"seqs,omitempty"`

	// Table is the table name (used by row_count and final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (used by row_count and final_state).
	// All fields must match exactly.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected field values (used by final_state).
	// Subset match: only the listed fields are checked.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of rows (used by row_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertState      = "state"
	AssertDivergent  = "divergent"
	AssertDesync     = "desync"
	AssertRowCount   = "row_count"
	AssertFinalState = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Engines) != 2 {
		return fmt.Errorf("engines must list exactly two runs, got %d", len(s.Engines))
	}

	for i, e := range s.Engines {
		if e.Name == "" {
			return fmt.Errorf("engines[%d]: name is required", i)
		}
		if e.Signal < 0 {
			return fmt.Errorf("engines[%d]: signal must be non-negative", i)
		}
	}
	if s.Engines[0].Name == s.Engines[1].Name {
		return fmt.Errorf("engines share name %q", s.Engines[0].Name)
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertState:
		if a.State == "" {
			return fmt.Errorf("assertions[%d]: state is required for state", index)
		}
	case AssertDivergent, AssertDesync:
		// An empty list asserts that nothing was flagged.
	case AssertRowCount:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for row_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for row_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
