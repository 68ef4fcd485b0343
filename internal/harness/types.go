package harness

import (
	"github.com/roach88/wasmdiff/internal/compare"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Errors holds one message per failed assertion.
	Errors []string `json:"errors,omitempty"`

	// Names labels the two engines.
	Names [2]string `json:"names"`

	// Comparison is what the comparator reported.
	Comparison compare.Result `json:"comparison"`

	// Calls are the aligned calls, used for rendering.
	Calls []compare.Call `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{Pass: true, Errors: []string{}}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
