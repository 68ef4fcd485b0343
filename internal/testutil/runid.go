package testutil

// FixedRunID returns a run-id generator that always yields id.
//
// Campaign run ids normally come from UUIDv7; a fixed id makes work
// directories and stored seed suites predictable. If id is empty,
// "test-run-default" is used.
func FixedRunID(id string) func() string {
	if id == "" {
		id = "test-run-default"
	}
	return func() string { return id }
}
