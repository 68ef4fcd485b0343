package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/roach88/wasmdiff/internal/ir"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	if !s.Created() {
		t.Error("Created() = false for a new file")
	}
}

func TestOpen_SeedsImplementationsOnCreate(t *testing.T) {
	s := createTestStore(t)

	impls, err := s.Implementations(context.Background())
	if err != nil {
		t.Fatalf("Implementations() failed: %v", err)
	}
	if len(impls) != len(DefaultImplementations) {
		t.Fatalf("got %d implementations, want %d", len(impls), len(DefaultImplementations))
	}
	for i, impl := range impls {
		if impl != DefaultImplementations[i] {
			t.Errorf("implementation %d = %+v, want %+v", i, impl, DefaultImplementations[i])
		}
	}
}

func TestOpen_CustomCatalogue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path, WithImplementations(
		ir.Implementation{ID: 1, Name: "v8"},
		ir.Implementation{ID: 2, Name: "spidermonkey"},
		ir.Implementation{ID: 3, Name: "wazero-interpreter"},
	))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	impls, err := s.Implementations(context.Background())
	if err != nil {
		t.Fatalf("Implementations() failed: %v", err)
	}
	if len(impls) != 3 || impls[1].Name != "spidermonkey" {
		t.Errorf("unexpected catalogue: %+v", impls)
	}
}

func TestOpen_ExistingFileSkipsSeeding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	s1.Close()

	// A different catalogue on reopen must be ignored.
	s2, err := Open(path, WithImplementations(ir.Implementation{ID: 9, Name: "other"}))
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s2.Close()

	if s2.Created() {
		t.Error("Created() = true for an existing file")
	}
	impls, err := s2.Implementations(context.Background())
	if err != nil {
		t.Fatalf("Implementations() failed: %v", err)
	}
	if len(impls) != len(DefaultImplementations) {
		t.Errorf("catalogue changed on reopen: %+v", impls)
	}
}

func TestOpen_AppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	createTestTree(t, s1)
	if err := s1.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s2.Close()
	createTestTree(t, s2)
	if err := s2.Flush(); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}

	suites, err := s2.SeedSuites(ctx)
	if err != nil {
		t.Fatalf("SeedSuites() failed: %v", err)
	}
	if len(suites) != 2 {
		t.Errorf("got %d seed suites after reopen, want 2", len(suites))
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestClose_MultipleCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("first Close() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}

func TestClose_FlushesPendingWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	createTestTree(t, s1)
	if s1.Pending() != 3 {
		t.Errorf("Pending() = %d, want 3", s1.Pending())
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()
	counts, err := s2.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts() failed: %v", err)
	}
	if counts["memory_steppings"] != 1 {
		t.Errorf("memory_steppings = %d after close, want 1", counts["memory_steppings"])
	}
}

func TestFlush_CommitsBatch(t *testing.T) {
	s := createTestStore(t)

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush() with nothing pending failed: %v", err)
	}

	createTestTree(t, s)
	if s.tx == nil {
		t.Fatal("expected an open batch after inserts")
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	if s.tx != nil || s.Pending() != 0 {
		t.Errorf("batch not reset: tx=%v pending=%d", s.tx, s.Pending())
	}

	// Committed rows are visible outside any transaction.
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM steppings").Scan(&n); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("steppings = %d, want 1", n)
	}
}

func TestDB_ReturnsUnderlyingConnection(t *testing.T) {
	s := createTestStore(t)

	db := s.DB()
	if db == nil {
		t.Fatal("DB() returned nil")
	}
	if err := db.Ping(); err != nil {
		t.Errorf("DB() connection not usable: %v", err)
	}
}

func TestQuery_SeesUnflushedWrites(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertSeedSuite(ctx, ir.SeedSuite{Seed: 1, BlockSize: 64, GeneratorVersion: ir.GeneratorVersion, RunID: "q"}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	rows, err := s.Query(ctx, "SELECT run_id FROM seed_suites WHERE seed = ?", 1)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	defer rows.Close()

	var got []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		got = append(got, id)
	}
	if len(got) != 1 || got[0] != "q" {
		t.Errorf("run ids = %v, want [q]", got)
	}
}

// Pragma tests

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name, want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.verifyPragma(tt.name, tt.want); err != nil {
				t.Error(err)
			}
		})
	}
}

// Schema tests

func TestSchema_Tables(t *testing.T) {
	s := createTestStore(t)

	expected := map[string][]string{
		"seed_suites":      {"id", "seed", "block_size", "generator_version", "run_id", "created_at"},
		"steppings":        {"id", "seed_suite_id", "step"},
		"memory_steppings": {"id", "stepping_id", "step", "argument_seed"},
		"implementations":  {"id", "name"},
		"test_cases": {
			"id", "memory_stepping_id", "implementation_id", "timestamp", "success",
			"timeout", "signal", "exit_code", "elapsed_ns", "trace_digest", "trace",
		},
		"function_calls":  {"id", "memory_stepping_id", "seq", "function_ordinal", "function_name", "divergent"},
		"function_args":   {"id", "function_call_id", "position", "value"},
		"test_case_calls": {"id", "test_case_id", "function_call_id", "success", "elapsed_ns", "has_result", "result", "desync"},
		"memory_diffs":    {"id", "test_case_call_id", "byte_index", "before", "after"},
		"global_diffs":    {"id", "test_case_call_id", "slot", "name", "before", "after"},
	}
	if len(expected) != len(Tables) {
		t.Fatalf("expected map covers %d tables, Tables has %d", len(expected), len(Tables))
	}

	for _, table := range Tables {
		columns := getTableColumns(t, s.db, table)
		for _, col := range expected[table] {
			if !contains(columns, col) {
				t.Errorf("%s table missing column %q", table, col)
			}
		}
	}
}

func TestSchema_Indexes(t *testing.T) {
	s := createTestStore(t)

	expected := map[string]string{
		"steppings":        "idx_steppings_suite",
		"memory_steppings": "idx_memory_steppings_stepping",
		"test_cases":       "idx_test_cases_memory_stepping",
		"function_calls":   "idx_function_calls_divergent",
		"test_case_calls":  "idx_test_case_calls_call",
		"memory_diffs":     "idx_memory_diffs_call",
		"global_diffs":     "idx_global_diffs_call",
	}
	for table, idx := range expected {
		if !contains(getTableIndexes(t, s.db, table), idx) {
			t.Errorf("%s table missing index %q", table, idx)
		}
	}
}

// Constraint tests

func TestConstraint_ForeignKeys(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertStepping(ctx, ir.Stepping{SeedSuiteID: 999, Step: 0}); err == nil {
		t.Error("expected FK violation for stepping without seed suite")
	}
	if _, err := s.InsertFunctionArg(ctx, ir.FunctionArg{FunctionCallID: 999, Position: 0}); err == nil {
		t.Error("expected FK violation for arg without function call")
	}

	tree := createTestTree(t, s)
	if _, err := s.InsertTestCase(ctx, ir.TestCase{MemorySteppingID: tree.memStepping, ImplementationID: 77}); err == nil {
		t.Error("expected FK violation for unknown implementation")
	}
}

func TestConstraint_UniqueSequence(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	tree := createTestTree(t, s)

	call := ir.FunctionCall{MemorySteppingID: tree.memStepping, Seq: 0, FunctionName: "f0"}
	if _, err := s.InsertFunctionCall(ctx, call); err != nil {
		t.Fatalf("first InsertFunctionCall() failed: %v", err)
	}
	if _, err := s.InsertFunctionCall(ctx, call); err == nil {
		t.Error("expected UNIQUE violation for duplicate seq")
	}
}

func TestConstraint_OneTestCasePerEngine(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	tree := createTestTree(t, s)

	createTestCase(t, s, tree.memStepping, 1)
	if _, err := s.InsertTestCase(ctx, ir.TestCase{MemorySteppingID: tree.memStepping, ImplementationID: 1}); err == nil {
		t.Error("expected UNIQUE violation for second test case of the same engine")
	}
}

// Migration tests

func TestMigration_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	if err := s.verifyPragma("user_version", "1"); err != nil {
		t.Error(err)
	}
}

func TestMigration_RejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := s.db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("set user_version failed: %v", err)
	}
	s.Close()

	if _, err := Open(path); err == nil {
		t.Error("expected error opening a store with a newer schema version")
	}
}
