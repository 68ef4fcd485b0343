package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/roach88/wasmdiff/internal/ir"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testTree holds the ids of a minimal campaign tree down to one memory stepping.
type testTree struct {
	suite, stepping, memStepping int64
}

// createTestTree inserts a seed suite, one stepping and one memory stepping.
func createTestTree(t *testing.T, s *Store) testTree {
	t.Helper()
	ctx := context.Background()

	suite, err := s.InsertSeedSuite(ctx, ir.SeedSuite{
		Seed:             42,
		BlockSize:        4096,
		GeneratorVersion: ir.GeneratorVersion,
		RunID:            "run-test",
		CreatedAt:        time.Unix(1700000000, 0).UTC(),
	})
	if err != nil {
		t.Fatalf("InsertSeedSuite() failed: %v", err)
	}
	stepping, err := s.InsertStepping(ctx, ir.Stepping{SeedSuiteID: suite, Step: 3})
	if err != nil {
		t.Fatalf("InsertStepping() failed: %v", err)
	}
	ms, err := s.InsertMemoryStepping(ctx, ir.MemoryStepping{SteppingID: stepping, Step: 1, ArgumentSeed: -77})
	if err != nil {
		t.Fatalf("InsertMemoryStepping() failed: %v", err)
	}
	return testTree{suite: suite, stepping: stepping, memStepping: ms}
}

// createTestCase inserts a successful test case for an implementation.
func createTestCase(t *testing.T, s *Store, memStepping, impl int64) int64 {
	t.Helper()
	id, err := s.InsertTestCase(context.Background(), ir.TestCase{
		MemorySteppingID: memStepping,
		ImplementationID: impl,
		Timestamp:        time.Unix(1700000001, 0).UTC(),
		Success:          true,
		ExitCode:         0,
		ElapsedNS:        1500,
		TraceDigest:      "abc",
	})
	if err != nil {
		t.Fatalf("InsertTestCase() failed: %v", err)
	}
	return id
}

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, item string) bool {
	return slices.Contains(slice, item)
}
