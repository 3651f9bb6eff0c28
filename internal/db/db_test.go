package db

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	sheeterrors "github.com/powersheet/sheetbase/internal/errors"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "sheets.db"), DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpen_MetadataHelpers(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	if _, err := d.ExecContext(ctx, `CREATE TABLE "my table" ("id" INTEGER, "Name" VARCHAR NOT NULL)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := d.ExecContext(ctx, `INSERT INTO "my table" VALUES (1, 'a'), (2, 'b')`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	exists, err := TableExists(ctx, d, "my table")
	if err != nil || !exists {
		t.Fatalf("TableExists = %v, %v", exists, err)
	}
	exists, err = TableExists(ctx, d, "missing")
	if err != nil || exists {
		t.Fatalf("TableExists(missing) = %v, %v", exists, err)
	}

	cols, err := Columns(ctx, d, "my table")
	if err != nil {
		t.Fatalf("Columns: %v", err)
	}
	if len(cols) != 2 {
		t.Fatalf("got %d columns, want 2", len(cols))
	}
	if cols[0].Name != "id" || cols[0].Type != "INTEGER" || cols[0].NotNull {
		t.Errorf("unexpected first column: %+v", cols[0])
	}
	if cols[1].Name != "Name" || cols[1].Type != "VARCHAR" || !cols[1].NotNull {
		t.Errorf("unexpected second column: %+v", cols[1])
	}
	if !HasColumn(cols, "Name") || HasColumn(cols, "name") {
		t.Error("column lookup should be case-sensitive")
	}

	n, err := RowCount(ctx, d, "my table")
	if err != nil || n != 2 {
		t.Errorf("RowCount = %d, %v", n, err)
	}

	missing, err := Columns(ctx, d, "missing")
	if err != nil || len(missing) != 0 {
		t.Errorf("Columns(missing) = %v, %v", missing, err)
	}
}

func TestWithTx_RollbackOnError(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	err := d.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `CREATE TABLE t1 (a INTEGER)`); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	if err == nil {
		t.Fatal("expected error from WithTx")
	}

	exists, _ := TableExists(ctx, d, "t1")
	if exists {
		t.Error("table created inside a failed transaction should not exist")
	}
}

func TestClassify(t *testing.T) {
	d := openTestDB(t)
	_, err := d.ExecContext(context.Background(), `SELECT * FROM nope`)
	classified := Classify("select", err)
	if sheeterrors.GetCategory(classified) != sheeterrors.ErrCategoryOperation {
		t.Errorf("category = %s, want OPERATION", sheeterrors.GetCategory(classified))
	}
	if !IsNoSuchTable(err) {
		t.Errorf("IsNoSuchTable(%v) = false", err)
	}
	if Classify("noop", nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestValidateIdentifier(t *testing.T) {
	valid := []string{"A", "col_A", "First Name", "price (EUR)", "Größe", "a-b.c", "_row_order", "100%"}
	for _, name := range valid {
		if err := ValidateIdentifier(name); err != nil {
			t.Errorf("ValidateIdentifier(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", `a"b`, "a;b", "tab\tname", " lead", "trail ", "sqlite_master", "x'y"}
	for _, name := range invalid {
		err := ValidateIdentifier(name)
		if err == nil {
			t.Errorf("ValidateIdentifier(%q) = nil, want error", name)
			continue
		}
		if sheeterrors.GetCode(err) != sheeterrors.CodeInvalidIdentifier {
			t.Errorf("ValidateIdentifier(%q) code = %s", name, sheeterrors.GetCode(err))
		}
	}
}

func TestSanitizeIdentifier(t *testing.T) {
	tests := map[string]string{
		`"quoted"`:     "quoted",
		"a;b":          "ab",
		"  spaced  ":   "spaced",
		"sqlite_stat1": "stat1",
		";;;":          "",
	}
	for in, want := range tests {
		if got := SanitizeIdentifier(in); got != want {
			t.Errorf("SanitizeIdentifier(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestQuote(t *testing.T) {
	if got := Quote(`a"b`); got != `"a""b"` {
		t.Errorf("Quote = %s", got)
	}
	if got := QuoteAll([]string{"a", "b"}); got != `"a", "b"` {
		t.Errorf("QuoteAll = %s", got)
	}
}

func TestTableLocks_MultiTableNoDeadlock(t *testing.T) {
	locks := NewTableLocks(4)
	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("alpha", "beta", "gamma")
			counter++
			unlock()
		}()
		go func() {
			defer wg.Done()
			unlock := locks.Lock("gamma", "alpha")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Errorf("counter = %d, want 100", counter)
	}
}

func TestTableLocks_StripeIsStable(t *testing.T) {
	locks := NewTableLocks(16)
	if locks.Stripe("sheet_abc") != locks.Stripe("sheet_abc") {
		t.Error("stripe should be deterministic")
	}
	if s := locks.Stripe("anything"); s < 0 || s >= 16 {
		t.Errorf("stripe %d out of range", s)
	}
}

func TestVacuumInto(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	if _, err := d.ExecContext(ctx, `CREATE TABLE t (a INTEGER); INSERT INTO t VALUES (7)`); err != nil {
		t.Fatalf("setup: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "copy.db")
	if err := d.VacuumInto(ctx, dest); err != nil {
		t.Fatalf("VacuumInto: %v", err)
	}

	copyDB, err := Open(dest, DefaultOptions())
	if err != nil {
		t.Fatalf("open copy: %v", err)
	}
	defer copyDB.Close()

	var a int
	if err := copyDB.QueryRowContext(ctx, `SELECT a FROM t`).Scan(&a); err != nil || a != 7 {
		t.Errorf("copy contents = %d, %v", a, err)
	}
}
