package schema

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/powersheet/sheetbase/internal/db"
	sheeterrors "github.com/powersheet/sheetbase/internal/errors"
)

func setup(t *testing.T) (*Evolver, *db.DB) {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "schema.db"), db.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	_, err = d.ExecContext(context.Background(), `
		CREATE TABLE s ("id" VARCHAR, "amount" VARCHAR, "note" VARCHAR, "_row_order" INTEGER);
		INSERT INTO s VALUES
			('1', '1.234,56', 'a', 2),
			('2', 'abc', 'b', 0),
			('3', NULL, 'c', 1),
			('4', '7', 'd', 3);`)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	return NewEvolver(d), d
}

func TestInspect(t *testing.T) {
	e, _ := setup(t)
	ctx := context.Background()

	s, err := e.Inspect(ctx, "s")
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if s.TableName != "s" || s.RowCount != 4 || !s.HasRowOrder {
		t.Errorf("unexpected schema: %+v", s)
	}
	names := s.ColumnNames()
	if len(names) != 3 || names[0] != "id" || names[1] != "amount" || names[2] != "note" {
		t.Errorf("columns = %v", names)
	}
	if c, _ := s.Column("amount"); c.Type != "VARCHAR" || !c.Nullable {
		t.Errorf("amount column = %+v", c)
	}

	_, err = e.Inspect(ctx, "missing")
	if !sheeterrors.IsNotFound(err) {
		t.Errorf("Inspect(missing) error = %v, want not found", err)
	}
}

func TestAddColumn(t *testing.T) {
	e, d := setup(t)
	ctx := context.Background()

	if err := e.AddColumn(ctx, "s", "Price (EUR)", "double"); err != nil {
		t.Fatalf("AddColumn failed: %v", err)
	}
	if err := e.AddColumn(ctx, "s", "flag", ""); err != nil {
		t.Fatalf("AddColumn default type failed: %v", err)
	}

	cols, _ := db.Columns(ctx, d, "s")
	price, ok := db.FindColumn(cols, "Price (EUR)")
	if !ok || price.Type != "DOUBLE" {
		t.Errorf("price column = %+v", price)
	}
	if flag, _ := db.FindColumn(cols, "flag"); flag.Type != "VARCHAR" {
		t.Errorf("flag column type = %s", flag.Type)
	}

	var nulls int
	d.QueryRowContext(ctx, `SELECT COUNT(*) FROM s WHERE "Price (EUR)" IS NULL`).Scan(&nulls)
	if nulls != 4 {
		t.Errorf("new column should be null for all rows, got %d nulls", nulls)
	}

	tests := []struct {
		column, typ, code string
	}{
		{"note", "VARCHAR", sheeterrors.CodeColumnExists},
		{"x", "GEOMETRY", sheeterrors.CodeUnsupportedType},
		{"_row_order", "INTEGER", sheeterrors.CodeReservedColumn},
		{`bad"name`, "VARCHAR", sheeterrors.CodeInvalidIdentifier},
	}
	for _, tt := range tests {
		err := e.AddColumn(ctx, "s", tt.column, tt.typ)
		if sheeterrors.GetCategory(err) != sheeterrors.ErrCategorySchema || sheeterrors.GetCode(err) != tt.code {
			t.Errorf("AddColumn(%q, %q) error = %v, want SCHEMA/%s", tt.column, tt.typ, err, tt.code)
		}
	}
}

func TestDropColumn(t *testing.T) {
	e, d := setup(t)
	ctx := context.Background()

	if err := e.DropColumn(ctx, "s", "id", "note"); err != nil {
		t.Fatalf("DropColumn failed: %v", err)
	}
	cols, _ := db.Columns(ctx, d, "s")
	if db.HasColumn(cols, "note") {
		t.Error("note should be dropped")
	}

	if err := e.DropColumn(ctx, "s", "id", "id"); sheeterrors.GetCode(err) != sheeterrors.CodeIdentifierColumn {
		t.Errorf("dropping identifier column error = %v", err)
	}
	if err := e.DropColumn(ctx, "s", "id", "note"); sheeterrors.GetCode(err) != sheeterrors.CodeColumnNotFound {
		t.Errorf("dropping missing column error = %v", err)
	}
	if err := e.DropColumn(ctx, "s", "id", "_row_order"); sheeterrors.GetCode(err) != sheeterrors.CodeReservedColumn {
		t.Errorf("dropping row order error = %v", err)
	}
}

func TestChangeColumnType_DecimalComma(t *testing.T) {
	e, d := setup(t)
	ctx := context.Background()

	report, err := e.ChangeColumnType(ctx, "s", "amount", "DOUBLE", ',')
	if err != nil {
		t.Fatalf("ChangeColumnType failed: %v", err)
	}
	if report.Rows != 4 || report.Converted != 2 || report.Nulled != 1 {
		t.Errorf("report = %+v", report)
	}

	values := map[string]interface{}{}
	rs, err := d.QueryContext(ctx, `SELECT id, amount FROM s`)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	defer rs.Close()
	for rs.Next() {
		var id string
		var v interface{}
		rs.Scan(&id, &v)
		values[id] = v
	}
	if values["1"] != 1234.56 {
		t.Errorf("1.234,56 converted to %v, want 1234.56", values["1"])
	}
	if values["2"] != nil {
		t.Errorf("abc converted to %v, want nil", values["2"])
	}
	if values["4"] != 7.0 {
		t.Errorf("7 converted to %v", values["4"])
	}

	s, _ := e.Inspect(ctx, "s")
	if c, _ := s.Column("amount"); c.Type != "DOUBLE" {
		t.Errorf("amount type = %s, want DOUBLE", c.Type)
	}
	if names := s.ColumnNames(); names[1] != "amount" {
		t.Errorf("column order changed: %v", names)
	}
	if !s.HasRowOrder {
		t.Error("row order column should survive the rebuild")
	}
}

func TestChangeColumnType_NoOpPreservesValuesAndOrder(t *testing.T) {
	e, d := setup(t)
	ctx := context.Background()

	before := snapshot(t, d)
	if _, err := e.ChangeColumnType(ctx, "s", "note", "VARCHAR", '.'); err != nil {
		t.Fatalf("ChangeColumnType failed: %v", err)
	}
	after := snapshot(t, d)

	if len(before) != len(after) {
		t.Fatalf("row count changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("row %d changed: %q -> %q", i, before[i], after[i])
		}
	}
}

func TestChangeColumnType_Failures(t *testing.T) {
	e, d := setup(t)
	ctx := context.Background()

	_, err := e.ChangeColumnType(ctx, "s", "amount", "GEOMETRY", '.')
	if sheeterrors.GetCode(err) != sheeterrors.CodeUnsupportedType {
		t.Errorf("unsupported type error = %v", err)
	}
	_, err = e.ChangeColumnType(ctx, "s", "nope", "INTEGER", '.')
	if sheeterrors.GetCode(err) != sheeterrors.CodeColumnNotFound {
		t.Errorf("missing column error = %v", err)
	}
	_, err = e.ChangeColumnType(ctx, "s", "amount", "INTEGER", ';')
	if sheeterrors.GetCode(err) != sheeterrors.CodeInvalidArgument {
		t.Errorf("bad separator error = %v", err)
	}
	_, err = e.ChangeColumnType(ctx, "missing", "amount", "INTEGER", '.')
	if !sheeterrors.IsNotFound(err) {
		t.Errorf("missing table error = %v", err)
	}

	// Nothing was left behind by the failed attempts.
	var leftovers int
	d.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE name LIKE '\_rebuild\_%' ESCAPE '\'`).Scan(&leftovers)
	if leftovers != 0 {
		t.Errorf("found %d leftover rebuild tables", leftovers)
	}
	cols, _ := db.Columns(ctx, d, "s")
	if c, _ := db.FindColumn(cols, "amount"); c.Type != "VARCHAR" {
		t.Errorf("original table changed: amount is %s", c.Type)
	}
}

func TestChangeColumnType_ToInteger(t *testing.T) {
	e, d := setup(t)
	ctx := context.Background()

	report, err := e.ChangeColumnType(ctx, "s", "id", "INTEGER", '.')
	if err != nil {
		t.Fatalf("ChangeColumnType failed: %v", err)
	}
	if report.Converted != 4 || report.Nulled != 0 {
		t.Errorf("report = %+v", report)
	}
	var sum int64
	d.QueryRowContext(ctx, `SELECT SUM(id) FROM s WHERE typeof(id) = 'integer'`).Scan(&sum)
	if sum != 10 {
		t.Errorf("sum of integer ids = %d, want 10", sum)
	}
}

// snapshot returns the rows of s as text in logical order.
func snapshot(t *testing.T, d *db.DB) []string {
	t.Helper()
	rs, err := d.QueryContext(context.Background(),
		`SELECT id || '|' || COALESCE(amount, '~') || '|' || note FROM s ORDER BY _row_order`)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	defer rs.Close()
	var out []string
	for rs.Next() {
		var s string
		rs.Scan(&s)
		out = append(out, s)
	}
	return out
}
