package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// RowOrderColumn is the engine-managed logical position column.
const RowOrderColumn = "_row_order"

// ColumnInfo describes one physical column.
type ColumnInfo struct {
	Ordinal  int
	Name     string
	Type     string
	NotNull  bool
	PrimaryK bool
}

// TableExists reports whether a table with the given name exists.
func TableExists(ctx context.Context, q Querier, table string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		"SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?", table,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, Classify("check table "+table, err)
	}
	return true, nil
}

// Columns returns the physical columns of table in ordinal order. A missing
// table yields an empty slice.
func Columns(ctx context.Context, q Querier, table string) ([]ColumnInfo, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT cid, name, type, "notnull", pk FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, Classify("read columns of "+table, err)
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var c ColumnInfo
		var notNull, pk int
		if err := rows.Scan(&c.Ordinal, &c.Name, &c.Type, &notNull, &pk); err != nil {
			return nil, Classify("scan column of "+table, err)
		}
		c.NotNull = notNull != 0
		c.PrimaryK = pk != 0
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, Classify("iterate columns of "+table, err)
	}
	return cols, nil
}

// HasColumn reports whether cols contains a column named name.
func HasColumn(cols []ColumnInfo, name string) bool {
	_, ok := FindColumn(cols, name)
	return ok
}

// HasColumnFold reports whether cols contains a column whose name matches
// name case-insensitively. SQLite rejects such near-duplicates.
func HasColumnFold(cols []ColumnInfo, name string) bool {
	for _, c := range cols {
		if strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

// FindColumn returns the column named name.
func FindColumn(cols []ColumnInfo, name string) (ColumnInfo, bool) {
	for _, c := range cols {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnInfo{}, false
}

// RowCount returns the number of rows in table.
func RowCount(ctx context.Context, q Querier, table string) (int64, error) {
	var n int64
	if err := q.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", Quote(table))).Scan(&n); err != nil {
		return 0, Classify("count rows of "+table, err)
	}
	return n, nil
}
