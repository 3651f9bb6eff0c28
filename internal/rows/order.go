package rows

import (
	"context"
	"fmt"

	"github.com/powersheet/sheetbase/internal/db"
)

// EnsureRowOrder adds the _row_order column to table if it is missing and
// backfills it from physical order.
func EnsureRowOrder(ctx context.Context, q db.Querier, table string) error {
	cols, err := db.Columns(ctx, q, table)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return tableNotFound(table)
	}
	if db.HasColumn(cols, db.RowOrderColumn) {
		return nil
	}

	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s INTEGER", db.Quote(table), db.Quote(db.RowOrderColumn))
	if _, err := q.ExecContext(ctx, alter); err != nil {
		return db.Classify("add row order to "+table, err)
	}
	return renumber(ctx, q, table, "rowid")
}

// Renumber rewrites _row_order as 0..n-1 following the current order,
// with unordered rows last in physical order.
func Renumber(ctx context.Context, q db.Querier, table string) error {
	return renumber(ctx, q, table, db.Quote(db.RowOrderColumn)+" NULLS LAST, rowid")
}

func renumber(ctx context.Context, q db.Querier, table, orderBy string) error {
	t := db.Quote(table)
	stmt := fmt.Sprintf(`UPDATE %s SET %s = ranked.pos
		FROM (SELECT rowid AS rid, ROW_NUMBER() OVER (ORDER BY %s) - 1 AS pos FROM %s) AS ranked
		WHERE %s.rowid = ranked.rid`,
		t, db.Quote(db.RowOrderColumn), orderBy, t, t)
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		return db.Classify("renumber rows of "+table, err)
	}
	return nil
}

// isDense reports whether the _row_order values of table are exactly 0..n-1.
func isDense(ctx context.Context, q db.Querier, table string, n int64) (bool, error) {
	if n == 0 {
		return true, nil
	}
	order := db.Quote(db.RowOrderColumn)
	query := fmt.Sprintf("SELECT COUNT(%s), COUNT(DISTINCT %s), MIN(%s), MAX(%s) FROM %s",
		order, order, order, order, db.Quote(table))

	var count, distinct int64
	var lo, hi *int64
	if err := q.QueryRowContext(ctx, query).Scan(&count, &distinct, &lo, &hi); err != nil {
		return false, db.Classify("check row order of "+table, err)
	}
	if count != n || distinct != n || lo == nil || hi == nil {
		return false, nil
	}
	return *lo == 0 && *hi == n-1, nil
}

// Orders returns the _row_order values of table in physical order. Rows
// without an order are reported as -1.
func Orders(ctx context.Context, q db.Querier, table string) ([]int64, error) {
	query := fmt.Sprintf("SELECT COALESCE(%s, -1) FROM %s ORDER BY rowid",
		db.Quote(db.RowOrderColumn), db.Quote(table))
	rs, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, db.Classify("read row order of "+table, err)
	}
	defer rs.Close()

	var out []int64
	for rs.Next() {
		var o int64
		if err := rs.Scan(&o); err != nil {
			return nil, db.Classify("scan row order of "+table, err)
		}
		out = append(out, o)
	}
	return out, rs.Err()
}
