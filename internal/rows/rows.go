// Package rows maintains the logical order of sheet rows.
//
// Logical order lives in the engine-managed _row_order column. It is
// created lazily by the first position-aware insert, backfilled from
// physical order, and kept dense (0..n-1) by every insert and delete.
// Callers hold the table lock for the duration of each call.
package rows

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/powersheet/sheetbase/internal/coerce"
	"github.com/powersheet/sheetbase/internal/db"
	sheeterrors "github.com/powersheet/sheetbase/internal/errors"
	"github.com/powersheet/sheetbase/pkg/types"
)

// DefaultPageSize is the page size used by ReadRows when limit is not positive.
const DefaultPageSize = 1000

// Manager performs row-level structural operations.
type Manager struct {
	db  *db.DB
	log *logrus.Entry
}

// NewManager returns a row manager over d.
func NewManager(d *db.DB) *Manager {
	return &Manager{db: d, log: logrus.WithField("component", "rows")}
}

// At returns a position argument for InsertRow.
func At(position int64) *int64 {
	return &position
}

// InsertRow inserts an all-null row at position, or appends when position
// is nil, and returns the new row count. Positions beyond the end append.
func (m *Manager) InsertRow(ctx context.Context, table string, position *int64) (int64, error) {
	if position != nil && *position < 0 {
		return 0, sheeterrors.NewValidationError(sheeterrors.CodeInvalidPosition,
			fmt.Sprintf("row position must not be negative, got %d", *position))
	}

	var newCount int64
	err := m.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := EnsureRowOrder(ctx, tx, table); err != nil {
			return err
		}

		n, err := db.RowCount(ctx, tx, table)
		if err != nil {
			return err
		}
		pos := n
		if position != nil && *position < n {
			pos = *position
		}

		dense, err := isDense(ctx, tx, table, n)
		if err != nil {
			return err
		}
		if !dense {
			m.log.WithField("table", table).Warn("row order not contiguous, renumbering")
			if err := Renumber(ctx, tx, table); err != nil {
				return err
			}
		}

		order := db.Quote(db.RowOrderColumn)
		shift := fmt.Sprintf("UPDATE %s SET %s = %s + 1 WHERE %s >= ?", db.Quote(table), order, order, order)
		if _, err := tx.ExecContext(ctx, shift, pos); err != nil {
			return db.Classify("shift rows of "+table, err)
		}
		insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?)", db.Quote(table), order)
		if _, err := tx.ExecContext(ctx, insert, pos); err != nil {
			return db.Classify("insert row into "+table, err)
		}

		newCount = n + 1
		m.log.WithFields(logrus.Fields{"table": table, "position": pos, "rows": newCount}).Debug("row inserted")
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newCount, nil
}

// DeleteRow deletes the rows whose idColumn equals rowID and closes the
// gap in logical order. A missing row is a ROW_NOT_FOUND error.
func (m *Manager) DeleteRow(ctx context.Context, table, idColumn string, rowID interface{}) error {
	if err := db.ValidateIdentifier(idColumn); err != nil {
		return err
	}
	if rowID == nil {
		return sheeterrors.NewValidationError(sheeterrors.CodeInvalidArgument, "row identifier is required")
	}

	return m.db.WithTx(ctx, func(tx *sql.Tx) error {
		cols, err := db.Columns(ctx, tx, table)
		if err != nil {
			return err
		}
		if len(cols) == 0 {
			return tableNotFound(table)
		}
		if !db.HasColumn(cols, idColumn) {
			return sheeterrors.NewSchemaError(sheeterrors.CodeColumnNotFound,
				fmt.Sprintf("identifier column %q does not exist", idColumn))
		}

		stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", db.Quote(table), db.Quote(idColumn))
		res, err := tx.ExecContext(ctx, stmt, coerce.BindValue(rowID))
		if err != nil {
			return db.Classify("delete row from "+table, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return db.Classify("delete row from "+table, err)
		}
		if affected == 0 {
			return sheeterrors.NewNotFoundError(sheeterrors.CodeRowNotFound,
				fmt.Sprintf("row %q not found", coerce.Text(rowID))).
				WithDetails(map[string]interface{}{"row_id": coerce.Text(rowID)})
		}

		if db.HasColumn(cols, db.RowOrderColumn) {
			if err := Renumber(ctx, tx, table); err != nil {
				return err
			}
		}
		m.log.WithFields(logrus.Fields{"table": table, "rows": affected}).Debug("row deleted")
		return nil
	})
}

// ReadRows returns up to limit rows starting at logical position offset.
// Rows are ordered by _row_order when present, else by physical order.
func (m *Manager) ReadRows(ctx context.Context, table string, offset, limit int64) (*types.RowPage, error) {
	if offset < 0 {
		return nil, sheeterrors.NewValidationError(sheeterrors.CodeInvalidArgument,
			fmt.Sprintf("offset must not be negative, got %d", offset))
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}

	cols, err := db.Columns(ctx, m.db, table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, tableNotFound(table)
	}

	names := make([]string, 0, len(cols))
	orderBy := "rowid"
	for _, c := range cols {
		if c.Name == db.RowOrderColumn {
			orderBy = db.Quote(db.RowOrderColumn) + " NULLS LAST, rowid"
			continue
		}
		names = append(names, c.Name)
	}

	total, err := db.RowCount(ctx, m.db, table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT ? OFFSET ?",
		db.QuoteAll(names), db.Quote(table), orderBy)
	rs, err := m.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, db.Classify("read rows of "+table, err)
	}
	defer rs.Close()

	page := &types.RowPage{Columns: names, Rows: [][]interface{}{}, Offset: offset, Total: total}
	for rs.Next() {
		values := make([]interface{}, len(names))
		ptrs := make([]interface{}, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rs.Scan(ptrs...); err != nil {
			return nil, db.Classify("scan row of "+table, err)
		}
		for i, v := range values {
			values[i] = coerce.Display(v)
		}
		page.Rows = append(page.Rows, values)
	}
	if err := rs.Err(); err != nil {
		return nil, db.Classify("read rows of "+table, err)
	}
	return page, nil
}

func tableNotFound(table string) error {
	return sheeterrors.NewNotFoundError(sheeterrors.CodeTableNotFound,
		fmt.Sprintf("table %q does not exist", table))
}
