// Package formula stores formula text attached to sheet cells.
//
// Formulas live in the sheet_formulas side table keyed by physical table,
// row identifier text and column. They are written only by SetCellValue,
// in the same transaction as the cell value, and are never evaluated.
package formula

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/powersheet/sheetbase/internal/coerce"
	"github.com/powersheet/sheetbase/internal/db"
	sheeterrors "github.com/powersheet/sheetbase/internal/errors"
	"github.com/powersheet/sheetbase/pkg/types"
)

// CellUpdate describes one cell write.
type CellUpdate struct {
	// IDColumn is the column addressing the row
	IDColumn string

	// RowID is the identifier value of the target row
	RowID interface{}

	// Column is the column written
	Column string

	// Value is the new cell value; nil clears the cell
	Value interface{}

	// Formula is the formula text displayed by the cell, if any. A nil
	// formula removes any formula previously stored for the cell.
	Formula *string
}

// Store manages cell values together with their formulas.
type Store struct {
	db  *db.DB
	log *logrus.Entry
}

// NewStore returns a formula store over d. The sheet_formulas table is
// created by the catalog.
func NewStore(d *db.DB) *Store {
	return &Store{db: d, log: logrus.WithField("component", "formula")}
}

// SetCellValue writes the cell value and brings the formula entry for the
// cell in line with u.Formula. A row that does not exist yields
// ROW_NOT_FOUND and leaves the formula table untouched.
func (s *Store) SetCellValue(ctx context.Context, table string, u CellUpdate) error {
	if err := db.ValidateIdentifier(u.IDColumn); err != nil {
		return err
	}
	if u.Column == db.RowOrderColumn {
		return sheeterrors.NewSchemaError(sheeterrors.CodeReservedColumn,
			fmt.Sprintf("column %q is managed by the engine", u.Column))
	}
	if err := db.ValidateIdentifier(u.Column); err != nil {
		return err
	}
	if u.RowID == nil {
		return sheeterrors.NewValidationError(sheeterrors.CodeInvalidArgument, "row identifier is required")
	}
	rowKey := RowKey(u.RowID)

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		cols, err := db.Columns(ctx, tx, table)
		if err != nil {
			return err
		}
		if len(cols) == 0 {
			return sheeterrors.NewNotFoundError(sheeterrors.CodeTableNotFound,
				fmt.Sprintf("table %q does not exist", table))
		}
		for _, name := range []string{u.IDColumn, u.Column} {
			if !db.HasColumn(cols, name) {
				return sheeterrors.NewSchemaError(sheeterrors.CodeColumnNotFound,
					fmt.Sprintf("column %q does not exist", name))
			}
		}

		stmt := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?",
			db.Quote(table), db.Quote(u.Column), db.Quote(u.IDColumn))
		res, err := tx.ExecContext(ctx, stmt, coerce.BindValue(u.Value), coerce.BindValue(u.RowID))
		if err != nil {
			return db.Classify("update cell", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sheeterrors.NewNotFoundError(sheeterrors.CodeRowNotFound,
				fmt.Sprintf("row %q not found", rowKey)).
				WithDetails(map[string]interface{}{"row_id": rowKey})
		}

		if u.Formula != nil {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO sheet_formulas (table_name, row_id, column_name, formula, updated_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (table_name, row_id, column_name)
				DO UPDATE SET formula = excluded.formula, updated_at = excluded.updated_at`,
				table, rowKey, u.Column, *u.Formula, time.Now().UnixMilli())
			if err != nil {
				return db.Classify("store formula", err)
			}
		} else {
			_, err = tx.ExecContext(ctx,
				`DELETE FROM sheet_formulas WHERE table_name = ? AND row_id = ? AND column_name = ?`,
				table, rowKey, u.Column)
			if err != nil {
				return db.Classify("clear formula", err)
			}
		}

		s.log.WithFields(logrus.Fields{
			"table":   table,
			"row_id":  rowKey,
			"column":  u.Column,
			"formula": u.Formula != nil,
		}).Debug("cell updated")
		return nil
	})
}

// ListFormulas returns every formula stored for table, ordered by row and
// column. Integer row ids sort numerically ahead of text ids, which sort
// lexically. A table without formulas yields an empty slice.
func (s *Store) ListFormulas(ctx context.Context, table string) ([]types.Formula, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT row_id, column_name, formula FROM sheet_formulas
		WHERE table_name = ?
		ORDER BY
			CASE WHEN row_id <> '' AND row_id NOT GLOB '*[^0-9]*' THEN 0 ELSE 1 END,
			CASE WHEN row_id <> '' AND row_id NOT GLOB '*[^0-9]*' THEN CAST(row_id AS INTEGER) END,
			row_id, column_name`, table)
	if err != nil {
		if db.IsNoSuchTable(err) {
			return []types.Formula{}, nil
		}
		return nil, db.Classify("list formulas", err)
	}
	defer rows.Close()

	formulas := []types.Formula{}
	for rows.Next() {
		var f types.Formula
		if err := rows.Scan(&f.RowID, &f.Column, &f.Formula); err != nil {
			return nil, db.Classify("scan formula", err)
		}
		formulas = append(formulas, f)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify("list formulas", err)
	}
	return formulas, nil
}

// Purge removes every formula stored for table. It has the signature of a
// catalog drop hook.
func Purge(ctx context.Context, q db.Querier, table string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM sheet_formulas WHERE table_name = ?`, table); err != nil {
		if db.IsNoSuchTable(err) {
			return nil
		}
		return db.Classify("purge formulas", err)
	}
	return nil
}

// RowKey returns the canonical text form of a row identifier.
func RowKey(rowID interface{}) string {
	return coerce.Text(coerce.BindValue(rowID))
}

// PurgeColumn removes the formulas stored for one column of table.
func PurgeColumn(ctx context.Context, q db.Querier, table, column string) error {
	_, err := q.ExecContext(ctx,
		`DELETE FROM sheet_formulas WHERE table_name = ? AND column_name = ?`, table, column)
	if err != nil && !db.IsNoSuchTable(err) {
		return db.Classify("purge column formulas", err)
	}
	return nil
}

// PurgeRow removes the formulas stored for the row identified by rowID.
func PurgeRow(ctx context.Context, q db.Querier, table string, rowID interface{}) error {
	_, err := q.ExecContext(ctx,
		`DELETE FROM sheet_formulas WHERE table_name = ? AND row_id = ?`, table, RowKey(rowID))
	if err != nil && !db.IsNoSuchTable(err) {
		return db.Classify("purge row formulas", err)
	}
	return nil
}
