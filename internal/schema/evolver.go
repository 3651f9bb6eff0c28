// Package schema inspects and evolves the physical tables behind sheets.
//
// Column additions and drops are single ALTER statements. Type changes
// rebuild the whole table under a temporary name and swap it into place
// inside one transaction, so a failed rebuild leaves the original intact.
// Callers hold the table lock for the duration of each call.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/powersheet/sheetbase/internal/coerce"
	"github.com/powersheet/sheetbase/internal/db"
	sheeterrors "github.com/powersheet/sheetbase/internal/errors"
	"github.com/powersheet/sheetbase/pkg/types"
)

// rebuildBatchSize is the number of rows converted per read of the source.
const rebuildBatchSize = 1000

// ConversionReport summarizes a column type change.
type ConversionReport struct {
	// Rows is the number of rows in the rebuilt table
	Rows int64 `json:"rows"`

	// Converted counts cells holding a value after conversion
	Converted int64 `json:"converted"`

	// Nulled counts cells whose value could not be converted
	Nulled int64 `json:"nulled"`
}

// Evolver applies schema changes to sheet tables.
type Evolver struct {
	db  *db.DB
	log *logrus.Entry
}

// NewEvolver returns an evolver over d.
func NewEvolver(d *db.DB) *Evolver {
	return &Evolver{db: d, log: logrus.WithField("component", "schema")}
}

// Inspect returns the user-visible schema and row count of table. The
// engine-managed _row_order column is reported through HasRowOrder only.
// A missing table is a TABLE_NOT_FOUND error.
func (e *Evolver) Inspect(ctx context.Context, table string) (*types.TableSchema, error) {
	return inspect(ctx, e.db, table)
}

func inspect(ctx context.Context, q db.Querier, table string) (*types.TableSchema, error) {
	cols, err := db.Columns(ctx, q, table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, tableNotFound(table)
	}

	s := &types.TableSchema{TableName: table, Columns: make([]types.ColumnDef, 0, len(cols))}
	for _, c := range cols {
		if c.Name == db.RowOrderColumn {
			s.HasRowOrder = true
			continue
		}
		s.Columns = append(s.Columns, types.ColumnDef{
			Name:     c.Name,
			Type:     c.Type,
			Nullable: !c.NotNull,
		})
	}

	if s.RowCount, err = db.RowCount(ctx, q, table); err != nil {
		return nil, err
	}
	return s, nil
}

// AddColumn appends a nullable column of the given type. An empty type
// name means VARCHAR.
func (e *Evolver) AddColumn(ctx context.Context, table, column, typeName string) error {
	if err := checkUserColumn(column); err != nil {
		return err
	}
	if strings.TrimSpace(typeName) == "" {
		typeName = string(types.TypeVarchar)
	}
	lt, err := coerce.ParseLogicalType(typeName)
	if err != nil {
		return err
	}

	cols, err := db.Columns(ctx, e.db, table)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return tableNotFound(table)
	}
	if db.HasColumnFold(cols, column) {
		return sheeterrors.NewSchemaError(sheeterrors.CodeColumnExists,
			fmt.Sprintf("column %q already exists", column)).
			WithDetails(map[string]interface{}{"column": column})
	}

	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", db.Quote(table), db.Quote(column), coerce.DeclaredType(lt))
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return db.Classify("add column "+column, err)
	}

	e.log.WithFields(logrus.Fields{"table": table, "column": column, "type": lt}).Info("column added")
	return nil
}

// DropColumn removes column from table. The sheet's identifier column
// cannot be dropped.
func (e *Evolver) DropColumn(ctx context.Context, table, idColumn, column string) error {
	if err := checkUserColumn(column); err != nil {
		return err
	}
	if column == idColumn {
		return sheeterrors.NewSchemaError(sheeterrors.CodeIdentifierColumn,
			fmt.Sprintf("column %q identifies rows and cannot be dropped", column)).
			WithDetails(map[string]interface{}{"column": column})
	}

	cols, err := db.Columns(ctx, e.db, table)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return tableNotFound(table)
	}
	if !db.HasColumn(cols, column) {
		return columnNotFound(column)
	}

	stmt := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", db.Quote(table), db.Quote(column))
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return db.Classify("drop column "+column, err)
	}

	e.log.WithFields(logrus.Fields{"table": table, "column": column}).Info("column dropped")
	return nil
}

// ChangeColumnType converts column to typeName by rebuilding the table.
// Cells that cannot be converted become null; they are counted in the
// report rather than failing the change. With decimalSeparator ',' the
// text of DOUBLE and DECIMAL targets has '.' stripped and ',' read as the
// decimal point.
func (e *Evolver) ChangeColumnType(ctx context.Context, table, column, typeName string, decimalSeparator rune) (*ConversionReport, error) {
	if err := checkUserColumn(column); err != nil {
		return nil, err
	}
	if decimalSeparator == 0 {
		decimalSeparator = '.'
	}
	if decimalSeparator != '.' && decimalSeparator != ',' {
		return nil, sheeterrors.NewValidationError(sheeterrors.CodeInvalidArgument,
			fmt.Sprintf("decimal separator must be '.' or ',', got %q", decimalSeparator))
	}
	lt, err := coerce.ParseLogicalType(typeName)
	if err != nil {
		return nil, err
	}

	report := &ConversionReport{}
	tmp := rebuildTableName(table)
	err = e.db.WithTx(ctx, func(tx *sql.Tx) error {
		cols, err := db.Columns(ctx, tx, table)
		if err != nil {
			return err
		}
		if len(cols) == 0 {
			return tableNotFound(table)
		}
		if !db.HasColumn(cols, column) {
			return columnNotFound(column)
		}

		if err := createRebuildTable(ctx, tx, tmp, cols, column, coerce.DeclaredType(lt)); err != nil {
			return err
		}
		if err := copyRows(ctx, tx, table, tmp, cols, column); err != nil {
			return err
		}
		if err := convertColumn(ctx, tx, table, tmp, column, lt, decimalSeparator, report); err != nil {
			return err
		}

		// Verify before the destructive swap.
		src, err := db.RowCount(ctx, tx, table)
		if err != nil {
			return err
		}
		if src != report.Rows {
			return sheeterrors.Wrap(sheeterrors.ErrCategorySchema, sheeterrors.CodeRebuildFailed,
				fmt.Sprintf("rebuild of %s produced %d rows, expected %d", table, report.Rows, src), nil)
		}

		if _, err := tx.ExecContext(ctx, "DROP TABLE "+db.Quote(table)); err != nil {
			return db.Classify("drop table "+table, err)
		}
		rename := fmt.Sprintf("ALTER TABLE %s RENAME TO %s", db.Quote(tmp), db.Quote(table))
		if _, err := tx.ExecContext(ctx, rename); err != nil {
			return db.Classify("rename rebuilt table", err)
		}
		return nil
	})
	if err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{"table": table, "column": column}).Warn("column type change failed")
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"table":     table,
		"column":    column,
		"type":      lt,
		"rows":      report.Rows,
		"converted": report.Converted,
		"nulled":    report.Nulled,
	}).Info("column type changed")
	return report, nil
}

func rebuildTableName(table string) string {
	return fmt.Sprintf("_rebuild_%s_%s", table, strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}

// createRebuildTable creates tmp with the columns of the source, retyping
// target. Column order is preserved.
func createRebuildTable(ctx context.Context, tx *sql.Tx, tmp string, cols []db.ColumnInfo, target, declared string) error {
	defs := make([]string, len(cols))
	for i, c := range cols {
		typ := c.Type
		if c.Name == target {
			typ = declared
		}
		defs[i] = strings.TrimSpace(db.Quote(c.Name) + " " + typ)
		if c.NotNull && c.Name != target {
			defs[i] += " NOT NULL"
		}
	}
	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", db.Quote(tmp), strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return sheeterrors.Wrap(sheeterrors.ErrCategorySchema, sheeterrors.CodeRebuildFailed,
			"failed to create rebuild table", err)
	}
	return nil
}

// copyRows copies every column except target verbatim, keeping rowids so
// physical order survives the swap.
func copyRows(ctx context.Context, tx *sql.Tx, table, tmp string, cols []db.ColumnInfo, target string) error {
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		if c.Name != target {
			names = append(names, c.Name)
		}
	}
	var stmt string
	if len(names) == 0 {
		stmt = fmt.Sprintf("INSERT INTO %s (rowid) SELECT rowid FROM %s ORDER BY rowid", db.Quote(tmp), db.Quote(table))
	} else {
		list := db.QuoteAll(names)
		stmt = fmt.Sprintf("INSERT INTO %s (rowid, %s) SELECT rowid, %s FROM %s ORDER BY rowid",
			db.Quote(tmp), list, list, db.Quote(table))
	}
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return db.Classify("copy rows of "+table, err)
	}
	return nil
}

type cell struct {
	rowid int64
	value interface{}
}

// convertColumn streams the target column of table in rowid order through
// coerce.Cast and writes the results into tmp.
func convertColumn(ctx context.Context, tx *sql.Tx, table, tmp, column string, to types.LogicalType, sep rune, report *ConversionReport) error {
	read := fmt.Sprintf("SELECT rowid, %s FROM %s WHERE rowid > ? ORDER BY rowid LIMIT ?", db.Quote(column), db.Quote(table))
	write, err := tx.PrepareContext(ctx, fmt.Sprintf("UPDATE %s SET %s = ? WHERE rowid = ?", db.Quote(tmp), db.Quote(column)))
	if err != nil {
		return db.Classify("prepare conversion", err)
	}
	defer write.Close()

	last := int64(-1 << 63)
	for {
		batch, err := readBatch(ctx, tx, read, last)
		if err != nil {
			return err
		}
		for _, c := range batch {
			out, castErr := coerce.Cast(c.value, to, sep)
			if castErr != nil {
				report.Nulled++
				out = nil
			} else if out != nil {
				report.Converted++
			}
			if _, err := write.ExecContext(ctx, out, c.rowid); err != nil {
				return db.Classify("write converted value", err)
			}
			report.Rows++
			last = c.rowid
		}
		if len(batch) < rebuildBatchSize {
			return nil
		}
	}
}

func readBatch(ctx context.Context, tx *sql.Tx, query string, after int64) ([]cell, error) {
	rs, err := tx.QueryContext(ctx, query, after, rebuildBatchSize)
	if err != nil {
		return nil, db.Classify("read column for conversion", err)
	}
	defer rs.Close()

	batch := make([]cell, 0, rebuildBatchSize)
	for rs.Next() {
		var c cell
		if err := rs.Scan(&c.rowid, &c.value); err != nil {
			return nil, db.Classify("scan column for conversion", err)
		}
		batch = append(batch, c)
	}
	if err := rs.Err(); err != nil {
		return nil, db.Classify("read column for conversion", err)
	}
	return batch, nil
}

func checkUserColumn(column string) error {
	if column == db.RowOrderColumn {
		return sheeterrors.NewSchemaError(sheeterrors.CodeReservedColumn,
			fmt.Sprintf("column %q is managed by the engine", column))
	}
	return db.ValidateIdentifier(column)
}

func tableNotFound(table string) error {
	return sheeterrors.NewNotFoundError(sheeterrors.CodeTableNotFound,
		fmt.Sprintf("table %q does not exist", table))
}

func columnNotFound(column string) error {
	return sheeterrors.NewSchemaError(sheeterrors.CodeColumnNotFound,
		fmt.Sprintf("column %q does not exist", column)).
		WithDetails(map[string]interface{}{"column": column})
}
