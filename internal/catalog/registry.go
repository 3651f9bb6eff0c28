package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/powersheet/sheetbase/internal/coerce"
	"github.com/powersheet/sheetbase/internal/db"
	sheeterrors "github.com/powersheet/sheetbase/internal/errors"
	"github.com/powersheet/sheetbase/pkg/types"
)

const (
	// MaxColumns and MaxRows bound created sheets to spreadsheet limits.
	MaxColumns = 16384
	MaxRows    = 1048576

	// LegacyDisplayName labels an adopted legacy table.
	LegacyDisplayName = "Imported Data"

	// DefaultLegacyTable is the pre-catalog default table name.
	DefaultLegacyTable = "main_dataset"
)

// TabularSource is parsed tabular input ready to be loaded into a sheet.
type TabularSource interface {
	// Name is the source file name, used when no display name is given
	Name() string

	// Columns returns the inferred column definitions
	Columns() []types.ColumnDef

	// Rows returns cell values already converted to the column types
	Rows() [][]interface{}
}

// ImportOptions tunes ImportTabularSource.
type ImportOptions struct {
	// IDColumn overrides the identifier column; defaults to the first column
	IDColumn string
}

// DropHook runs inside the DeleteSheet transaction after the physical
// table is dropped.
type DropHook func(ctx context.Context, q db.Querier, table string) error

// Options configures a Registry.
type Options struct {
	// LegacyTable is adopted on listing when present and not yet registered
	LegacyTable string
}

// Registry manages the sheet catalog.
type Registry struct {
	db          *db.DB
	legacyTable string
	dropHooks   []DropHook
	log         *logrus.Entry
}

// NewRegistry creates the catalog tables if needed and returns a registry.
func NewRegistry(ctx context.Context, d *db.DB, opts Options) (*Registry, error) {
	if opts.LegacyTable == "" {
		opts.LegacyTable = DefaultLegacyTable
	}
	r := &Registry{
		db:          d,
		legacyTable: opts.LegacyTable,
		log:         logrus.WithField("component", "catalog"),
	}
	for _, stmt := range AllSchemaSQL() {
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("catalog: failed to initialize schema: %w", err)
		}
	}
	return r, nil
}

// OnDrop registers a hook run whenever a sheet's table is dropped.
func (r *Registry) OnDrop(hook DropHook) {
	r.dropHooks = append(r.dropHooks, hook)
}

// CreateSheet creates an empty sheet of columnCount VARCHAR columns named
// col_A, col_B, ... holding rowCount all-null rows.
func (r *Registry) CreateSheet(ctx context.Context, name string, columnCount, rowCount int) (*types.Sheet, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, sheeterrors.NewCreationError(sheeterrors.CodeInvalidName, "sheet name is empty")
	}
	if columnCount <= 0 || rowCount <= 0 {
		return nil, sheeterrors.NewCreationError(sheeterrors.CodeInvalidDimensions,
			fmt.Sprintf("column and row counts must be positive, got %d columns and %d rows", columnCount, rowCount))
	}
	if columnCount > MaxColumns || rowCount > MaxRows {
		return nil, sheeterrors.NewCreationError(sheeterrors.CodeInvalidDimensions,
			fmt.Sprintf("sheet exceeds %d columns or %d rows", MaxColumns, MaxRows))
	}

	cols := make([]types.ColumnDef, columnCount)
	for i := range cols {
		cols[i] = types.ColumnDef{Name: ColumnName(i), Type: string(types.TypeVarchar), Nullable: true}
	}

	sheetID, table := newIdentity()
	sheet := &types.Sheet{
		ID:          sheetID,
		Name:        name,
		TableName:   table,
		IDColumn:    cols[0].Name,
		RowCount:    int64(rowCount),
		ColumnCount: columnCount,
	}

	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := createTable(ctx, tx, table, cols); err != nil {
			return err
		}
		// Rows start with a NULL identifier, so they cannot be addressed by
		// SetCellValue or DeleteRow until the caller writes col_A values.
		fill := fmt.Sprintf(`WITH RECURSIVE seq(n) AS (SELECT 1 UNION ALL SELECT n + 1 FROM seq WHERE n < ?)
			INSERT INTO %s (%s) SELECT NULL FROM seq`, db.Quote(table), db.Quote(cols[0].Name))
		if _, err := tx.ExecContext(ctx, fill, rowCount); err != nil {
			return db.Classify("populate "+table, err)
		}
		return r.insertSheet(ctx, tx, sheet)
	})
	if err != nil {
		return nil, err
	}

	r.log.WithFields(logrus.Fields{
		"sheet_id": sheet.ID,
		"table":    table,
		"columns":  columnCount,
		"rows":     rowCount,
	}).Info("sheet created")
	return sheet, nil
}

// ImportTabularSource loads src into a new sheet. The display name is
// hint, or the source file name without extension, truncated to 30 runes.
func (r *Registry) ImportTabularSource(ctx context.Context, src TabularSource, hint string, opts ImportOptions) (*types.Sheet, error) {
	cols := src.Columns()
	if len(cols) == 0 {
		return nil, sheeterrors.NewImportError(sheeterrors.CodeEmptySource, "source has no columns", nil)
	}
	for _, c := range cols {
		if err := db.ValidateIdentifier(c.Name); err != nil {
			return nil, sheeterrors.NewImportError(sheeterrors.CodeMalformedSource,
				fmt.Sprintf("invalid column name %q", c.Name), err)
		}
		if c.Name == db.RowOrderColumn {
			return nil, sheeterrors.NewImportError(sheeterrors.CodeMalformedSource,
				fmt.Sprintf("column name %q is reserved", c.Name), nil)
		}
	}

	idColumn := cols[0].Name
	if opts.IDColumn != "" {
		found := false
		for _, c := range cols {
			if c.Name == opts.IDColumn {
				found = true
				break
			}
		}
		if !found {
			return nil, sheeterrors.NewImportError(sheeterrors.CodeMalformedSource,
				fmt.Sprintf("identifier column %q is not in the source", opts.IDColumn), nil)
		}
		idColumn = opts.IDColumn
	}

	rows := src.Rows()
	sheetID, table := newIdentity()
	sheet := &types.Sheet{
		ID:          sheetID,
		Name:        derivedName(hint, src.Name()),
		TableName:   table,
		IDColumn:    idColumn,
		RowCount:    int64(len(rows)),
		ColumnCount: len(cols),
	}

	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := createTable(ctx, tx, table, cols); err != nil {
			return err
		}
		if err := loadRows(ctx, tx, table, cols, rows); err != nil {
			return err
		}
		return r.insertSheet(ctx, tx, sheet)
	})
	if err != nil {
		return nil, err
	}

	r.log.WithFields(logrus.Fields{
		"sheet_id": sheet.ID,
		"source":   src.Name(),
		"table":    table,
		"rows":     len(rows),
	}).Info("source imported")
	return sheet, nil
}

// ListSheets returns every sheet in creation order, adopting the legacy
// table first if it exists and is not yet registered.
func (r *Registry) ListSheets(ctx context.Context) ([]*types.Sheet, error) {
	if err := r.adoptLegacy(ctx); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, selectSheetSQL+` ORDER BY seq`)
	if err != nil {
		return nil, db.Classify("list sheets", err)
	}
	defer rows.Close()

	var sheets []*types.Sheet
	for rows.Next() {
		s, err := scanSheet(rows)
		if err != nil {
			return nil, err
		}
		sheets = append(sheets, s)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify("list sheets", err)
	}
	return sheets, nil
}

// GetSheet returns the sheet with the given id.
func (r *Registry) GetSheet(ctx context.Context, sheetID string) (*types.Sheet, error) {
	return r.getSheet(ctx, r.db, sheetID)
}

// LookupByTable returns the sheet backed by table.
func (r *Registry) LookupByTable(ctx context.Context, table string) (*types.Sheet, error) {
	row := r.db.QueryRowContext(ctx, selectSheetSQL+` WHERE table_name = ?`, table)
	s, err := scanSheet(row)
	if err == sql.ErrNoRows {
		return nil, sheeterrors.NewNotFoundError(sheeterrors.CodeTableNotFound,
			fmt.Sprintf("no sheet is backed by table %q", table))
	}
	return s, err
}

// RenameSheet changes a sheet's display name.
func (r *Registry) RenameSheet(ctx context.Context, sheetID, newName string) (*types.Sheet, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return nil, sheeterrors.NewValidationError(sheeterrors.CodeInvalidName, "sheet name is empty")
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE sheet_metadata SET sheet_name = ?, updated_at = ? WHERE sheet_id = ?`,
		newName, time.Now().UnixMilli(), sheetID)
	if err != nil {
		return nil, db.Classify("rename sheet", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, sheeterrors.SheetNotFound(sheetID)
	}

	r.log.WithFields(logrus.Fields{"sheet_id": sheetID, "name": newName}).Info("sheet renamed")
	return r.GetSheet(ctx, sheetID)
}

// DeleteSheet drops the sheet's table and removes its catalog entry in one
// transaction. Registered drop hooks run in the same transaction.
func (r *Registry) DeleteSheet(ctx context.Context, sheetID string) (*types.Sheet, error) {
	var deleted *types.Sheet
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		s, err := r.getSheet(ctx, tx, sheetID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+db.Quote(s.TableName)); err != nil {
			return db.Classify("drop table "+s.TableName, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sheet_metadata WHERE sheet_id = ?`, sheetID); err != nil {
			return db.Classify("delete sheet", err)
		}
		for _, hook := range r.dropHooks {
			if err := hook(ctx, tx, s.TableName); err != nil {
				return err
			}
		}
		deleted = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.WithFields(logrus.Fields{"sheet_id": sheetID, "table": deleted.TableName}).Info("sheet deleted")
	return deleted, nil
}

// RefreshCounts recomputes the cached row and column counts of a sheet from
// its physical table.
func (r *Registry) RefreshCounts(ctx context.Context, sheetID string) (*types.Sheet, error) {
	s, err := r.GetSheet(ctx, sheetID)
	if err != nil {
		return nil, err
	}

	rowCount, colCount, err := tableCounts(ctx, r.db, s.TableName)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if _, err := r.db.ExecContext(ctx,
		`UPDATE sheet_metadata SET row_count = ?, column_count = ?, updated_at = ? WHERE sheet_id = ?`,
		rowCount, colCount, now.UnixMilli(), sheetID); err != nil {
		return nil, db.Classify("update sheet counts", err)
	}

	s.RowCount = rowCount
	s.ColumnCount = colCount
	s.UpdatedAt = time.UnixMilli(now.UnixMilli())
	return s, nil
}

// adoptLegacy registers the legacy default table under a fresh identity.
// INSERT OR IGNORE on the unique table name makes repeated adoption a no-op.
func (r *Registry) adoptLegacy(ctx context.Context) error {
	exists, err := db.TableExists(ctx, r.db, r.legacyTable)
	if err != nil || !exists {
		return err
	}

	var registered int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sheet_metadata WHERE table_name = ?`, r.legacyTable).Scan(&registered); err != nil {
		return db.Classify("check legacy table", err)
	}
	if registered > 0 {
		return nil
	}

	cols, err := db.Columns(ctx, r.db, r.legacyTable)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return nil
	}
	rowCount, colCount, err := tableCounts(ctx, r.db, r.legacyTable)
	if err != nil {
		return err
	}

	sheetID, _ := newIdentity()
	now := time.Now().UnixMilli()
	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO sheet_metadata (
			sheet_id, sheet_name, table_name, id_column,
			row_count, column_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sheetID, LegacyDisplayName, r.legacyTable, cols[0].Name,
		rowCount, colCount, now, now)
	if err != nil {
		return db.Classify("adopt legacy table", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		r.log.WithFields(logrus.Fields{"sheet_id": sheetID, "table": r.legacyTable}).Info("legacy table adopted")
	}
	return nil
}

func (r *Registry) insertSheet(ctx context.Context, tx *sql.Tx, s *types.Sheet) error {
	now := time.Now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO sheet_metadata (
			sheet_id, sheet_name, table_name, id_column,
			row_count, column_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.TableName, s.IDColumn,
		s.RowCount, s.ColumnCount, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return db.Classify("register sheet", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return db.Classify("register sheet", err)
	}
	s.Seq = seq
	s.CreatedAt = time.UnixMilli(now.UnixMilli())
	s.UpdatedAt = s.CreatedAt
	return nil
}

func (r *Registry) getSheet(ctx context.Context, q db.Querier, sheetID string) (*types.Sheet, error) {
	row := q.QueryRowContext(ctx, selectSheetSQL+` WHERE sheet_id = ?`, sheetID)
	s, err := scanSheet(row)
	if err == sql.ErrNoRows {
		return nil, sheeterrors.SheetNotFound(sheetID)
	}
	return s, err
}

const selectSheetSQL = `
	SELECT seq, sheet_id, sheet_name, table_name, id_column,
		row_count, column_count, created_at, updated_at
	FROM sheet_metadata`

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanSheet returns sql.ErrNoRows unwrapped so callers can map it.
func scanSheet(row scanner) (*types.Sheet, error) {
	var s types.Sheet
	var createdAt, updatedAt int64
	err := row.Scan(&s.Seq, &s.ID, &s.Name, &s.TableName, &s.IDColumn,
		&s.RowCount, &s.ColumnCount, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, db.Classify("scan sheet", err)
	}
	s.CreatedAt = time.UnixMilli(createdAt)
	s.UpdatedAt = time.UnixMilli(updatedAt)
	return &s, nil
}

func createTable(ctx context.Context, tx *sql.Tx, table string, cols []types.ColumnDef) error {
	defs := make([]string, len(cols))
	for i, c := range cols {
		if err := db.ValidateIdentifier(c.Name); err != nil {
			return err
		}
		lt, err := coerce.ParseLogicalType(c.Type)
		if err != nil {
			return err
		}
		defs[i] = db.Quote(c.Name) + " " + coerce.DeclaredType(lt)
	}
	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", db.Quote(table), strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return db.Classify("create table "+table, err)
	}
	return nil
}

func loadRows(ctx context.Context, tx *sql.Tx, table string, cols []types.ColumnDef, rows [][]interface{}) error {
	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
		marks[i] = "?"
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		db.Quote(table), db.QuoteAll(names), strings.Join(marks, ", ")))
	if err != nil {
		return db.Classify("prepare load of "+table, err)
	}
	defer stmt.Close()

	args := make([]interface{}, len(cols))
	for n, row := range rows {
		for i := range args {
			args[i] = nil
			if i < len(row) {
				args[i] = row[i]
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return sheeterrors.NewImportError(sheeterrors.CodeMalformedSource,
				fmt.Sprintf("failed to load row %d", n+1), err)
		}
	}
	return nil
}

// tableCounts returns the row count and the number of user-visible columns.
func tableCounts(ctx context.Context, q db.Querier, table string) (int64, int, error) {
	cols, err := db.Columns(ctx, q, table)
	if err != nil {
		return 0, 0, err
	}
	if len(cols) == 0 {
		return 0, 0, sheeterrors.NewNotFoundError(sheeterrors.CodeTableNotFound,
			fmt.Sprintf("table %q does not exist", table))
	}
	colCount := 0
	for _, c := range cols {
		if c.Name != db.RowOrderColumn {
			colCount++
		}
	}
	rowCount, err := db.RowCount(ctx, q, table)
	if err != nil {
		return 0, 0, err
	}
	return rowCount, colCount, nil
}
