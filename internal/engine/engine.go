// Package engine is the sheet data engine: the single entry point that
// composes the catalog, row order, schema evolution, formula and snapshot
// subsystems.
//
// An Engine owns the database connection for its lifetime. Sheet-scoped
// operations accept a sheet reference, which is either a sheet id or the
// name of the physical table backing the sheet, and hold the table lock for
// the duration of the call.
package engine

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/powersheet/sheetbase/internal/catalog"
	"github.com/powersheet/sheetbase/internal/config"
	"github.com/powersheet/sheetbase/internal/db"
	sheeterrors "github.com/powersheet/sheetbase/internal/errors"
	"github.com/powersheet/sheetbase/internal/formula"
	"github.com/powersheet/sheetbase/internal/ingest"
	"github.com/powersheet/sheetbase/internal/rows"
	"github.com/powersheet/sheetbase/internal/schema"
	"github.com/powersheet/sheetbase/internal/snapshot"
	"github.com/powersheet/sheetbase/internal/storage"
	"github.com/powersheet/sheetbase/pkg/types"
)

// ImportOptions controls Import and ImportFile.
type ImportOptions struct {
	// Name is the display name; defaults to the file name without extension
	Name string

	// IDColumn is the identifier column; defaults to the first column
	IDColumn string

	// Sheet selects the worksheet of an XLSX workbook
	Sheet string

	// Delimiter forces the CSV delimiter; zero sniffs it
	Delimiter rune

	// ColumnTypes overrides inferred column types by column name
	ColumnTypes map[string]string
}

// Engine is the sheet data engine.
type Engine struct {
	cfg       *config.Config
	db        *db.DB
	registry  *catalog.Registry
	rows      *rows.Manager
	evolver   *schema.Evolver
	formulas  *formula.Store
	snapshots *snapshot.Manager
	log       *logrus.Entry

	closeOnce sync.Once
}

// Open opens the database described by cfg, initializes the catalog and
// adopts the legacy table when present.
func Open(ctx context.Context, cfg *config.Config) (*Engine, error) {
	if cfg.Database.Path == "" {
		cfg.Resolve()
	}

	d, err := db.Open(cfg.Database.Path, db.Options{
		BusyTimeoutMs: int(cfg.Database.BusyTimeout.Milliseconds()),
		LockStripes:   cfg.Database.LockStripes,
	})
	if err != nil {
		return nil, err
	}

	registry, err := catalog.NewRegistry(ctx, d, catalog.Options{LegacyTable: cfg.Database.LegacyTable})
	if err != nil {
		d.Close()
		return nil, err
	}
	registry.OnDrop(formula.Purge)

	store, err := storage.New(ctx, cfg.Snapshot.Storage)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("engine: failed to initialize snapshot storage: %w", err)
	}
	snapshots, err := snapshot.NewManager(d, store, snapshot.Config{
		WorkDir: cfg.Snapshot.WorkDir,
		Retain:  cfg.Snapshot.Retain,
	})
	if err != nil {
		d.Close()
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		db:        d,
		registry:  registry,
		rows:      rows.NewManager(d),
		evolver:   schema.NewEvolver(d),
		formulas:  formula.NewStore(d),
		snapshots: snapshots,
		log:       logrus.WithField("component", "engine"),
	}

	// Adopt the legacy table up front so it resolves by table name.
	sheets, err := registry.ListSheets(ctx)
	if err != nil {
		d.Close()
		return nil, err
	}
	e.log.WithFields(logrus.Fields{
		"path":   cfg.Database.Path,
		"sheets": len(sheets),
	}).Info("engine opened")
	return e, nil
}

// Close releases the database connection.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		err = e.db.Close()
		e.log.Info("engine closed")
	})
	return err
}

// Snapshots returns the snapshot manager.
func (e *Engine) Snapshots() *snapshot.Manager {
	return e.snapshots
}

// Snapshot takes a snapshot of the whole database.
func (e *Engine) Snapshot(ctx context.Context) (*snapshot.Info, error) {
	return e.snapshots.Create(ctx)
}

// ListSnapshots returns the stored snapshots, newest first.
func (e *Engine) ListSnapshots(ctx context.Context) ([]snapshot.Info, error) {
	return e.snapshots.List(ctx)
}

// Import reads a CSV or XLSX source from r and registers it as a new sheet.
// name is the source file name and selects the reader by extension.
func (e *Engine) Import(ctx context.Context, name string, r io.Reader, opts ImportOptions) (*types.Sheet, error) {
	src, err := ingest.Read(name, r, ingest.Options{
		Sheet:       opts.Sheet,
		Delimiter:   opts.Delimiter,
		ColumnTypes: opts.ColumnTypes,
	})
	if err != nil {
		return nil, err
	}
	return e.registry.ImportTabularSource(ctx, src, opts.Name, catalog.ImportOptions{IDColumn: opts.IDColumn})
}

// ImportFile imports the file at path.
func (e *Engine) ImportFile(ctx context.Context, path string, opts ImportOptions) (*types.Sheet, error) {
	src, err := ingest.Open(path, ingest.Options{
		Sheet:       opts.Sheet,
		Delimiter:   opts.Delimiter,
		ColumnTypes: opts.ColumnTypes,
	})
	if err != nil {
		return nil, err
	}
	return e.registry.ImportTabularSource(ctx, src, opts.Name, catalog.ImportOptions{IDColumn: opts.IDColumn})
}

// CreateSheet creates an empty sheet with the given dimensions.
func (e *Engine) CreateSheet(ctx context.Context, name string, columns, rowCount int) (*types.Sheet, error) {
	return e.registry.CreateSheet(ctx, name, columns, rowCount)
}

// ListSheets returns every sheet in creation order.
func (e *Engine) ListSheets(ctx context.Context) ([]*types.Sheet, error) {
	return e.registry.ListSheets(ctx)
}

// GetSheet resolves a sheet reference.
func (e *Engine) GetSheet(ctx context.Context, ref string) (*types.Sheet, error) {
	return e.resolve(ctx, ref)
}

// RenameSheet changes the display name of a sheet.
func (e *Engine) RenameSheet(ctx context.Context, ref, newName string) (*types.Sheet, error) {
	sheet, err := e.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	return e.registry.RenameSheet(ctx, sheet.ID, newName)
}

// DeleteSheet drops a sheet, its table and its formulas.
func (e *Engine) DeleteSheet(ctx context.Context, ref string) error {
	sheet, err := e.resolve(ctx, ref)
	if err != nil {
		return err
	}
	unlock := e.db.LockTables(sheet.TableName)
	defer unlock()

	_, err = e.registry.DeleteSheet(ctx, sheet.ID)
	return err
}

// GetSchema returns the columns and row count of a sheet's table.
func (e *Engine) GetSchema(ctx context.Context, ref string) (*types.TableSchema, error) {
	sheet, err := e.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	return e.evolver.Inspect(ctx, sheet.TableName)
}

// ReadRows returns a page of rows in logical order.
func (e *Engine) ReadRows(ctx context.Context, ref string, offset, limit int64) (*types.RowPage, error) {
	sheet, err := e.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	unlock := e.db.LockTables(sheet.TableName)
	defer unlock()
	return e.rows.ReadRows(ctx, sheet.TableName, offset, limit)
}

// SetCellValue writes one cell and its formula. A nil formula marks the
// cell as a literal value and removes any stored formula.
func (e *Engine) SetCellValue(ctx context.Context, ref string, rowID interface{}, column string, value interface{}, formulaText *string) error {
	sheet, err := e.resolve(ctx, ref)
	if err != nil {
		return err
	}
	unlock := e.db.LockTables(sheet.TableName)
	defer unlock()

	return e.formulas.SetCellValue(ctx, sheet.TableName, formula.CellUpdate{
		IDColumn: sheet.IDColumn,
		RowID:    rowID,
		Column:   column,
		Value:    value,
		Formula:  formulaText,
	})
}

// InsertRow inserts an empty row at position, or appends when position is
// nil, and returns the new row count.
func (e *Engine) InsertRow(ctx context.Context, ref string, position *int64) (int64, error) {
	sheet, err := e.resolve(ctx, ref)
	if err != nil {
		return 0, err
	}
	unlock := e.db.LockTables(sheet.TableName)
	defer unlock()

	n, err := e.rows.InsertRow(ctx, sheet.TableName, position)
	if err != nil {
		return 0, err
	}
	e.refresh(ctx, sheet)
	return n, nil
}

// DeleteRow deletes the row whose identifier column equals rowID.
func (e *Engine) DeleteRow(ctx context.Context, ref string, rowID interface{}) error {
	sheet, err := e.resolve(ctx, ref)
	if err != nil {
		return err
	}
	unlock := e.db.LockTables(sheet.TableName)
	defer unlock()

	if err := e.rows.DeleteRow(ctx, sheet.TableName, sheet.IDColumn, rowID); err != nil {
		return err
	}
	if err := formula.PurgeRow(ctx, e.db, sheet.TableName, rowID); err != nil {
		return err
	}
	e.refresh(ctx, sheet)
	return nil
}

// AddColumn appends a column of the given type; empty means VARCHAR.
func (e *Engine) AddColumn(ctx context.Context, ref, column, typeName string) error {
	sheet, err := e.resolve(ctx, ref)
	if err != nil {
		return err
	}
	unlock := e.db.LockTables(sheet.TableName)
	defer unlock()

	if err := e.evolver.AddColumn(ctx, sheet.TableName, column, typeName); err != nil {
		return err
	}
	e.refresh(ctx, sheet)
	return nil
}

// DropColumn removes a column and the formulas stored for it. The
// identifier column cannot be dropped.
func (e *Engine) DropColumn(ctx context.Context, ref, column string) error {
	sheet, err := e.resolve(ctx, ref)
	if err != nil {
		return err
	}
	unlock := e.db.LockTables(sheet.TableName)
	defer unlock()

	if err := e.evolver.DropColumn(ctx, sheet.TableName, sheet.IDColumn, column); err != nil {
		return err
	}
	if err := formula.PurgeColumn(ctx, e.db, sheet.TableName, column); err != nil {
		return err
	}
	e.refresh(ctx, sheet)
	return nil
}

// ChangeColumnType converts a column to typeName. Cells that cannot be
// converted become null and are counted in the report.
func (e *Engine) ChangeColumnType(ctx context.Context, ref, column, typeName string, decimalSeparator rune) (*schema.ConversionReport, error) {
	sheet, err := e.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	unlock := e.db.LockTables(sheet.TableName)
	defer unlock()

	report, err := e.evolver.ChangeColumnType(ctx, sheet.TableName, column, typeName, decimalSeparator)
	if err != nil {
		return nil, err
	}
	e.refresh(ctx, sheet)
	return report, nil
}

// ListFormulas returns the formulas stored for a sheet.
func (e *Engine) ListFormulas(ctx context.Context, ref string) ([]types.Formula, error) {
	sheet, err := e.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	return e.formulas.ListFormulas(ctx, sheet.TableName)
}

// resolve looks ref up as a sheet id, then as a table name.
func (e *Engine) resolve(ctx context.Context, ref string) (*types.Sheet, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, sheeterrors.NewValidationError(sheeterrors.CodeInvalidArgument, "sheet reference is empty")
	}
	sheet, err := e.registry.GetSheet(ctx, ref)
	if err == nil || !sheeterrors.IsNotFound(err) {
		return sheet, err
	}
	if byTable, terr := e.registry.LookupByTable(ctx, ref); terr == nil {
		return byTable, nil
	}
	return nil, err
}

// refresh updates the cached counts after a structural change. The change
// has already committed, so a failure is only logged.
func (e *Engine) refresh(ctx context.Context, sheet *types.Sheet) {
	if _, err := e.registry.RefreshCounts(ctx, sheet.ID); err != nil {
		e.log.WithError(err).WithField("sheet_id", sheet.ID).Warn("failed to refresh sheet counts")
	}
}
