// Package catalog is the sheet registry: the durable mapping from sheet
// identity to the physical table holding its data.
package catalog

// CreateSheetMetadataTableSQL creates the sheet catalog table.
// seq is assigned monotonically and gives the stable enumeration order.
const CreateSheetMetadataTableSQL = `
CREATE TABLE IF NOT EXISTS sheet_metadata (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    sheet_id TEXT NOT NULL UNIQUE,
    sheet_name TEXT NOT NULL,
    table_name TEXT NOT NULL UNIQUE,
    id_column TEXT NOT NULL,
    row_count INTEGER NOT NULL DEFAULT 0,
    column_count INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
)`

// CreateFormulasTableSQL creates the formula side table. Entries are keyed
// by physical table name so they never collide across sheets.
const CreateFormulasTableSQL = `
CREATE TABLE IF NOT EXISTS sheet_formulas (
    table_name TEXT NOT NULL,
    row_id TEXT NOT NULL,
    column_name TEXT NOT NULL,
    formula TEXT NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (table_name, row_id, column_name)
)`

// AllSchemaSQL returns all schema creation statements in order.
func AllSchemaSQL() []string {
	return []string{
		CreateSheetMetadataTableSQL,
		CreateFormulasTableSQL,
	}
}
