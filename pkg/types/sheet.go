// Package types provides the core data types shared across sheetbase packages.
package types

import "time"

// Sheet is a logical spreadsheet tab backed by one physical table.
type Sheet struct {
	// ID is the opaque sheet identifier, immutable once assigned
	ID string `json:"id"`

	// Name is the user-facing display name
	Name string `json:"name"`

	// TableName is the physical table holding the sheet's data
	TableName string `json:"tableName"`

	// IDColumn is the column used to address rows for update and delete
	IDColumn string `json:"idColumn"`

	// RowCount and ColumnCount are cached cardinalities
	RowCount    int64 `json:"rowCount"`
	ColumnCount int   `json:"columnCount"`

	// Seq is the monotonic creation sequence used for stable enumeration
	Seq int64 `json:"seq"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Formula is a formula annotation attached to one cell.
type Formula struct {
	RowID   string `json:"rowId"`
	Column  string `json:"column"`
	Formula string `json:"formula"`
}
