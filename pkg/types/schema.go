package types

// LogicalType is a column type as exposed to spreadsheet clients.
type LogicalType string

const (
	TypeVarchar   LogicalType = "VARCHAR"
	TypeInteger   LogicalType = "INTEGER"
	TypeDouble    LogicalType = "DOUBLE"
	TypeDecimal   LogicalType = "DECIMAL"
	TypeDate      LogicalType = "DATE"
	TypeTimestamp LogicalType = "TIMESTAMP"
	TypeBoolean   LogicalType = "BOOLEAN"
)

// LogicalTypes lists every supported logical type in declaration order.
var LogicalTypes = []LogicalType{
	TypeVarchar, TypeInteger, TypeDouble, TypeDecimal, TypeDate, TypeTimestamp, TypeBoolean,
}

// IsNumeric reports whether values of the type are parsed as numbers.
func (t LogicalType) IsNumeric() bool {
	return t == TypeInteger || t == TypeDouble || t == TypeDecimal
}

// IsFractional reports whether the type holds floating or decimal values.
// Locale-aware decimal separator handling applies only to these.
func (t LogicalType) IsFractional() bool {
	return t == TypeDouble || t == TypeDecimal
}

// TableSchema describes the physical table backing a sheet.
type TableSchema struct {
	// TableName is the physical table name
	TableName string `json:"tableName"`

	// Columns lists user-visible columns in ordinal order
	Columns []ColumnDef `json:"columns"`

	// RowCount is the current number of rows
	RowCount int64 `json:"rowCount"`

	// HasRowOrder reports whether the engine-managed _row_order column exists
	HasRowOrder bool `json:"hasRowOrder"`
}

// ColumnDef defines a single column in the schema.
type ColumnDef struct {
	// Name is the column name
	Name string `json:"name"`

	// Type is the declared type, normally one of the logical types
	Type string `json:"type"`

	// Nullable indicates whether the column can contain NULL values
	Nullable bool `json:"nullable"`
}

// Column returns the column with the given name, if present.
func (s *TableSchema) Column(name string) (ColumnDef, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDef{}, false
}

// ColumnNames returns the names of all user-visible columns.
func (s *TableSchema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}
