package types

// RowPage is a window of sheet rows in logical order.
type RowPage struct {
	// Columns lists the column names of every row in Rows
	Columns []string `json:"columns"`

	// Rows holds the cell values; nil marks an empty cell
	Rows [][]interface{} `json:"rows"`

	// Offset is the logical position of the first row in the page
	Offset int64 `json:"offset"`

	// Total is the sheet's row count at read time
	Total int64 `json:"total"`
}

// QueryResult is the tabular result of a raw query.
type QueryResult struct {
	Columns  []string        `json:"columns"`
	Rows     [][]interface{} `json:"rows"`
	RowCount int             `json:"rowCount"`

	// RowsAffected is set for statements that do not return rows
	RowsAffected int64 `json:"rowsAffected,omitempty"`

	ExecutionTimeMs int64 `json:"executionTimeMs"`
}
