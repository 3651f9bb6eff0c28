package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/powersheet/sheetbase/internal/rows"
	"github.com/powersheet/sheetbase/pkg/types"
)

// SchemaResponse describes a sheet's table.
type SchemaResponse struct {
	TableName string            `json:"tableName"`
	Columns   []types.ColumnDef `json:"columns"`
	RowCount  int64             `json:"rowCount"`
}

// CellUpdateRequest is the body of POST /api/cell/update.
type CellUpdateRequest struct {
	Table   string      `json:"table"`
	SheetID string      `json:"sheetId"`
	RowID   interface{} `json:"rowId"`
	Column  string      `json:"column"`
	Value   interface{} `json:"value"`
	Formula *string     `json:"formula,omitempty"`
}

// RowInsertResponse is returned by POST /api/row/insert.
type RowInsertResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	RowCount int64  `json:"rowCount"`
}

// ColumnInsertRequest is the body of POST /api/column/insert.
type ColumnInsertRequest struct {
	Table      string `json:"table"`
	SheetID    string `json:"sheetId"`
	ColumnName string `json:"columnName"`
	DataType   string `json:"dataType"`
}

// ColumnTypeRequest is the body of POST /api/column/type.
type ColumnTypeRequest struct {
	Table            string `json:"table"`
	SheetID          string `json:"sheetId"`
	Column           string `json:"column"`
	NewType          string `json:"newType"`
	DecimalSeparator string `json:"decimalSeparator"`
}

// ColumnTypeResponse reports the outcome of a type change.
type ColumnTypeResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Rows      int64  `json:"rows"`
	Converted int64  `json:"converted"`
	Nulled    int64  `json:"nulled"`
}

func (h *Handler) handleSchema(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.GetSchema(r.Context(), h.sheetRef(r))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SchemaResponse{TableName: s.TableName, Columns: s.Columns, RowCount: s.RowCount})
}

func (h *Handler) handleReadRows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset", GetRequestID(r.Context()))
		return
	}
	limit, err := queryInt(q.Get("limit"), rows.DefaultPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit", GetRequestID(r.Context()))
		return
	}

	page, err := h.engine.ReadRows(r.Context(), h.sheetRef(r), offset, limit)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) handleUpdateCell(w http.ResponseWriter, r *http.Request) {
	var req CellUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Column == "" {
		writeError(w, http.StatusBadRequest, "column is required", GetRequestID(r.Context()))
		return
	}

	err := h.engine.SetCellValue(r.Context(), h.sheetRef(r, req.SheetID, req.Table), req.RowID, req.Column, req.Value, req.Formula)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Cell updated"})
}

func (h *Handler) handleFormulas(w http.ResponseWriter, r *http.Request) {
	formulas, err := h.engine.ListFormulas(r.Context(), h.sheetRef(r))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, formulas)
}

func (h *Handler) handleInsertRow(w http.ResponseWriter, r *http.Request) {
	var position *int64
	where := "end"
	if v := r.URL.Query().Get("position"); v != "" {
		p, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid position", GetRequestID(r.Context()))
			return
		}
		position = &p
		where = v
	}

	n, err := h.engine.InsertRow(r.Context(), h.sheetRef(r), position)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RowInsertResponse{
		Success:  true,
		Message:  fmt.Sprintf("Row inserted at position %s. Total rows: %d", where, n),
		RowCount: n,
	})
}

func (h *Handler) handleDeleteRow(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteRow(r.Context(), h.sheetRef(r), r.PathValue("row_id")); err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Row deleted"})
}

func (h *Handler) handleInsertColumn(w http.ResponseWriter, r *http.Request) {
	var req ColumnInsertRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.engine.AddColumn(r.Context(), h.sheetRef(r, req.SheetID, req.Table), req.ColumnName, req.DataType); err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Column inserted"})
}

func (h *Handler) handleDeleteColumn(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DropColumn(r.Context(), h.sheetRef(r), r.PathValue("column_name")); err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Column deleted"})
}

func (h *Handler) handleColumnType(w http.ResponseWriter, r *http.Request) {
	var req ColumnTypeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sep, err := parseSeparator(req.DecimalSeparator)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), GetRequestID(r.Context()))
		return
	}

	report, err := h.engine.ChangeColumnType(r.Context(), h.sheetRef(r, req.SheetID, req.Table), req.Column, req.NewType, sep)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ColumnTypeResponse{
		Success:   true,
		Message:   "Column type changed",
		Rows:      report.Rows,
		Converted: report.Converted,
		Nulled:    report.Nulled,
	})
}

func queryInt(v string, def int64) (int64, error) {
	if v == "" {
		return def, nil
	}
	return strconv.ParseInt(v, 10, 64)
}
