package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/powersheet/sheetbase/pkg/types"
)

// CreateSheetRequest is the body of POST /api/sheets/create.
type CreateSheetRequest struct {
	Name    string `json:"name"`
	Columns int    `json:"columns"`
	Rows    int    `json:"rows"`
}

// RenameSheetRequest is the body of PUT /api/sheets/{sheet_id}/rename.
type RenameSheetRequest struct {
	NewName string `json:"newName"`
}

// SheetResponse describes one sheet.
type SheetResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	TableName   string `json:"tableName"`
	IDColumn    string `json:"idColumn"`
	RowCount    int64  `json:"rowCount"`
	ColumnCount int    `json:"columnCount"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

func toSheetResponse(s *types.Sheet) SheetResponse {
	return SheetResponse{
		ID:          s.ID,
		Name:        s.Name,
		TableName:   s.TableName,
		IDColumn:    s.IDColumn,
		RowCount:    s.RowCount,
		ColumnCount: s.ColumnCount,
		CreatedAt:   s.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		UpdatedAt:   s.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
	}
}

func (h *Handler) handleListSheets(w http.ResponseWriter, r *http.Request) {
	sheets, err := h.engine.ListSheets(r.Context())
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	resp := make([]SheetResponse, 0, len(sheets))
	for _, s := range sheets {
		resp = append(resp, toSheetResponse(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCreateSheet(w http.ResponseWriter, r *http.Request) {
	var req CreateSheetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sheet, err := h.engine.CreateSheet(r.Context(), req.Name, req.Columns, req.Rows)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSheetResponse(sheet))
}

func (h *Handler) handleGetSheet(w http.ResponseWriter, r *http.Request) {
	sheet, err := h.engine.GetSheet(r.Context(), r.PathValue("sheet_id"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSheetResponse(sheet))
}

func (h *Handler) handleDeleteSheet(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteSheet(r.Context(), r.PathValue("sheet_id")); err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Sheet deleted"})
}

func (h *Handler) handleRenameSheet(w http.ResponseWriter, r *http.Request) {
	var req RenameSheetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sheet, err := h.engine.RenameSheet(r.Context(), r.PathValue("sheet_id"), req.NewName)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSheetResponse(sheet))
}

// sheetRef picks the sheet a request addresses: an explicit body value,
// then the sheetId or table query parameter, then the default table.
func (h *Handler) sheetRef(r *http.Request, fromBody ...string) string {
	for _, v := range fromBody {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	q := r.URL.Query()
	if v := q.Get("sheetId"); v != "" {
		return v
	}
	if v := q.Get("table"); v != "" {
		return v
	}
	return h.opts.DefaultTable
}

// decodeJSON decodes the request body into v, keeping numbers exact.
// It writes a 400 response and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), GetRequestID(r.Context()))
		return false
	}
	return true
}

// parseSeparator validates a decimal separator; empty means '.'.
func parseSeparator(s string) (rune, error) {
	if s == "" {
		return '.', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("decimal separator must be a single character, got %q", s)
	}
	sep, _ := utf8.DecodeRuneInString(s)
	return sep, nil
}
