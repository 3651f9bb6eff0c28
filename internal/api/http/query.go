package http

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/powersheet/sheetbase/internal/engine"
)

// QueryRequest is the body of POST /api/query.
type QueryRequest struct {
	SQL string `json:"sql"`
}

// QueryResponse is the tabular result of a query.
type QueryResponse struct {
	Columns       []string        `json:"columns"`
	Rows          [][]interface{} `json:"rows"`
	RowCount      int             `json:"rowCount"`
	RowsAffected  int64           `json:"rowsAffected,omitempty"`
	ExecutionTime float64         `json:"executionTime"`
}

// UploadResponse is returned by POST /api/upload.
type UploadResponse struct {
	TableName string  `json:"tableName"`
	Rows      int64   `json:"rows"`
	Columns   int     `json:"columns"`
	SizeMb    float64 `json:"sizeMb"`
	SheetID   string  `json:"sheetId"`
	SheetName string  `json:"sheetName"`
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.engine.RunQuery(r.Context(), req.SQL)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{
		Columns:       result.Columns,
		Rows:          result.Rows,
		RowCount:      result.RowCount,
		RowsAffected:  result.RowsAffected,
		ExecutionTime: float64(result.ExecutionTimeMs) / 1000,
	})
}

// handleUpload spools the multipart "file" part to the upload directory and
// imports it. Query parameters name, idColumn, sheet and delimiter tune the
// import.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart request: %v", err), requestID)
		return
	}

	var (
		filename string
		spooled  string
		size     int64
	)
	defer func() {
		if spooled != "" {
			os.Remove(spooled)
		}
	}()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeError(w, statusForBodyError(err), fmt.Sprintf("failed to read upload: %v", err), requestID)
			return
		}
		if part.FormName() != "file" || part.FileName() == "" {
			part.Close()
			continue
		}
		filename = filepath.Base(part.FileName())
		spooled, size, err = h.spool(part, filename)
		part.Close()
		if err != nil {
			writeError(w, statusForBodyError(err), fmt.Sprintf("failed to store upload: %v", err), requestID)
			return
		}
		break
	}
	if spooled == "" {
		writeError(w, http.StatusBadRequest, "file is required", requestID)
		return
	}

	opts, err := importOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), requestID)
		return
	}

	f, err := os.Open(spooled)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	defer f.Close()

	sheet, err := h.engine.Import(r.Context(), filename, f, opts)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	h.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"file":       filename,
		"bytes":      size,
		"sheet_id":   sheet.ID,
	}).Info("file imported")

	writeJSON(w, http.StatusOK, UploadResponse{
		TableName: sheet.TableName,
		Rows:      sheet.RowCount,
		Columns:   sheet.ColumnCount,
		SizeMb:    math.Round(float64(size)/(1<<20)*100) / 100,
		SheetID:   sheet.ID,
		SheetName: sheet.Name,
	})
}

func (h *Handler) spool(src io.Reader, filename string) (string, int64, error) {
	dir := h.opts.UploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", 0, err
	}
	tmp, err := os.CreateTemp(dir, "upload-*"+filepath.Ext(filename))
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, err
	}
	return tmp.Name(), n, nil
}

func importOptions(r *http.Request) (engine.ImportOptions, error) {
	q := r.URL.Query()
	opts := engine.ImportOptions{
		Name:     q.Get("name"),
		IDColumn: q.Get("idColumn"),
		Sheet:    q.Get("sheet"),
	}
	if d := q.Get("delimiter"); d != "" {
		if d == `\t` || strings.EqualFold(d, "tab") {
			d = "\t"
		}
		sep, err := parseSeparator(d)
		if err != nil {
			return opts, fmt.Errorf("delimiter must be a single character, got %q", d)
		}
		opts.Delimiter = sep
	}
	return opts, nil
}

func statusForBodyError(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func (h *Handler) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.ListSnapshots(r.Context())
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	info, err := h.engine.Snapshot(r.Context())
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
