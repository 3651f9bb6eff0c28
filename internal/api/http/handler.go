package http

import (
	"context"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/powersheet/sheetbase/internal/engine"
	"github.com/powersheet/sheetbase/internal/schema"
	"github.com/powersheet/sheetbase/internal/snapshot"
	"github.com/powersheet/sheetbase/pkg/types"
)

// Engine is the operation set served by the API.
type Engine interface {
	Import(ctx context.Context, name string, r io.Reader, opts engine.ImportOptions) (*types.Sheet, error)
	CreateSheet(ctx context.Context, name string, columns, rows int) (*types.Sheet, error)
	ListSheets(ctx context.Context) ([]*types.Sheet, error)
	GetSheet(ctx context.Context, ref string) (*types.Sheet, error)
	RenameSheet(ctx context.Context, ref, newName string) (*types.Sheet, error)
	DeleteSheet(ctx context.Context, ref string) error
	GetSchema(ctx context.Context, ref string) (*types.TableSchema, error)
	ReadRows(ctx context.Context, ref string, offset, limit int64) (*types.RowPage, error)
	SetCellValue(ctx context.Context, ref string, rowID interface{}, column string, value interface{}, formula *string) error
	InsertRow(ctx context.Context, ref string, position *int64) (int64, error)
	DeleteRow(ctx context.Context, ref string, rowID interface{}) error
	AddColumn(ctx context.Context, ref, column, typeName string) error
	DropColumn(ctx context.Context, ref, column string) error
	ChangeColumnType(ctx context.Context, ref, column, typeName string, decimalSeparator rune) (*schema.ConversionReport, error)
	ListFormulas(ctx context.Context, ref string) ([]types.Formula, error)
	RunQuery(ctx context.Context, query string) (*types.QueryResult, error)
	Snapshot(ctx context.Context) (*snapshot.Info, error)
	ListSnapshots(ctx context.Context) ([]snapshot.Info, error)
}

// Options configures a Handler.
type Options struct {
	// UploadDir spools uploaded files while they are imported
	UploadDir string

	// MaxUploadBytes bounds an uploaded file
	MaxUploadBytes int64

	// DefaultTable is addressed when a request names no sheet
	DefaultTable string

	// AllowedOrigins lists CORS origins; empty allows any
	AllowedOrigins []string
}

// Handler serves the /api routes.
type Handler struct {
	engine Engine
	opts   Options
	log    *logrus.Entry
}

// NewHandler creates the API handler.
func NewHandler(e Engine, opts Options) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 100 << 20
	}
	if opts.DefaultTable == "" {
		opts.DefaultTable = "main_dataset"
	}
	return &Handler{engine: e, opts: opts, log: logrus.WithField("component", "http")}
}

// Routes returns the router with the default middleware applied.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.handleRoot)
	mux.HandleFunc("GET /api/health", h.handleHealth)

	mux.HandleFunc("POST /api/upload", h.handleUpload)
	mux.HandleFunc("POST /api/query", h.handleQuery)

	mux.HandleFunc("GET /api/sheets", h.handleListSheets)
	mux.HandleFunc("POST /api/sheets/create", h.handleCreateSheet)
	mux.HandleFunc("GET /api/sheets/{sheet_id}", h.handleGetSheet)
	mux.HandleFunc("DELETE /api/sheets/{sheet_id}", h.handleDeleteSheet)
	mux.HandleFunc("PUT /api/sheets/{sheet_id}/rename", h.handleRenameSheet)

	mux.HandleFunc("GET /api/schema", h.handleSchema)
	mux.HandleFunc("GET /api/rows", h.handleReadRows)
	mux.HandleFunc("POST /api/cell/update", h.handleUpdateCell)
	mux.HandleFunc("GET /api/formulas", h.handleFormulas)

	mux.HandleFunc("POST /api/row/insert", h.handleInsertRow)
	mux.HandleFunc("DELETE /api/row/{row_id}", h.handleDeleteRow)

	mux.HandleFunc("POST /api/column/insert", h.handleInsertColumn)
	mux.HandleFunc("DELETE /api/column/{column_name}", h.handleDeleteColumn)
	mux.HandleFunc("POST /api/column/type", h.handleColumnType)

	mux.HandleFunc("GET /api/snapshots", h.handleListSnapshots)
	mux.HandleFunc("POST /api/snapshots", h.handleCreateSnapshot)

	return DefaultMiddleware(h.opts.AllowedOrigins)(mux)
}

// SuccessResponse is the generic acknowledgement body.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "sheetbase",
		"status":  "running",
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "sheetbase"})
}
