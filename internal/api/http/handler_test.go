package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powersheet/sheetbase/internal/config"
	"github.com/powersheet/sheetbase/internal/engine"
)

func newTestServer(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Resolve()
	require.NoError(t, cfg.EnsureDirectories())

	e, err := engine.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	h := NewHandler(e, Options{UploadDir: cfg.HTTP.UploadDir, MaxUploadBytes: 1 << 20})
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv, e
}

func doJSON(t *testing.T, method, url string, body interface{}, out interface{}) int {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func upload(t *testing.T, srv *httptest.Server, filename, content string) (int, UploadResponse) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+"/api/upload", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out UploadResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	var body map[string]string
	status := doJSON(t, http.MethodGet, srv.URL+"/api/health", nil, &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/health", nil)
	req.Header.Set("X-Request-ID", "abc")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "abc", resp.Header.Get("X-Request-ID"))

	resp, err = http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RequestIDMiddleware(RecoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "UNEXPECTED", body.Code)
	assert.Equal(t, "internal server error", body.Detail)
	assert.Equal(t, "req-1", body.RequestID)
}

func TestSheetLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	var created SheetResponse
	status := doJSON(t, http.MethodPost, srv.URL+"/api/sheets/create",
		CreateSheetRequest{Name: "Budget", Columns: 3, Rows: 2}, &created)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Budget", created.Name)
	assert.Equal(t, 3, created.ColumnCount)

	var schema SchemaResponse
	status = doJSON(t, http.MethodGet, srv.URL+"/api/schema?sheetId="+created.ID, nil, &schema)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(2), schema.RowCount)
	require.Len(t, schema.Columns, 3)
	assert.Equal(t, "col_A", schema.Columns[0].Name)

	var renamed SheetResponse
	status = doJSON(t, http.MethodPut, srv.URL+"/api/sheets/"+created.ID+"/rename",
		RenameSheetRequest{NewName: "Plan"}, &renamed)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Plan", renamed.Name)

	var list []SheetResponse
	doJSON(t, http.MethodGet, srv.URL+"/api/sheets", nil, &list)
	require.Len(t, list, 1)

	status = doJSON(t, http.MethodDelete, srv.URL+"/api/sheets/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusOK, status)

	var errResp ErrorResponse
	status = doJSON(t, http.MethodDelete, srv.URL+"/api/sheets/"+created.ID, nil, &errResp)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "SHEET_NOT_FOUND", errResp.Code)
}

func TestUploadAndEdit(t *testing.T) {
	srv, _ := newTestServer(t)

	status, up := upload(t, srv, "sales.csv", "id,region,amount\n1,north,10\n2,south,20\n")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "sales", up.SheetName)
	assert.Equal(t, int64(2), up.Rows)
	assert.Equal(t, 3, up.Columns)

	table := up.TableName
	formula := "=C1*2"
	status = doJSON(t, http.MethodPost, srv.URL+"/api/cell/update", CellUpdateRequest{
		Table: table, RowID: 1, Column: "amount", Value: 20, Formula: &formula,
	}, nil)
	require.Equal(t, http.StatusOK, status)

	var formulas []map[string]string
	doJSON(t, http.MethodGet, srv.URL+"/api/formulas?table="+table, nil, &formulas)
	require.Len(t, formulas, 1)
	assert.Equal(t, "1", formulas[0]["rowId"])
	assert.Equal(t, "=C1*2", formulas[0]["formula"])

	var ins RowInsertResponse
	status = doJSON(t, http.MethodPost, srv.URL+"/api/row/insert?table="+table+"&position=0", nil, &ins)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(3), ins.RowCount)

	status = doJSON(t, http.MethodDelete, srv.URL+"/api/row/2?table="+table, nil, nil)
	assert.Equal(t, http.StatusOK, status)
	status = doJSON(t, http.MethodDelete, srv.URL+"/api/row/2?table="+table, nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status = doJSON(t, http.MethodPost, srv.URL+"/api/column/insert",
		ColumnInsertRequest{Table: table, ColumnName: "note"}, nil)
	assert.Equal(t, http.StatusOK, status)

	var typed ColumnTypeResponse
	status = doJSON(t, http.MethodPost, srv.URL+"/api/column/type",
		ColumnTypeRequest{Table: table, Column: "region", NewType: "INTEGER"}, &typed)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(2), typed.Rows)

	status = doJSON(t, http.MethodDelete, srv.URL+"/api/column/note?table="+table, nil, nil)
	assert.Equal(t, http.StatusOK, status)

	var page struct {
		Columns []string        `json:"columns"`
		Rows    [][]interface{} `json:"rows"`
		Total   int64           `json:"total"`
	}
	status = doJSON(t, http.MethodGet, srv.URL+"/api/rows?table="+table, nil, &page)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"id", "region", "amount"}, page.Columns)
	assert.Equal(t, int64(2), page.Total)
}

func TestDeleteRowKeepsTextIdentifier(t *testing.T) {
	srv, e := newTestServer(t)

	status, up := upload(t, srv, "codes.csv", "code,city\n007,A\nX1,B\n")
	require.Equal(t, http.StatusOK, status)

	s, err := e.GetSchema(context.Background(), up.SheetID)
	require.NoError(t, err)
	require.Equal(t, "VARCHAR", s.Columns[0].Type)

	status = doJSON(t, http.MethodDelete, srv.URL+"/api/row/007?table="+up.TableName, nil, nil)
	require.Equal(t, http.StatusOK, status)

	var errResp ErrorResponse
	status = doJSON(t, http.MethodDelete, srv.URL+"/api/row/7?table="+up.TableName, nil, &errResp)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "ROW_NOT_FOUND", errResp.Code)

	var page struct {
		Rows  [][]interface{} `json:"rows"`
		Total int64           `json:"total"`
	}
	doJSON(t, http.MethodGet, srv.URL+"/api/rows?table="+up.TableName, nil, &page)
	require.Equal(t, int64(1), page.Total)
	assert.Equal(t, "X1", page.Rows[0][0])
}

func TestUploadErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	status, _ := upload(t, srv, "notes.pdf", "x")
	assert.Equal(t, http.StatusInternalServerError, status)

	resp, err := http.Post(srv.URL+"/api/upload", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQuery(t *testing.T) {
	srv, _ := newTestServer(t)
	_, up := upload(t, srv, "q.csv", "a,b\n1,x\n2,y\n")

	var res QueryResponse
	status := doJSON(t, http.MethodPost, srv.URL+"/api/query",
		QueryRequest{SQL: "SELECT b FROM " + up.TableName + " ORDER BY a"}, &res)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"b"}, res.Columns)
	assert.Equal(t, 2, res.RowCount)
	assert.Equal(t, "y", res.Rows[1][0])

	var errResp ErrorResponse
	status = doJSON(t, http.MethodPost, srv.URL+"/api/query", QueryRequest{SQL: "SELECT * FROM missing"}, &errResp)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Contains(t, errResp.Detail, "no such table")
}

func TestSchemaDefaultTableNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	status := doJSON(t, http.MethodGet, srv.URL+"/api/schema", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSnapshots(t *testing.T) {
	srv, _ := newTestServer(t)

	var info map[string]interface{}
	status := doJSON(t, http.MethodPost, srv.URL+"/api/snapshots", nil, &info)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, info["id"])

	var list []map[string]interface{}
	status = doJSON(t, http.MethodGet, srv.URL+"/api/snapshots", nil, &list)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, list, 1)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/sheets", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
}
