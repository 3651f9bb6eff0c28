package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, dataDir string, args ...string) string {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--data-dir", dataDir}, args...))
	require.NoError(t, cmd.Execute(), out.String())
	return out.String()
}

func TestSheetctl_ImportSchemaQuery(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "orders.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("id;total\n1;9,5\n2;3\n"), 0644))

	var sheet struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		TableName string `json:"tableName"`
	}
	out := run(t, dir, "import", csvPath, "--type", "total=VARCHAR")
	require.NoError(t, json.Unmarshal([]byte(out), &sheet))
	assert.Equal(t, "orders", sheet.Name)

	var schema struct {
		Columns []struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"columns"`
		RowCount int64 `json:"rowCount"`
	}
	require.NoError(t, json.Unmarshal([]byte(run(t, dir, "schema", sheet.ID)), &schema))
	assert.Equal(t, int64(2), schema.RowCount)
	require.Len(t, schema.Columns, 2)
	assert.Equal(t, "total", schema.Columns[1].Name)

	out = run(t, dir, "query", "SELECT COUNT(*) AS n FROM "+sheet.TableName)
	assert.Contains(t, out, `"rowCount": 1`)

	out = run(t, dir, "sheets", "list")
	assert.Contains(t, out, sheet.ID)

	out = run(t, dir, "sheets", "delete", sheet.ID)
	assert.True(t, strings.HasPrefix(out, "deleted"))
}

func TestSheetctl_Snapshots(t *testing.T) {
	dir := t.TempDir()
	run(t, dir, "sheets", "create", "T", "--columns", "2", "--rows", "3")

	var info struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(run(t, dir, "snapshot", "create")), &info))
	require.NotEmpty(t, info.ID)

	out := run(t, dir, "snapshot", "list")
	assert.Contains(t, out, info.ID)

	dest := filepath.Join(t.TempDir(), "restored.db")
	run(t, dir, "snapshot", "restore", info.ID, dest)
	_, err := os.Stat(dest)
	assert.NoError(t, err)
}

func TestSheetctl_InvalidTypeFlag(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--data-dir", t.TempDir(), "import", "x.csv", "--type", "broken"})
	assert.Error(t, cmd.Execute())
}
