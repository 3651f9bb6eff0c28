package app

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powersheet/sheetbase/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.HTTP.Addr = "127.0.0.1:0"
	return cfg
}

func TestApp_StartServeStop(t *testing.T) {
	cfg := testConfig(t)
	cfg.Snapshot.Enabled = true
	cfg.Snapshot.Interval = time.Hour

	a, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	assert.Error(t, a.Start(context.Background()))

	resp, err := http.Get("http://" + a.Addr() + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	sheet, err := a.Engine().CreateSheet(context.Background(), "T", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sheet.RowCount)

	require.NoError(t, a.Stop(context.Background()))
	require.NoError(t, a.Stop(context.Background()))

	_, err = http.Get("http://" + a.Addr() + "/api/health")
	assert.Error(t, err)
}

func TestApp_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.MaxUploadMB = 0
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestConfigureLogging(t *testing.T) {
	assert.NoError(t, ConfigureLogging(config.LogConfig{Level: "debug", Format: "json"}))
	assert.NoError(t, ConfigureLogging(config.LogConfig{Level: "info", Format: "text"}))
	assert.Error(t, ConfigureLogging(config.LogConfig{Level: "loud", Format: "text"}))
	assert.Error(t, ConfigureLogging(config.LogConfig{Level: "info", Format: "xml"}))
}
