package clientrt

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConsoleLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(&buf, slog.LevelInfo, false)

	logger.Debug("hidden")
	logger.Info("shown", "key", "value")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INF shown key=value")
	assert.NotContains(t, out, "\x1b[")
}

func TestClientLogsRetries(t *testing.T) {
	srv := newScriptedServer(t, http.StatusServiceUnavailable, http.StatusOK)
	var buf bytes.Buffer
	client, _ := instantClient(t, WithConsoleLogger(&buf, slog.LevelDebug))

	resp, err := client.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	out := buf.String()
	assert.Contains(t, out, "INF Scheduling retry operation=http invocationID=invocation-1 attempt=2")
	assert.Contains(t, out, "DBG Operation succeeded operation=http invocationID=invocation-1 attempts=2")
}

func TestClientLogsFailures(t *testing.T) {
	srv := newScriptedServer(t, http.StatusNotFound)
	var buf bytes.Buffer
	client, _ := instantClient(t, WithConsoleLogger(&buf, slog.LevelWarn))

	_, err := client.Invoke(context.Background(), getItem{baseURL: srv.URL}, &getItemInput{ID: "1"})
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, "WRN Operation failed operation=GetItem")
	assert.NotContains(t, out, "Not retrying")
}
