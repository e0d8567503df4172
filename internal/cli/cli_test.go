package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambiyansyah-risyal/clientrt/dvr"
)

var exampleRecording = filepath.Join("..", "..", "dvr", "testdata", "example.com.json")

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfgPath, isDebug, cfg = "", false, nil
	mediaType, checkedHeaders = string(dvr.MediaTypeJSON), nil
	outputPath, concurrency = "", 4

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestInspect(t *testing.T) {
	out, err := run(t, "inspect", exampleRecording)
	require.NoError(t, err)

	assert.Contains(t, out, "version: V0")
	assert.Contains(t, out, "events: 6, connections: 1")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	fields := strings.Fields(lines[len(lines)-1])
	assert.Equal(t, []string{"0", "POST", "https://www.example.com", "200", "11", "22", "true"}, fields)
}

func TestInspectMissingFile(t *testing.T) {
	_, err := run(t, "inspect", filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestValidateMatchingRecording(t *testing.T) {
	out, err := run(t, "validate", exampleRecording, exampleRecording, "--media-type", "text/plain")
	require.NoError(t, err)
	assert.Contains(t, out, "matches")
}

func TestValidateReportsMismatch(t *testing.T) {
	traffic, err := dvr.LoadFile(exampleRecording)
	require.NoError(t, err)
	for _, e := range traffic.Events {
		if d := e.Action.Data; d != nil && d.Direction == dvr.DirectionRequest {
			d.Data = dvr.NewBodyData([]byte("hello moon"))
		}
	}
	b, err := json.Marshal(traffic)
	require.NoError(t, err)
	actual := filepath.Join(t.TempDir(), "actual.json")
	require.NoError(t, os.WriteFile(actual, b, 0o600))

	_, err = run(t, "validate", exampleRecording, actual, "--media-type", "text/plain")
	require.Error(t, err)
	assert.ErrorContains(t, err, "event 0 validation failed with")
}

func TestRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "hello from %s", r.URL.Path)
	}))
	defer srv.Close()

	output := filepath.Join(t.TempDir(), "recorded.json")
	out, err := run(t, "record", srv.URL+"/a", srv.URL+"/b", "-o", output, "--concurrency", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "to "+output)

	traffic, err := dvr.LoadFile(output)
	require.NoError(t, err)
	reqs, err := dvr.RecordedRequests(traffic.Events)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	paths := []string{reqs[0].URL.Path, reqs[1].URL.Path}
	assert.ElementsMatch(t, []string{"/a", "/b"}, paths)
	assert.NotEmpty(t, reqs[0].Header.Get("amz-sdk-invocation-id"))
}

func TestRecordRejectsBadConcurrency(t *testing.T) {
	_, err := run(t, "record", "http://localhost", "-o", filepath.Join(t.TempDir(), "x.json"), "--concurrency", "0")
	assert.ErrorContains(t, err, "--concurrency must be at least 1")
}

func TestConfigPrintsEffectiveSettings(t *testing.T) {
	t.Setenv("CLIENTRT_RETRY_MAX_ATTEMPTS", "5")
	out, err := run(t, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "max_attempts: 5")
	assert.Contains(t, out, "initial_backoff: 1s")
}

func TestConfigRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retry:\n  mode: eager\n"), 0o600))
	_, err := run(t, "config", "--config", path)
	assert.ErrorContains(t, err, "Config.Retry.Mode")
}
