package memreport

import (
	"bytes"
	"encoding/csv"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmbench/go-llm-memprof/pkg/procwatch"
)

func TestWriteTraceCSV(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 500_000_000, time.UTC)
	samples := []procwatch.MemSample{
		{Timestamp: ts, PID: 42, RSSBytes: 100 << 20, VMSBytes: 200 << 20, ElapsedS: 0},
		{Timestamp: ts.Add(100 * time.Millisecond), PID: 42, RSSBytes: 150 << 20, VMSBytes: 250 << 20, ElapsedS: 0.1},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteTraceCSV(&buf, "run1", samples))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{"timestamp", "label", "pid", "rss_mb", "vms_mb", "elapsed_s"}, rows[0])
	assert.Equal(t, []string{"2026-03-01T12:00:00.5Z", "run1", "42", "100.000000", "200.000000", "0.000000"}, rows[1])
	assert.Equal(t, "150.000000", rows[2][3])
	assert.Equal(t, "0.100000", rows[2][5])
}

func TestWriteTraceCSV_EmptyTraceStillHasHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTraceCSV(&buf, "empty", nil))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "timestamp", rows[0][0])
}

func TestWriteTraceCSVFile_CreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "trace.csv")
	require.NoError(t, WriteTraceCSVFile(path, "x", nil))
	assert.FileExists(t, path)
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.json")
	report := RunReport{
		Version: ReportVersion,
		RunID:   "abc",
		Label:   "bench",
		PID:     7,
	}
	require.NoError(t, WriteJSON(report, path))
	assert.FileExists(t, path)
}
