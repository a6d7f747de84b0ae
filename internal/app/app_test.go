package app

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmbench/go-llm-memprof/internal/runner"
	"github.com/llmbench/go-llm-memprof/pkg/memreport"
	"github.com/llmbench/go-llm-memprof/pkg/procwatch"
)

func newTestApp(t *testing.T) *Application {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bench.yaml")
	cfg := "label: apptest\noutput_dir: " + filepath.Join(dir, "results") + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	application, err := New(cfgPath)
	require.NoError(t, err)
	return application
}

func TestNew(t *testing.T) {
	application := newTestApp(t)
	assert.Equal(t, "apptest", application.Config.Label)
	assert.NotNil(t, application.Log)

	rc := application.runnerConfig()
	assert.Equal(t, "apptest", rc.Label)
	assert.Equal(t, 50*time.Millisecond, rc.Interval)
}

func TestWriteResult(t *testing.T) {
	application := newTestApp(t)

	res := &runner.Result{
		RunID:        "run-1",
		Label:        "apptest",
		PID:          42,
		ElapsedWallS: 1.5,
		Samples: []procwatch.MemSample{
			{Timestamp: time.Now(), PID: 42, RSSBytes: 1 << 20, ElapsedS: 0},
		},
	}
	require.NoError(t, application.WriteResult("ollama", res, 3))

	base := filepath.Join(application.Config.OutputDir, "ollama_run-1")
	assert.FileExists(t, base+".json")
	assert.FileExists(t, base+"_trace.csv")
	assert.NoFileExists(t, base+"_baseline.csv")

	// The repeat count of the invocation lands in the report params.
	raw, err := os.ReadFile(base + ".json")
	require.NoError(t, err)
	var report memreport.RunReport
	require.NoError(t, json.Unmarshal(raw, &report))
	assert.Equal(t, 3, report.Params.Repeats)

	res.BaselineSamples = res.Samples
	res.RunID = "run-2"
	require.NoError(t, application.WriteResult("ollama", res, 1))
	assert.FileExists(t, filepath.Join(application.Config.OutputDir, "ollama_run-2_baseline.csv"))
}
