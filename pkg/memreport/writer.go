package memreport

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/llmbench/go-llm-memprof/pkg/procwatch"
)

// traceHeader is the column layout shared with the analysis tooling.
var traceHeader = []string{"timestamp", "label", "pid", "rss_mb", "vms_mb", "elapsed_s"}

// WriteTraceCSV writes a sample trace as CSV rows.
func WriteTraceCSV(w io.Writer, label string, samples []procwatch.MemSample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(traceHeader); err != nil {
		return err
	}

	rows := lo.Map(samples, func(s procwatch.MemSample, _ int) []string {
		return []string{
			s.Timestamp.Format(time.RFC3339Nano),
			label,
			strconv.FormatInt(int64(s.PID), 10),
			strconv.FormatFloat(s.RSSMB(), 'f', 6, 64),
			strconv.FormatFloat(s.VMSMB(), 'f', 6, 64),
			strconv.FormatFloat(s.ElapsedS, 'f', 6, 64),
		}
	})
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// WriteTraceCSVFile writes the trace to a file, creating parent directories.
func WriteTraceCSVFile(path, label string, samples []procwatch.MemSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := WriteTraceCSV(f, label, samples); err != nil {
		return fmt.Errorf("write trace %s: %w", path, err)
	}
	return nil
}

// WriteJSON writes an indented report to outPath, or to stdout when outPath
// is empty.
func WriteJSON(report RunReport, outPath string) error {
	if outPath == "" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	if err := ensureDir(outPath); err != nil {
		return err
	}
	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func ensureDir(path string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		return os.MkdirAll(dir, 0o755)
	}
	return nil
}
