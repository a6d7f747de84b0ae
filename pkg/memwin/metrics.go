package memwin

import "github.com/llmbench/go-llm-memprof/pkg/procwatch"

// Metrics summarizes a trace over the three measurement windows. Fields are
// nil when their source window contained no samples or its source milestone
// was unavailable; absence is not an error, the raw trace is still valuable.
type Metrics struct {
	BaselineIdleRSSMB *float64 `json:"baseline_idle_rss_mb,omitempty"`
	PeakPrefillRSSMB  *float64 `json:"peak_prefill_rss_mb,omitempty"`
	PeakTotalRSSMB    *float64 `json:"peak_total_rss_mb,omitempty"`
	BaselineWindowS   Window   `json:"baseline_window_s"`
	PrefillWindowS    Window   `json:"prefill_window_s"`
	TotalWindowS      Window   `json:"total_window_s"`
	SampleCount       int      `json:"sample_count"`
}

// Compute filters the trace by each window and summarizes it: median resident
// memory for the baseline window, peaks for prefill and total. Zero windows
// mark a milestone that was never observed and yield nil, not a summary of
// whatever sample happens to sit at t=0.
func Compute(samples []procwatch.MemSample, w Windows) Metrics {
	m := Metrics{
		BaselineWindowS: w.Baseline,
		PrefillWindowS:  w.Prefill,
		TotalWindowS:    w.Total,
		SampleCount:     len(samples),
	}
	if !w.Baseline.IsZero() {
		m.BaselineIdleRSSMB = MedianRSSMB(FilterByElapsed(samples, w.Baseline))
	}
	if !w.Prefill.IsZero() {
		m.PeakPrefillRSSMB = PeakRSSMB(FilterByElapsed(samples, w.Prefill))
	}
	if !w.Total.IsZero() {
		m.PeakTotalRSSMB = PeakRSSMB(FilterByElapsed(samples, w.Total))
	}
	return m
}
