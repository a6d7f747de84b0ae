// Package memwin computes windowed memory metrics over a finished sample
// trace. All functions are pure: for a fixed trace and fixed windows the
// outputs are exactly reproducible.
package memwin

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/llmbench/go-llm-memprof/pkg/procwatch"
)

// Window is a closed interval [StartS, EndS] on a single sampler's monotonic
// time base, in seconds. The zero Window is empty and filters to nothing
// meaningful, which is how windows derived from absent timings degrade.
type Window struct {
	StartS float64
	EndS   float64
}

// Duration returns the window length in seconds.
func (w Window) Duration() float64 {
	return w.EndS - w.StartS
}

// IsZero reports whether the window is the degenerate (0,0) window.
func (w Window) IsZero() bool {
	return w.StartS == 0 && w.EndS == 0
}

// MarshalJSON encodes the window as a [start, end] pair, matching the trace
// tooling's expectations.
func (w Window) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{w.StartS, w.EndS})
}

func (w *Window) UnmarshalJSON(data []byte) error {
	var pair [2]float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	w.StartS, w.EndS = pair[0], pair[1]
	return nil
}

// NewWindow builds a window, swapping bounds if given in reverse.
func NewWindow(startS, endS float64) Window {
	if endS < startS {
		startS, endS = endS, startS
	}
	return Window{StartS: startS, EndS: endS}
}

// FilterByElapsed returns the ordered subsequence of samples whose ElapsedS
// lies inside the window, bounds inclusive. An empty input or a window with
// no samples yields an empty result, never an error.
func FilterByElapsed(samples []procwatch.MemSample, w Window) []procwatch.MemSample {
	var out []procwatch.MemSample
	for _, s := range samples {
		if s.ElapsedS >= w.StartS && s.ElapsedS <= w.EndS {
			out = append(out, s)
		}
	}
	return out
}

// MedianRSSMB returns the statistical median of resident memory over the
// samples, or nil for an empty input. Even counts average the two middle
// values.
func MedianRSSMB(samples []procwatch.MemSample) *float64 {
	if len(samples) == 0 {
		return nil
	}
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.RSSMB()
	}
	sort.Float64s(values)

	mid := len(values) / 2
	var median float64
	if len(values)%2 == 0 {
		median = (values[mid-1] + values[mid]) / 2
	} else {
		median = values[mid]
	}
	return &median
}

// PeakRSSMB returns the maximum resident memory over the samples, or nil for
// an empty input.
func PeakRSSMB(samples []procwatch.MemSample) *float64 {
	if len(samples) == 0 {
		return nil
	}
	peak := samples[0].RSSMB()
	for _, s := range samples[1:] {
		if v := s.RSSMB(); v > peak {
			peak = v
		}
	}
	return &peak
}

// AlignMilestone converts a milestone the subject reported relative to its
// own start into the sampler's time base. launchOffsetS is the offset of the
// subject's launch instant from the sampler's start, captured on the same
// monotonic clock. Raw timestamps from the two clocks must never be compared
// directly; every conversion goes through this function.
func AlignMilestone(launchOffsetS, milestoneS float64) float64 {
	return launchOffsetS + milestoneS
}

// Milestones are subject-reported phase durations in seconds, relative to the
// subject's own start. Any of them may be absent when the subject's output
// did not include or could not be parsed for that phase.
type Milestones struct {
	LoadDurationS       *float64
	PromptEvalDurationS *float64
	TotalDurationS      *float64
}

// Windows are the three conventional measurement windows in sampler time.
type Windows struct {
	Baseline Window
	Prefill  Window
	Total    Window
}

func (w Windows) String() string {
	return fmt.Sprintf("baseline=[%.3f,%.3f] prefill=[%.3f,%.3f] total=[%.3f,%.3f]",
		w.Baseline.StartS, w.Baseline.EndS,
		w.Prefill.StartS, w.Prefill.EndS,
		w.Total.StartS, w.Total.EndS)
}

// ComputeWindows derives the baseline, prefill and total windows from subject
// milestones. The baseline window covers up to baselineLookbackS seconds of
// idle time preceding the end of the load phase; the prefill window spans the
// prompt-evaluation phase; the total window spans the whole observed wall
// duration. Windows whose source milestones are absent stay zero and filter
// to empty sample sets.
func ComputeWindows(launchOffsetS float64, m Milestones, baselineLookbackS, observedWallS float64) Windows {
	var w Windows
	if m.LoadDurationS != nil {
		loadEnd := AlignMilestone(launchOffsetS, *m.LoadDurationS)
		w.Baseline = Window{StartS: math.Max(0, loadEnd-baselineLookbackS), EndS: loadEnd}
		if m.PromptEvalDurationS != nil {
			w.Prefill = Window{StartS: loadEnd, EndS: loadEnd + *m.PromptEvalDurationS}
		}
	}
	if observedWallS > 0 {
		w.Total = Window{StartS: 0, EndS: observedWallS}
	}
	return w
}
