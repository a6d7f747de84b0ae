package memwin

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmbench/go-llm-memprof/pkg/procwatch"
)

const mb = 1024 * 1024

func trace(rssMB []float64) []procwatch.MemSample {
	samples := make([]procwatch.MemSample, len(rssMB))
	for i, v := range rssMB {
		samples[i] = procwatch.MemSample{
			PID:      1,
			RSSBytes: uint64(v * mb),
			ElapsedS: float64(i) * 0.1,
		}
	}
	return samples
}

func TestFilterByElapsed(t *testing.T) {
	samples := trace([]float64{10, 20, 30, 40, 50}) // elapsed 0.0 .. 0.4

	t.Run("bounds are inclusive", func(t *testing.T) {
		got := FilterByElapsed(samples, Window{StartS: 0.1, EndS: 0.3})
		require.Len(t, got, 3)
		assert.InDelta(t, 20.0, got[0].RSSMB(), 0.001)
		assert.InDelta(t, 40.0, got[2].RSSMB(), 0.001)
	})

	t.Run("idempotent", func(t *testing.T) {
		w := Window{StartS: 0.1, EndS: 0.3}
		once := FilterByElapsed(samples, w)
		twice := FilterByElapsed(once, w)
		assert.Equal(t, once, twice)
	})

	t.Run("zero window matches only t=0", func(t *testing.T) {
		got := FilterByElapsed(samples, Window{})
		require.Len(t, got, 1)
		assert.InDelta(t, 10.0, got[0].RSSMB(), 0.001)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, FilterByElapsed(nil, Window{StartS: 0, EndS: 10}))
	})

	t.Run("window beyond trace", func(t *testing.T) {
		assert.Empty(t, FilterByElapsed(samples, Window{StartS: 5, EndS: 10}))
	})
}

func TestMedianRSSMB(t *testing.T) {
	t.Run("odd count", func(t *testing.T) {
		got := MedianRSSMB(trace([]float64{30, 10, 20}))
		require.NotNil(t, got)
		assert.InDelta(t, 20.0, *got, 0.001)
	})

	t.Run("even count averages middles", func(t *testing.T) {
		got := MedianRSSMB(trace([]float64{40, 10, 30, 20}))
		require.NotNil(t, got)
		assert.InDelta(t, 25.0, *got, 0.001)
	})

	t.Run("single sample", func(t *testing.T) {
		got := MedianRSSMB(trace([]float64{17}))
		require.NotNil(t, got)
		assert.InDelta(t, 17.0, *got, 0.001)
	})

	t.Run("empty is nil not zero", func(t *testing.T) {
		assert.Nil(t, MedianRSSMB(nil))
	})
}

func TestPeakRSSMB(t *testing.T) {
	got := PeakRSSMB(trace([]float64{10, 55, 42}))
	require.NotNil(t, got)
	assert.InDelta(t, 55.0, *got, 0.001)

	assert.Nil(t, PeakRSSMB(nil))
}

func TestNewWindow_SwapsReversedBounds(t *testing.T) {
	w := NewWindow(3, 1)
	assert.Equal(t, Window{StartS: 1, EndS: 3}, w)
	assert.InDelta(t, 2.0, w.Duration(), 0.001)
}

func TestWindowJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(Window{StartS: 1.5, EndS: 4.25})
	require.NoError(t, err)
	assert.JSONEq(t, `[1.5, 4.25]`, string(data))

	var w Window
	require.NoError(t, json.Unmarshal(data, &w))
	assert.Equal(t, Window{StartS: 1.5, EndS: 4.25}, w)
}

func TestComputeWindows(t *testing.T) {
	load := 2.0
	prefill := 3.0

	t.Run("all milestones present", func(t *testing.T) {
		w := ComputeWindows(0, Milestones{
			LoadDurationS:       &load,
			PromptEvalDurationS: &prefill,
		}, 1.0, 12.0)

		assert.Equal(t, Window{StartS: 1.0, EndS: 2.0}, w.Baseline)
		assert.Equal(t, Window{StartS: 2.0, EndS: 5.0}, w.Prefill)
		assert.Equal(t, Window{StartS: 0.0, EndS: 12.0}, w.Total)
	})

	t.Run("launch offset shifts subject milestones", func(t *testing.T) {
		w := ComputeWindows(0.5, Milestones{
			LoadDurationS:       &load,
			PromptEvalDurationS: &prefill,
		}, 1.0, 12.0)

		assert.Equal(t, Window{StartS: 1.5, EndS: 2.5}, w.Baseline)
		assert.Equal(t, Window{StartS: 2.5, EndS: 5.5}, w.Prefill)
	})

	t.Run("lookback clamped at zero", func(t *testing.T) {
		w := ComputeWindows(0, Milestones{LoadDurationS: &load}, 30.0, 12.0)
		assert.Equal(t, Window{StartS: 0.0, EndS: 2.0}, w.Baseline)
	})

	t.Run("absent load milestone degrades baseline and prefill", func(t *testing.T) {
		w := ComputeWindows(0, Milestones{PromptEvalDurationS: &prefill}, 1.0, 12.0)
		assert.True(t, w.Baseline.IsZero())
		assert.True(t, w.Prefill.IsZero())
		assert.Equal(t, Window{StartS: 0.0, EndS: 12.0}, w.Total)
	})

	t.Run("absent prompt milestone degrades only prefill", func(t *testing.T) {
		w := ComputeWindows(0, Milestones{LoadDurationS: &load}, 1.0, 12.0)
		assert.False(t, w.Baseline.IsZero())
		assert.True(t, w.Prefill.IsZero())
	})
}

func TestCompute(t *testing.T) {
	// Idle around 100 MB through the load phase, a prefill spike to 260 MB,
	// then generation hovering near 240 MB.
	samples := trace([]float64{
		100, 101, 99, 100, 102, // 0.0-0.4: idle
		180, 260, 250, // 0.5-0.7: prefill
		240, 238, 242, // 0.8-1.0: generation
	})

	load := 0.45
	prefill := 0.3
	w := ComputeWindows(0, Milestones{
		LoadDurationS:       &load,
		PromptEvalDurationS: &prefill,
	}, 0.45, 1.0)

	m := Compute(samples, w)

	require.NotNil(t, m.BaselineIdleRSSMB)
	assert.InDelta(t, 100.0, *m.BaselineIdleRSSMB, 0.001)
	require.NotNil(t, m.PeakPrefillRSSMB)
	assert.InDelta(t, 260.0, *m.PeakPrefillRSSMB, 0.001)
	require.NotNil(t, m.PeakTotalRSSMB)
	assert.InDelta(t, 260.0, *m.PeakTotalRSSMB, 0.001)
	assert.Equal(t, len(samples), m.SampleCount)
}

func TestCompute_EmptyWindowsYieldNilMetrics(t *testing.T) {
	samples := trace([]float64{100, 110})

	m := Compute(samples, Windows{Total: Window{StartS: 0, EndS: 1}})
	assert.NotNil(t, m.PeakTotalRSSMB)
	assert.Nil(t, m.BaselineIdleRSSMB)
	assert.Nil(t, m.PeakPrefillRSSMB)

	empty := Compute(nil, Windows{})
	assert.Nil(t, empty.BaselineIdleRSSMB)
	assert.Nil(t, empty.PeakPrefillRSSMB)
	assert.Nil(t, empty.PeakTotalRSSMB)
	assert.Equal(t, 0, empty.SampleCount)
}
