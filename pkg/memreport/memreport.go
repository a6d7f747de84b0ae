// Package memreport defines the JSON report and CSV trace formats produced
// by a measured run. The core sampler and aggregator own no serialization;
// everything file-format related lives here.
package memreport

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/cpu"

	"github.com/llmbench/go-llm-memprof/pkg/engine"
	"github.com/llmbench/go-llm-memprof/pkg/memwin"
)

// ReportEnv describes the host the measurement ran on.
type ReportEnv struct {
	OS            string     `json:"os"`
	Arch          string     `json:"arch"`
	CPUModel      string     `json:"cpu_model"`
	CPUNumLogical int        `json:"cpu_num_logical"`
	GPU           *ReportGPU `json:"gpu,omitempty"`
}

// ReportParams records the configuration of the measured run.
type ReportParams struct {
	Engine            string  `json:"engine"`
	Model             string  `json:"model"`
	KVCacheType       string  `json:"kv_cache_type,omitempty"`
	FlashAttention    bool    `json:"flash_attention,omitempty"`
	ContextTokens     int     `json:"context_tokens,omitempty"`
	MaxGenTokens      int     `json:"max_gen_tokens"`
	Temperature       float64 `json:"temperature"`
	SampleIntervalS   float64 `json:"sample_interval_s"`
	BaselineLookbackS float64 `json:"baseline_lookback_s,omitempty"`
	BaselineWindowS   float64 `json:"baseline_window_s,omitempty"`
	Repeats           int     `json:"repeats"`
}

// ReportTimings are the engine-reported durations plus derived throughput.
type ReportTimings struct {
	engine.Timings
	ElapsedWallS float64  `json:"elapsed_wall_s"`
	PrefillTPS   *float64 `json:"prefill_tps,omitempty"`
	GenTPS       *float64 `json:"gen_tps,omitempty"`
}

// RunReport is the top-level JSON document for one measured run.
type RunReport struct {
	Version          string         `json:"version"`
	TimestampRFC3339 string         `json:"timestamp_rfc3339"`
	RunID            string         `json:"run_id"`
	Label            string         `json:"label"`
	PID              int32          `json:"pid"`
	Env              ReportEnv      `json:"env"`
	Params           ReportParams   `json:"params"`
	Timings          ReportTimings  `json:"timings"`
	Memory           memwin.Metrics `json:"memory"`
}

// ReportVersion identifies the current report schema.
const ReportVersion = "1"

// DetectEnv captures host facts for the report. CPU model lookup is
// best-effort; the report stays useful without it.
func DetectEnv() ReportEnv {
	env := ReportEnv{
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		CPUNumLogical: runtime.NumCPU(),
	}
	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		env.CPUModel = infos[0].ModelName
	}
	env.GPU = DetectGPU(context.Background())
	return env
}
