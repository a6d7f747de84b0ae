// Package engine adapts the supported inference engines (Ollama's HTTP API
// and the llama.cpp CLI) to a common timing contract consumed by the
// measurement runner.
package engine

// Timings are the milestones an engine reports about its own run, in seconds
// relative to the engine's start. Fields are nil when the engine did not
// report or its output could not be parsed for that phase.
type Timings struct {
	LoadDurationS       *float64 `json:"load_duration_s,omitempty"`
	PromptEvalDurationS *float64 `json:"prompt_eval_duration_s,omitempty"`
	PromptEvalCount     *int     `json:"prompt_eval_count,omitempty"`
	EvalDurationS       *float64 `json:"eval_duration_s,omitempty"`
	EvalCount           *int     `json:"eval_count,omitempty"`
	TotalDurationS      *float64 `json:"total_duration_s,omitempty"`
}

// PrefillTPS derives prompt-evaluation tokens per second, nil when either
// input is absent or the duration is zero.
func (t Timings) PrefillTPS() *float64 {
	return tokensPerSecond(t.PromptEvalCount, t.PromptEvalDurationS)
}

// GenTPS derives generation tokens per second.
func (t Timings) GenTPS() *float64 {
	return tokensPerSecond(t.EvalCount, t.EvalDurationS)
}

func tokensPerSecond(count *int, durationS *float64) *float64 {
	if count == nil || durationS == nil || *durationS <= 0 {
		return nil
	}
	tps := float64(*count) / *durationS
	return &tps
}
