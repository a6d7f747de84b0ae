package engine

import (
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimingsTPS(t *testing.T) {
	full := Timings{
		PromptEvalCount:     lo.ToPtr(128),
		PromptEvalDurationS: lo.ToPtr(1.0),
		EvalCount:           lo.ToPtr(50),
		EvalDurationS:       lo.ToPtr(2.5),
	}

	prefill := full.PrefillTPS()
	require.NotNil(t, prefill)
	assert.InDelta(t, 128.0, *prefill, 1e-9)

	gen := full.GenTPS()
	require.NotNil(t, gen)
	assert.InDelta(t, 20.0, *gen, 1e-9)
}

func TestTimingsTPS_AbsentOrZeroInputs(t *testing.T) {
	assert.Nil(t, Timings{}.PrefillTPS())
	assert.Nil(t, Timings{PromptEvalCount: lo.ToPtr(128)}.PrefillTPS())
	assert.Nil(t, Timings{
		EvalCount:     lo.ToPtr(50),
		EvalDurationS: lo.ToPtr(0.0),
	}.GenTPS())
}
