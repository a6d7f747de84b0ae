// Package prompt builds prompts with an exact token count under a target
// model's tokenizer, for context-length sweeps where "roughly N tokens" is
// not reproducible enough.
package prompt

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Tokenizer counts tokens of a text under the target model's vocabulary.
type Tokenizer interface {
	CountTokens(ctx context.Context, text string) (int, error)
}

// BuildResult is a constructed prompt plus how close it got to the target.
type BuildResult struct {
	TargetTokens int     `json:"target_tokens"`
	ActualTokens int     `json:"actual_tokens"`
	Text         string  `json:"-"`
	BuildSeconds float64 `json:"build_seconds"`
}

const (
	coarseUnit = " the"
	maxIters   = 200
)

// fineUnits are small fragments appended one at a time to close the last few
// tokens of the gap; most tokenize to a single token.
var fineUnits = []string{" the", " a", " and", " in", " of", "\n", " .", " 0", " 1", " 2"}

// BuildExact constructs a prompt that tokenizes to exactly targetTokens:
// a coarse phase estimates the number of filler-unit repetitions from the
// measured per-unit cost, then a fine phase appends small fragments until the
// count lands on the target.
func BuildExact(ctx context.Context, tz Tokenizer, targetTokens int, basePrefix string) (BuildResult, error) {
	start := time.Now()

	base := strings.TrimRight(basePrefix, "\n") + "\n\n"
	baseTokens, err := tz.CountTokens(ctx, base)
	if err != nil {
		return BuildResult{}, fmt.Errorf("tokenize base prefix: %w", err)
	}
	if baseTokens > targetTokens {
		return BuildResult{}, fmt.Errorf("base prefix already %d tokens, target is %d", baseTokens, targetTokens)
	}

	// Coarse: measure the token cost of a filler block and extrapolate.
	const probeReps = 64
	probe := base + strings.Repeat(coarseUnit, probeReps)
	probeTokens, err := tz.CountTokens(ctx, probe)
	if err != nil {
		return BuildResult{}, err
	}
	perUnit := float64(probeTokens-baseTokens) / probeReps
	if perUnit <= 0 {
		perUnit = 1
	}

	reps := int(float64(targetTokens-baseTokens) / perUnit)
	if reps < 0 {
		reps = 0
	}
	text := base + strings.Repeat(coarseUnit, reps)
	count, err := tz.CountTokens(ctx, text)
	if err != nil {
		return BuildResult{}, err
	}

	// Back off if the extrapolation overshot.
	for count > targetTokens && reps > 0 {
		over := count - targetTokens
		trim := int(float64(over) / perUnit)
		if trim < 1 {
			trim = 1
		}
		if trim > reps {
			trim = reps
		}
		reps -= trim
		text = base + strings.Repeat(coarseUnit, reps)
		if count, err = tz.CountTokens(ctx, text); err != nil {
			return BuildResult{}, err
		}
	}

	// Fine: greedily append fragments that keep us at or under the target.
	for iter := 0; count < targetTokens && iter < maxIters; iter++ {
		appended := false
		for _, unit := range fineUnits {
			candidate := text + unit
			n, err := tz.CountTokens(ctx, candidate)
			if err != nil {
				return BuildResult{}, err
			}
			if n <= targetTokens && n > count {
				text = candidate
				count = n
				appended = true
				break
			}
		}
		if !appended {
			break
		}
	}

	if count != targetTokens {
		return BuildResult{}, fmt.Errorf("could not reach %d tokens, closest was %d", targetTokens, count)
	}
	return BuildResult{
		TargetTokens: targetTokens,
		ActualTokens: count,
		Text:         text,
		BuildSeconds: time.Since(start).Seconds(),
	}, nil
}
