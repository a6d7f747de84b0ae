package prompt

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordTokenizer counts whitespace-separated words, one token each.
type wordTokenizer struct{}

func (wordTokenizer) CountTokens(_ context.Context, text string) (int, error) {
	return len(strings.Fields(text)), nil
}

// doubledTokenizer counts "the" as two tokens and every other word as one, so
// the coarse extrapolation lands below the target and the fine phase has to
// close the gap with cheaper fragments.
type doubledTokenizer struct{}

func (doubledTokenizer) CountTokens(_ context.Context, text string) (int, error) {
	n := 0
	for _, w := range strings.Fields(text) {
		if w == "the" {
			n += 2
		} else {
			n++
		}
	}
	return n, nil
}

func TestBuildExact_HitsTargetExactly(t *testing.T) {
	for _, target := range []int{10, 50, 1000} {
		res, err := BuildExact(context.Background(), wordTokenizer{}, target, "You are given a passage.")
		require.NoError(t, err, "target %d", target)
		assert.Equal(t, target, res.ActualTokens)
		assert.Equal(t, target, res.TargetTokens)

		n, _ := wordTokenizer{}.CountTokens(context.Background(), res.Text)
		assert.Equal(t, target, n, "built text must re-tokenize to the target")
	}
}

func TestBuildExact_FinePhaseClosesOddGap(t *testing.T) {
	res, err := BuildExact(context.Background(), doubledTokenizer{}, 10, "Intro")
	require.NoError(t, err)
	assert.Equal(t, 10, res.ActualTokens)
}

func TestBuildExact_BasePrefixTooLong(t *testing.T) {
	_, err := BuildExact(context.Background(), wordTokenizer{}, 3, "one two three four five")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base prefix")
}

func TestApproxTokenizer(t *testing.T) {
	n, err := ApproxTokenizer{}.CountTokens(context.Background(), "abcdefgh")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = ApproxTokenizer{CharsPerToken: 2}.CountTokens(context.Background(), "abcdefgh")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestLlamaTokenizer_CountsOutputLines(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake")
	}

	// Fake tokenizer binary that prints one line per token.
	script := filepath.Join(t.TempDir(), "fake-tokenize")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nprintf '1 -> a\\n2 -> b\\n3 -> c\\n'\n"), 0o755))

	n, err := LlamaTokenizer{Binary: script, ModelPath: "unused.gguf"}.
		CountTokens(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
