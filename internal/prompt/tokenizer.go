package prompt

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// LlamaTokenizer shells out to llama.cpp's llama-tokenize binary. One output
// line per token is the only format assumption, which has held across
// llama.cpp versions.
type LlamaTokenizer struct {
	Binary    string
	ModelPath string
}

func (t LlamaTokenizer) CountTokens(ctx context.Context, text string) (int, error) {
	binary := t.Binary
	if binary == "" {
		binary = "llama-tokenize"
	}
	cmd := exec.CommandContext(ctx, binary, "-m", t.ModelPath, "-p", text)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("run %s: %w", binary, err)
	}

	count := 0
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count, nil
}

// ApproxTokenizer estimates token counts from character length. It is the
// fallback when no tokenizer binary is configured; prompts built with it are
// approximate, not exact.
type ApproxTokenizer struct {
	CharsPerToken float64
}

func (t ApproxTokenizer) CountTokens(_ context.Context, text string) (int, error) {
	cpt := t.CharsPerToken
	if cpt <= 0 {
		cpt = 4.0
	}
	return int(float64(len(text)) / cpt), nil
}
