// mkprompts builds prompts with exact token counts for context-length sweeps
// and writes one file per target plus a manifest:
//
//	mkprompts -model model.gguf -targets 1024,4096,16384 -out prompts/
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/llmbench/go-llm-memprof/internal/prompt"
)

const basePrefix = "You are given a long passage. Read it carefully and answer concisely."

type manifestEntry struct {
	File string `json:"file"`
	prompt.BuildResult
}

type manifest struct {
	GeneratedRFC3339 string          `json:"generated_rfc3339"`
	ModelPath        string          `json:"model_path"`
	Tokenizer        string          `json:"tokenizer"`
	Prompts          []manifestEntry `json:"prompts"`
}

func main() {
	var (
		modelPath = flag.String("model", "", "GGUF model path (used only to load the tokenizer)")
		tokenizer = flag.String("tokenizer", "llama-tokenize", "path to llama-tokenize binary; empty for approximate counting")
		targets   = flag.String("targets", "1024,2048,4096,8192,16384,32768", "comma-separated target token counts")
		outDir    = flag.String("out", "prompts", "output directory")
	)
	flag.Parse()

	var tz prompt.Tokenizer
	if *tokenizer != "" {
		if *modelPath == "" {
			fatalf("-model is required when using a real tokenizer")
		}
		tz = prompt.LlamaTokenizer{Binary: *tokenizer, ModelPath: *modelPath}
	} else {
		tz = prompt.ApproxTokenizer{}
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fatalf("%v", err)
	}

	m := manifest{
		GeneratedRFC3339: time.Now().Format(time.RFC3339),
		ModelPath:        *modelPath,
		Tokenizer:        *tokenizer,
	}

	ctx := context.Background()
	for _, raw := range strings.Split(*targets, ",") {
		target, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || target <= 0 {
			fatalf("bad target token count %q", raw)
		}

		result, err := prompt.BuildExact(ctx, tz, target, basePrefix)
		if err != nil {
			fatalf("build %d-token prompt: %v", target, err)
		}

		file := filepath.Join(*outDir, fmt.Sprintf("ctx_%d.txt", target))
		if err := os.WriteFile(file, []byte(result.Text), 0o644); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("wrote %s (%d tokens, %.1fs)\n", file, result.ActualTokens, result.BuildSeconds)
		m.Prompts = append(m.Prompts, manifestEntry{File: file, BuildResult: result})
	}

	f, err := os.Create(filepath.Join(*outDir, "manifest.json"))
	if err != nil {
		fatalf("%v", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		fatalf("write manifest: %v", err)
	}
}

func fatalf(format string, a ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
