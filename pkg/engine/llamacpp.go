package engine

import (
	"bufio"
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// llama.cpp prints its timing summary to stderr in lines like:
//
//	llama_perf_context_print:        load time =     523.40 ms
//	llama_perf_context_print: prompt eval time =    1042.61 ms /   128 tokens
//	llama_perf_context_print:        eval time =    2901.15 ms /    50 runs
//	llama_perf_context_print:       total time =    4512.33 ms /   178 tokens
var (
	reLoadTime   = regexp.MustCompile(`(?i)load time\s*=\s*([0-9.]+)\s*ms`)
	rePromptTime = regexp.MustCompile(`(?i)prompt eval time\s*=\s*([0-9.]+)\s*ms\s*/\s*([0-9]+)\s*tokens`)
	reEvalTime   = regexp.MustCompile(`(?i)eval time\s*=\s*([0-9.]+)\s*ms\s*/\s*([0-9]+)\s*(?:runs|tokens)`)
	reTotalTime  = regexp.MustCompile(`(?i)total time\s*=\s*([0-9.]+)\s*ms\s*/\s*([0-9]+)\s*tokens`)
)

// LlamaCppRun describes one llama-cli invocation.
type LlamaCppRun struct {
	Binary      string
	ModelPath   string
	Prompt      string
	NPredict    int
	NCtx        int
	NGL         int
	Temperature float64
	CacheTypeK  string
	CacheTypeV  string
}

// Args builds the llama-cli argument vector.
func (r LlamaCppRun) Args() []string {
	args := []string{
		"-m", r.ModelPath,
		"-p", r.Prompt,
		"-n", strconv.Itoa(r.NPredict),
		"-c", strconv.Itoa(r.NCtx),
		"--temp", strconv.FormatFloat(r.Temperature, 'f', -1, 64),
		"-ngl", strconv.Itoa(r.NGL),
	}
	if r.CacheTypeK != "" {
		args = append(args, "--cache-type-k", r.CacheTypeK)
	}
	if r.CacheTypeV != "" {
		args = append(args, "--cache-type-v", r.CacheTypeV)
	}
	return args
}

// Command builds the subprocess for this run. The context bounds the whole
// invocation; the runner is responsible for sampling its memory while it runs.
func (r LlamaCppRun) Command(ctx context.Context) *exec.Cmd {
	binary := r.Binary
	if binary == "" {
		binary = "llama-cli"
	}
	return exec.CommandContext(ctx, binary, r.Args()...)
}

// ParseLlamaCppTimings extracts the timing summary from llama-cli output
// (stdout and stderr concatenated). Lines are matched individually because
// "prompt eval time" would otherwise also satisfy the "eval time" pattern.
// Missing lines leave the corresponding fields nil; a run with no parsable
// timings still yields a usable trace.
func ParseLlamaCppTimings(output string) Timings {
	var t Timings

	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case rePromptTime.MatchString(line):
			m := rePromptTime.FindStringSubmatch(line)
			t.PromptEvalDurationS = msToSeconds(m[1])
			t.PromptEvalCount = parseCount(m[2])
		case reTotalTime.MatchString(line):
			m := reTotalTime.FindStringSubmatch(line)
			t.TotalDurationS = msToSeconds(m[1])
		case reEvalTime.MatchString(line):
			m := reEvalTime.FindStringSubmatch(line)
			t.EvalDurationS = msToSeconds(m[1])
			t.EvalCount = parseCount(m[2])
		case reLoadTime.MatchString(line):
			m := reLoadTime.FindStringSubmatch(line)
			t.LoadDurationS = msToSeconds(m[1])
		}
	}
	return t
}

func msToSeconds(raw string) *float64 {
	ms, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return lo.ToPtr(ms / 1000.0)
}

func parseCount(raw string) *int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &n
}
