package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/samber/lo"
)

const readyPollInterval = 250 * time.Millisecond

// OllamaClient talks to a running Ollama server over its local HTTP API.
type OllamaClient struct {
	baseURL string
	httpc   *http.Client
	log     *slog.Logger
}

// NewOllamaClient creates a client for the given base URL
// (e.g. http://localhost:11434). Request timeouts are set per call.
func NewOllamaClient(baseURL string, log *slog.Logger) *OllamaClient {
	if log == nil {
		log = slog.Default()
	}
	return &OllamaClient{
		baseURL: baseURL,
		httpc:   &http.Client{},
		log:     log,
	}
}

// Ready reports whether the server answers its tags endpoint.
func (c *OllamaClient) Ready(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// WaitReady polls the server until it is ready or the timeout elapses.
func (c *OllamaClient) WaitReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.Ready(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyPollInterval):
		}
	}
	return fmt.Errorf("ollama not ready at %s after %s", c.baseURL, timeout)
}

// GenerateRequest describes one non-streaming /api/generate call. Streaming
// is disabled so timing fields arrive in a single response.
type GenerateRequest struct {
	Model        string
	Prompt       string
	MaxGenTokens int
	Temperature  float64
}

// GenerateResult carries the generated text plus the engine-reported timings
// converted from Ollama's nanosecond fields into seconds.
type GenerateResult struct {
	Response     string
	Timings      Timings
	ElapsedWallS float64
}

type generatePayload struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	NumPredict  int     `json:"num_predict"`
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Response           string `json:"response"`
	TotalDuration      int64  `json:"total_duration"`
	LoadDuration       int64  `json:"load_duration"`
	PromptEvalCount    int    `json:"prompt_eval_count"`
	PromptEvalDuration int64  `json:"prompt_eval_duration"`
	EvalCount          int    `json:"eval_count"`
	EvalDuration       int64  `json:"eval_duration"`
}

// Generate runs one generation request. The caller-supplied context must
// carry a deadline: a hung server would otherwise leave the measurement's
// sampler running forever.
func (c *OllamaClient) Generate(ctx context.Context, genReq GenerateRequest) (*GenerateResult, error) {
	payload := generatePayload{
		Model:  genReq.Model,
		Prompt: genReq.Prompt,
		Stream: false,
		Options: generateOptions{
			NumPredict:  genReq.MaxGenTokens,
			Temperature: genReq.Temperature,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("generate request: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode generate response: %w", err)
	}
	// Non-streaming responses arrive only once generation finishes, so the
	// wall measurement must include the body read, not just the headers.
	elapsed := time.Since(start).Seconds()

	c.log.Debug("generate finished",
		"model", genReq.Model,
		"eval_count", decoded.EvalCount,
		"elapsed_s", elapsed)

	return &GenerateResult{
		Response: decoded.Response,
		Timings: Timings{
			LoadDurationS:       nanosToSeconds(decoded.LoadDuration),
			PromptEvalDurationS: nanosToSeconds(decoded.PromptEvalDuration),
			PromptEvalCount:     lo.ToPtr(decoded.PromptEvalCount),
			EvalDurationS:       nanosToSeconds(decoded.EvalDuration),
			EvalCount:           lo.ToPtr(decoded.EvalCount),
			TotalDurationS:      nanosToSeconds(decoded.TotalDuration),
		},
		ElapsedWallS: elapsed,
	}, nil
}

// nanosToSeconds converts Ollama's nanosecond duration fields; a zero value
// means the phase was not reported.
func nanosToSeconds(ns int64) *float64 {
	if ns <= 0 {
		return nil
	}
	s := float64(ns) / 1e9
	return &s
}

// OllamaServerOpts configure the `ollama serve` subprocess. The KV-cache type
// is global server state and requires a restart to change.
type OllamaServerOpts struct {
	KVCacheType    string
	FlashAttention bool
	LogPath        string
}

// OllamaServer owns an `ollama serve` subprocess started for a measurement.
type OllamaServer struct {
	cmd     *exec.Cmd
	client  *OllamaClient
	logFile *os.File
	log     *slog.Logger
}

// StartOllamaServer launches `ollama serve` with the KV-cache environment
// applied and waits for it to answer health checks.
func StartOllamaServer(ctx context.Context, baseURL string, opts OllamaServerOpts, log *slog.Logger) (*OllamaServer, error) {
	if log == nil {
		log = slog.Default()
	}

	env := os.Environ()
	if opts.FlashAttention {
		env = append(env, "OLLAMA_FLASH_ATTENTION=1")
	}
	if opts.KVCacheType != "" {
		env = append(env, "OLLAMA_KV_CACHE_TYPE="+opts.KVCacheType)
	}

	cmd := exec.Command("ollama", "serve")
	cmd.Env = env

	var logFile *os.File
	if opts.LogPath != "" {
		if dir := filepath.Dir(opts.LogPath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		f, err := os.Create(opts.LogPath)
		if err != nil {
			return nil, err
		}
		logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("ollama binary not found on PATH: %w", err)
		}
		return nil, fmt.Errorf("start ollama serve: %w", err)
	}

	server := &OllamaServer{
		cmd:     cmd,
		client:  NewOllamaClient(baseURL, log),
		logFile: logFile,
		log:     log,
	}

	if err := server.client.WaitReady(ctx, 30*time.Second); err != nil {
		_ = server.Stop(5 * time.Second)
		return nil, err
	}
	log.Info("ollama server ready", "pid", cmd.Process.Pid, "kv_cache_type", opts.KVCacheType)
	return server, nil
}

// Client returns the HTTP client bound to this server.
func (s *OllamaServer) Client() *OllamaClient {
	return s.client
}

// PID returns the server process id for memory sampling.
func (s *OllamaServer) PID() int32 {
	return int32(s.cmd.Process.Pid)
}

// Stop terminates the server, escalating to SIGKILL after the timeout.
func (s *OllamaServer) Stop(timeout time.Duration) error {
	if s.logFile != nil {
		defer s.logFile.Close()
	}
	if s.cmd.Process == nil {
		return nil
	}
	if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
		// Already gone.
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		s.log.Warn("ollama server did not exit, killing", "pid", s.cmd.Process.Pid)
		_ = s.cmd.Process.Kill()
		<-done
		return nil
	}
}
