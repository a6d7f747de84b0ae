package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/llmbench/go-llm-memprof/internal/config"
	"github.com/llmbench/go-llm-memprof/internal/runner"
	"github.com/llmbench/go-llm-memprof/pkg/engine"
	"github.com/llmbench/go-llm-memprof/pkg/memreport"
	"github.com/llmbench/go-llm-memprof/pkg/procwatch"
)

// Application wires the configuration, logger and measurement runner for one
// llmbench invocation.
type Application struct {
	Config config.Config
	Log    *slog.Logger
}

func New(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	return &Application{
		Config: cfg,
		Log:    log,
	}, nil
}

func (a *Application) runnerConfig() runner.Config {
	return runner.Config{
		Label:             a.Config.Label,
		Interval:          time.Duration(a.Config.Sampling.IntervalMS) * time.Millisecond,
		BaselineLookbackS: a.Config.Sampling.BaselineLookbackS,
		IncludeChildren:   true,
		Log:               a.Log,
	}
}

// RunOllama measures one generation request against an Ollama server. When
// the config asks for a managed server, one is started with the configured
// KV-cache environment and torn down afterwards.
func (a *Application) RunOllama(ctx context.Context) (*runner.Result, error) {
	oc := a.Config.Ollama

	var client *engine.OllamaClient
	var pid int32

	if oc.ManageServer {
		server, err := engine.StartOllamaServer(ctx, oc.BaseURL, engine.OllamaServerOpts{
			KVCacheType:    oc.KVCacheType,
			FlashAttention: oc.FlashAttention,
			LogPath:        oc.ServerLog,
		}, a.Log)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := server.Stop(5 * time.Second); err != nil {
				a.Log.Warn("stopping ollama server", "error", err)
			}
		}()
		client = server.Client()
		pid = server.PID()
	} else {
		client = engine.NewOllamaClient(oc.BaseURL, a.Log)
		if err := client.WaitReady(ctx, 10*time.Second); err != nil {
			return nil, err
		}
		target, err := procwatch.ResolveByName("ollama").Resolve(ctx)
		if err != nil {
			return nil, fmt.Errorf("locate running ollama server: %w", err)
		}
		pid = target.PID()
	}

	req := engine.GenerateRequest{
		Model:        oc.Model,
		Prompt:       a.Config.Prompt.Text,
		MaxGenTokens: a.Config.Prompt.MaxGenTokens,
		Temperature:  a.Config.Prompt.Temperature,
	}
	var warmup *engine.GenerateRequest
	if oc.Warmup {
		warmup = &engine.GenerateRequest{
			Model:        oc.Model,
			Prompt:       oc.WarmupPrompt,
			MaxGenTokens: oc.WarmupMaxGenTokens,
		}
	}
	requestTimeout := time.Duration(oc.RequestTimeoutS * float64(time.Second))

	return runner.MeasureServerRequest(ctx, client, pid, req, warmup, oc.BaselineWindowS, requestTimeout, a.runnerConfig())
}

// RunLlamaCpp measures a full llama-cli invocation from process start to exit.
func (a *Application) RunLlamaCpp(ctx context.Context) (*runner.Result, error) {
	lc := a.Config.LlamaCpp
	if lc.ModelPath == "" {
		return nil, fmt.Errorf("llamacpp.model_path is required")
	}
	if _, err := os.Stat(lc.ModelPath); err != nil {
		return nil, fmt.Errorf("model not found: %s", lc.ModelPath)
	}

	run := engine.LlamaCppRun{
		Binary:      lc.Binary,
		ModelPath:   lc.ModelPath,
		Prompt:      a.Config.Prompt.Text,
		NPredict:    a.Config.Prompt.MaxGenTokens,
		NCtx:        lc.NCtx,
		NGL:         lc.NGL,
		Temperature: a.Config.Prompt.Temperature,
		CacheTypeK:  lc.CacheTypeK,
		CacheTypeV:  lc.CacheTypeV,
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(lc.TimeoutS*float64(time.Second)))
	defer cancel()

	return runner.MeasureProcess(runCtx, run.Command(runCtx), engine.ParseLlamaCppTimings, a.runnerConfig())
}

// WriteResult writes the JSON report and the CSV traces for one run into the
// configured output directory. repeats is the total number of runs in the
// invocation this run belongs to.
func (a *Application) WriteResult(engineName string, res *runner.Result, repeats int) error {
	report := memreport.RunReport{
		Version:          memreport.ReportVersion,
		TimestampRFC3339: time.Now().Format(time.RFC3339),
		RunID:            res.RunID,
		Label:            res.Label,
		PID:              res.PID,
		Env:              memreport.DetectEnv(),
		Params:           a.reportParams(engineName, repeats),
		Timings: memreport.ReportTimings{
			Timings:      res.Timings,
			ElapsedWallS: res.ElapsedWallS,
			PrefillTPS:   res.Timings.PrefillTPS(),
			GenTPS:       res.Timings.GenTPS(),
		},
		Memory: res.Metrics,
	}

	base := filepath.Join(a.Config.OutputDir, fmt.Sprintf("%s_%s", engineName, res.RunID))
	if err := memreport.WriteJSON(report, base+".json"); err != nil {
		return err
	}
	if err := memreport.WriteTraceCSVFile(base+"_trace.csv", res.Label, res.Samples); err != nil {
		return err
	}
	if len(res.BaselineSamples) > 0 {
		if err := memreport.WriteTraceCSVFile(base+"_baseline.csv", res.Label, res.BaselineSamples); err != nil {
			return err
		}
	}
	a.Log.Info("run written", "report", base+".json", "samples", len(res.Samples))
	return nil
}

func (a *Application) reportParams(engineName string, repeats int) memreport.ReportParams {
	if repeats < 1 {
		repeats = 1
	}
	p := memreport.ReportParams{
		Engine:          engineName,
		MaxGenTokens:    a.Config.Prompt.MaxGenTokens,
		Temperature:     a.Config.Prompt.Temperature,
		SampleIntervalS: float64(a.Config.Sampling.IntervalMS) / 1000.0,
		Repeats:         repeats,
	}
	switch engineName {
	case "ollama":
		p.Model = a.Config.Ollama.Model
		p.KVCacheType = a.Config.Ollama.KVCacheType
		p.FlashAttention = a.Config.Ollama.FlashAttention
		p.BaselineWindowS = a.Config.Ollama.BaselineWindowS
	case "llamacpp":
		p.Model = a.Config.LlamaCpp.ModelPath
		p.KVCacheType = a.Config.LlamaCpp.CacheTypeK
		p.BaselineLookbackS = a.Config.Sampling.BaselineLookbackS
	}
	return p
}
