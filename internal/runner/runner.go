// Package runner is the composition root of a measurement: it starts a
// memory sampler concurrently with invoking the subject, captures the offset
// between the sampler's clock and the subject's launch, and reconciles the
// subject's self-reported timings into windowed memory metrics.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/llmbench/go-llm-memprof/pkg/engine"
	"github.com/llmbench/go-llm-memprof/pkg/memwin"
	"github.com/llmbench/go-llm-memprof/pkg/procwatch"
)

const samplerJoinTimeout = 10 * time.Second

// Config carries the sampling knobs shared by both measurement paths.
type Config struct {
	Label             string
	Interval          time.Duration
	BaselineLookbackS float64
	IncludeChildren   bool
	Log               *slog.Logger
}

func (c *Config) logger() *slog.Logger {
	if c.Log == nil {
		return slog.Default()
	}
	return c.Log
}

// Result is one measured run: the raw trace, the subject's timings, and the
// windowed metrics derived from both.
type Result struct {
	RunID           string
	Label           string
	PID             int32
	ElapsedWallS    float64
	Timings         engine.Timings
	Metrics         memwin.Metrics
	Samples         []procwatch.MemSample
	BaselineSamples []procwatch.MemSample
}

// MeasureProcess launches the subject command, samples its process tree while
// it runs, and computes metrics from the timings parsed out of its output.
// The windows follow the llama.cpp convention: the sampler starts immediately
// before the subject launches, so the launch offset on the sampler's time
// base is effectively zero and the load phase anchors the baseline window.
//
// The sampler is stopped and joined on every path, including subject failure
// and context cancellation, so partial telemetry is never lost silently.
func MeasureProcess(ctx context.Context, cmd *exec.Cmd, parse func(string) engine.Timings, cfg Config) (*Result, error) {
	log := cfg.logger()

	var stdout, stderr bytes.Buffer
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start subject: %w", err)
	}
	pid := int32(cmd.Process.Pid)

	sampler, err := procwatch.NewSampler(
		procwatch.ResolveByPID(pid),
		cfg.Interval,
		procwatch.WithDescendants(),
		procwatch.WithLogger(log),
	)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}
	if err := sampler.Start(); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("start sampler: %w", err)
	}

	launch := time.Now()

	var g errgroup.Group
	g.Go(func() error {
		_, err := stdout.ReadFrom(stdoutPipe)
		return err
	})
	g.Go(func() error {
		_, err := stderr.ReadFrom(stderrPipe)
		return err
	})

	waitErr := make(chan error, 1)
	go func() {
		drainErr := g.Wait()
		if err := cmd.Wait(); err != nil {
			waitErr <- err
			return
		}
		waitErr <- drainErr
	}()

	var runErr error
	select {
	case runErr = <-waitErr:
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		runErr = fmt.Errorf("subject timed out: %w", ctx.Err())
	}
	elapsedWall := sampler.Elapsed(time.Now())

	sampler.Stop()
	if jerr := sampler.Join(samplerJoinTimeout); jerr != nil {
		// The trace is unreadable without a completed join; abandon it.
		if runErr == nil {
			runErr = jerr
		}
		return nil, runErr
	}

	if runErr != nil {
		return nil, fmt.Errorf("%w\nstderr:\n%s", runErr, stderr.String())
	}
	if errors.Is(sampler.Err(), procwatch.ErrPermissionDenied) {
		log.Warn("sampling ended early on denied memory read, trace is partial", "pid", pid)
	}

	samples, err := sampler.Samples()
	if err != nil {
		return nil, err
	}

	timings := parse(stderr.String() + "\n" + stdout.String())
	launchOffset := sampler.Elapsed(launch)
	windows := memwin.ComputeWindows(launchOffset, memwin.Milestones{
		LoadDurationS:       timings.LoadDurationS,
		PromptEvalDurationS: timings.PromptEvalDurationS,
		TotalDurationS:      timings.TotalDurationS,
	}, cfg.BaselineLookbackS, elapsedWall)

	log.Debug("computed measurement windows", "windows", windows.String())

	return &Result{
		RunID:        uuid.NewString(),
		Label:        cfg.Label,
		PID:          pid,
		ElapsedWallS: elapsedWall,
		Timings:      timings,
		Metrics:      memwin.Compute(samples, windows),
		Samples:      samples,
	}, nil
}

// MeasureServerRequest measures one generation request against an already
// running server process. An optional warmup request runs first, unmeasured,
// so the model is resident before anything is recorded; then a first sampler
// records an idle baseline and a second one runs for the duration of the
// measured request. The prefill window is anchored at the request's launch
// offset on the request sampler's clock, since the model load happened before
// the measurement began.
func MeasureServerRequest(ctx context.Context, client *engine.OllamaClient, serverPID int32, req engine.GenerateRequest, warmup *engine.GenerateRequest, baselineWindowS float64, requestTimeout time.Duration, cfg Config) (*Result, error) {
	log := cfg.logger()

	if warmup != nil {
		wctx, cancel := context.WithTimeout(ctx, requestTimeout)
		log.Info("warmup request", "model", warmup.Model)
		_, werr := client.Generate(wctx, *warmup)
		cancel()
		if werr != nil {
			return nil, fmt.Errorf("warmup request: %w", werr)
		}
	}

	baselineSamples, err := sampleIdleBaseline(serverPID, baselineWindowS, cfg)
	if err != nil {
		return nil, fmt.Errorf("baseline sampling: %w", err)
	}

	sampler, err := procwatch.NewSampler(
		procwatch.ResolveByPID(serverPID),
		cfg.Interval,
		procwatch.WithDescendants(),
		procwatch.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	if err := sampler.Start(); err != nil {
		return nil, fmt.Errorf("start sampler: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	reqStartInstant := time.Now()
	genRes, genErr := client.Generate(reqCtx, req)
	reqEnd := sampler.Elapsed(time.Now())

	sampler.Stop()
	if jerr := sampler.Join(samplerJoinTimeout); jerr != nil {
		if genErr == nil {
			genErr = jerr
		}
		return nil, genErr
	}
	if genErr != nil {
		return nil, genErr
	}

	samples, err := sampler.Samples()
	if err != nil {
		return nil, err
	}

	reqStart := sampler.Elapsed(reqStartInstant)
	windows := memwin.Windows{
		Total: memwin.NewWindow(reqStart, reqEnd),
	}
	if genRes.Timings.PromptEvalDurationS != nil {
		prefillEnd := memwin.AlignMilestone(reqStart, *genRes.Timings.PromptEvalDurationS)
		windows.Prefill = memwin.NewWindow(reqStart, prefillEnd)
	}

	metrics := memwin.Compute(samples, windows)
	metrics.BaselineIdleRSSMB = memwin.MedianRSSMB(baselineSamples)

	return &Result{
		RunID:           uuid.NewString(),
		Label:           cfg.Label,
		PID:             serverPID,
		ElapsedWallS:    genRes.ElapsedWallS,
		Timings:         genRes.Timings,
		Metrics:         metrics,
		Samples:         samples,
		BaselineSamples: baselineSamples,
	}, nil
}

// sampleIdleBaseline records the server's memory for a fixed idle window
// before the measured request is sent.
func sampleIdleBaseline(pid int32, windowS float64, cfg Config) ([]procwatch.MemSample, error) {
	if windowS <= 0 {
		return nil, nil
	}
	sampler, err := procwatch.NewSampler(
		procwatch.ResolveByPID(pid),
		cfg.Interval,
		procwatch.WithDescendants(),
		procwatch.WithLogger(cfg.logger()),
	)
	if err != nil {
		return nil, err
	}
	if err := sampler.Start(); err != nil {
		return nil, err
	}
	time.Sleep(time.Duration(windowS * float64(time.Second)))
	sampler.Stop()
	if err := sampler.Join(samplerJoinTimeout); err != nil {
		return nil, err
	}
	return sampler.Samples()
}
