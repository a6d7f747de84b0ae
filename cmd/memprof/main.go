// memprof samples resident and virtual memory of a target process (and its
// descendants) at a fixed interval and writes the trace as CSV. It is the
// standalone profiler companion to llmbench for ad-hoc runs:
//
//	memprof -name ollama -label ollama-run1 -interval 0.1 -out ollama_memory.csv
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/llmbench/go-llm-memprof/pkg/memreport"
	"github.com/llmbench/go-llm-memprof/pkg/procwatch"
)

func main() {
	var (
		name             = flag.String("name", "", "process name or command substring to match")
		pid              = flag.Int("pid", 0, "numeric process id (overrides -name)")
		label            = flag.String("label", "", "label for this profiling run (required)")
		interval         = flag.Float64("interval", 0.1, "sampling interval in seconds")
		duration         = flag.Float64("duration", 0, "maximum profiling duration in seconds (0 = until process exits)")
		maxSamples       = flag.Int("max-samples", 0, "maximum number of samples (0 = unlimited)")
		children         = flag.Bool("children", true, "aggregate memory of descendant processes")
		cooldown         = flag.Bool("cooldown", false, "stop automatically once memory settles near its baseline")
		cooldownDuration = flag.Float64("cooldown-duration", 10, "seconds memory must stay within tolerance before auto-stop")
		cooldownThresh   = flag.Float64("cooldown-threshold", 0.05, "tolerance band around baseline as a fraction")
		outPath          = flag.String("out", "", "output CSV file path (required)")
	)
	flag.Parse()

	if *label == "" || *outPath == "" {
		fatalf("-label and -out are required")
	}
	if *name == "" && *pid == 0 {
		fatalf("one of -name or -pid is required")
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	var resolver procwatch.Resolver
	if *pid != 0 {
		resolver = procwatch.ResolveByPID(int32(*pid))
	} else {
		resolver = procwatch.ResolveByName(*name)
	}

	opts := []procwatch.SamplerOpt{procwatch.WithLogger(log)}
	if *children {
		opts = append(opts, procwatch.WithDescendants())
	}
	if *duration > 0 {
		opts = append(opts, procwatch.WithMaxDuration(time.Duration(*duration*float64(time.Second))))
	}
	if *maxSamples > 0 {
		opts = append(opts, procwatch.WithMaxSamples(*maxSamples))
	}
	if *cooldown {
		detector := procwatch.NewStabilityDetector(0, *cooldownThresh,
			time.Duration(*cooldownDuration*float64(time.Second)))
		opts = append(opts, procwatch.WithStabilityDetector(detector))
	}

	sampler, err := procwatch.NewSampler(resolver, time.Duration(*interval*float64(time.Second)), opts...)
	if err != nil {
		fatalf("%v", err)
	}

	log.Info("profiling", "target", targetDesc(*name, *pid), "interval_s", *interval)
	if err := sampler.Start(); err != nil {
		if errors.Is(err, procwatch.ErrNotFound) {
			fatalf("could not find target process: %v\nhint: make sure it is running or starts shortly after the profiler", err)
		}
		fatalf("%v", err)
	}

	// Ctrl+C stops the run early; partial samples are still written.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("interrupted, stopping sampler")
		sampler.Stop()
	}()

	for {
		if err := sampler.Join(time.Second); err == nil {
			break
		}
	}

	samples, err := sampler.Samples()
	if err != nil {
		fatalf("%v", err)
	}
	if errors.Is(sampler.Err(), procwatch.ErrPermissionDenied) {
		log.Warn("sampling stopped early: memory read was denied; trace is partial")
	}

	if err := memreport.WriteTraceCSVFile(*outPath, *label, samples); err != nil {
		fatalf("write trace: %v", err)
	}
	log.Info("trace written", "path", *outPath, "samples", len(samples))
}

func targetDesc(name string, pid int) string {
	if pid != 0 {
		return fmt.Sprintf("pid %d", pid)
	}
	return fmt.Sprintf("name %q", name)
}

func fatalf(format string, a ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
