// llmbench runs one measured inference request per invocation while sampling
// the engine's process memory, and writes a JSON report plus CSV traces:
//
//	llmbench -config bench.yaml -engine ollama
//	llmbench -config bench.yaml -engine llamacpp -repeats 3
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/llmbench/go-llm-memprof/internal/app"
	"github.com/llmbench/go-llm-memprof/internal/runner"
)

func main() {
	var (
		configPath = flag.String("config", "bench.yaml", "path to benchmark config file")
		engineName = flag.String("engine", "ollama", "inference engine: ollama|llamacpp")
		repeats    = flag.Int("repeats", 1, "number of measured runs")
	)
	flag.Parse()

	if *repeats <= 0 {
		*repeats = 1
	}

	application, err := app.New(*configPath)
	if err != nil {
		fatalf("init: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for i := 0; i < *repeats; i++ {
		res, err := measure(ctx, application, *engineName)
		if err != nil {
			fatalf("run %d/%d: %v", i+1, *repeats, err)
		}
		if err := application.WriteResult(*engineName, res, *repeats); err != nil {
			fatalf("write result: %v", err)
		}
	}
}

func measure(ctx context.Context, application *app.Application, engineName string) (*runner.Result, error) {
	switch engineName {
	case "ollama":
		return application.RunOllama(ctx)
	case "llamacpp":
		return application.RunLlamaCpp(ctx)
	default:
		return nil, fmt.Errorf("unknown engine %q (want ollama or llamacpp)", engineName)
	}
}

func fatalf(format string, a ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
