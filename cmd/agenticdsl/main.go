// Command agenticdsl runs one AgenticDSL workflow file to completion (or to
// its first pause) and writes its trace, per spec.md §6. The flag handling
// and signal-cancellation wiring follow the teacher CLI's style, scaled
// down: one positional argument, no subcommands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chisuhua/AgenticDSL/internal/dsl/engine"
)

func main() {
	if len(os.Args) != 2 || os.Args[1] == "--help" || os.Args[1] == "-h" {
		usage()
		os.Exit(1)
	}
	os.Exit(run(os.Args[1]))
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  agenticdsl <workflow.agent.md>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Runs the workflow to completion or its first llm_call pause, then writes")
	fmt.Fprintln(os.Stderr, "execution_trace.json to the current directory.")
}

func run(path string) int {
	ctx, cancel := signalCancelContext()
	defer cancel()

	eng, err := engine.FromFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agenticdsl: %v\n", err)
		return 1
	}

	result := eng.Run(ctx, map[string]any{})
	if err := writeTrace("execution_trace.json", result); err != nil {
		fmt.Fprintf(os.Stderr, "agenticdsl: writing trace: %v\n", err)
		return 1
	}

	if result.PausedAt != nil {
		fmt.Printf("paused at %s\n", *result.PausedAt)
		return 0
	}
	if !result.Success {
		fmt.Fprintf(os.Stderr, "agenticdsl: %s\n", result.Message)
		return 1
	}
	fmt.Println(result.Message)
	return 0
}

func writeTrace(path string, result engine.RunResult) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"success":       result.Success,
		"message":       result.Message,
		"final_context": result.FinalContext,
		"paused_at":     result.PausedAt,
		"traces":        result.Traces,
	})
}

func signalCancelContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		if _, ok := <-sigCh; ok {
			cancel()
		}
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		close(sigCh)
		cancel()
	}
}
