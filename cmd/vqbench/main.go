// Command vqbench is the entrypoint for the video quality benchmark
// orchestrator. It builds the command tree and runs it under a
// signal-cancelled context so an interrupted backend invocation leaves
// no partial output behind.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/backmassage/vqbench/internal/cli"
)

// version and commit are set at build time via -ldflags.
var (
	version = "1.0.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCmd(version, commit)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "vqbench: %v\n", err)
		return 1
	}
	return 0
}
