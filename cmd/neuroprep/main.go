// Command neuroprep is the entrypoint for the neuroprep preprocessing CLI.
// It builds the command tree, runs it under a signal-aware context, and maps
// errors to a non-zero exit.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/backmassage/neuroprep/internal/cli"
)

// version and commit are set at build time via -ldflags.
var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	cli.Version = fmt.Sprintf("%s (%s)", version, commit)

	// On interrupt the stages stop before the next subject and the summary
	// still prints.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "neuroprep: %v\n", err)
		os.Exit(1)
	}
}
