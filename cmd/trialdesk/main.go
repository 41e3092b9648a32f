// Command trialdesk is a client for the seed trials API. It keeps a
// login session on disk and exposes the API as CLI commands and as an
// MCP server over stdio.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexjbarnes/trialdesk/internal/gateway"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command line and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{}
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		if gateway.IsSessionError(err) {
			fmt.Fprintln(stderr, "session expired, run `trialdesk login`")
		} else {
			fmt.Fprintf(stderr, "error: %v\n", err)
		}

		return 1
	}

	return 0
}
