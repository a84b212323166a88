// Command sandbox-runner is the entrypoint of the sandbox image. It runs the
// demo named by DEMO_ID against the input file and writes the result file.
//
//	sandbox-runner [input-path [output-path]]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/osvaldoandrade/netdemo/internal/demos"
	"github.com/osvaldoandrade/netdemo/internal/sandbox"
)

func main() {
	demoID := os.Getenv(sandbox.DemoIDEnv)
	if demoID == "" {
		fmt.Fprintf(os.Stderr, "%s is not set\n", sandbox.DemoIDEnv)
		os.Exit(2)
	}
	input, output := sandbox.ContainerInputPath, sandbox.ContainerOutputPath
	if len(os.Args) > 1 {
		input = os.Args[1]
	}
	if len(os.Args) > 2 {
		output = os.Args[2]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := sandbox.RunEntrypoint(ctx, demos.NewRegistry(demos.Options{}), demoID, input, output, os.Stderr)
	stop()
	os.Exit(code)
}
