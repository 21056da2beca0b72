// Command iohub inspects and converts microscopy datasets.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aliddell/go-iohub/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Run(ctx, os.Stdout, os.Stderr, os.Args)
	stop()
	os.Exit(code)
}
