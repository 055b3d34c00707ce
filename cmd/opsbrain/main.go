package main

import (
	"context"
	"os"

	"github.com/PipeOpsHQ/opsbrain/internal/cli"
)

func main() {
	os.Exit(cli.Run(context.Background(), os.Args[1:]))
}
