package main

import (
	"os"

	"github.com/execution-hub/dsp-connector/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
