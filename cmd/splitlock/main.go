package main

import (
	"os"

	"github.com/splitlock/splitlock/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
