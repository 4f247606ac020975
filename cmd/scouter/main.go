package main

import (
	"os"

	"github.com/cwygoda/scouter/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
