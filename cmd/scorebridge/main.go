package main

import (
	"os"

	"github.com/scorebridge-network/scorebridge/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
