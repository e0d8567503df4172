package main

import (
	"os"

	"github.com/ambiyansyah-risyal/clientrt/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
