package main

import (
	"os"

	"github.com/squadracorsepolito/seda/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
