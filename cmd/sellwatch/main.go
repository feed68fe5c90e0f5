package main

import (
	"os"

	"github.com/rustyeddy/sellwatch/cmd/sellwatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
