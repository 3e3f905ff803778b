package main

import (
	"os"

	"github.com/conneroisu/switchyard/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
