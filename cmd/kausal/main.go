package main

import (
	"os"

	"github.com/kausalhq/kausal/cmd/kausal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
