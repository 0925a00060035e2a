package main

import (
	"os"

	"github.com/spigell/hirebot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
