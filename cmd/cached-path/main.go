package main

import (
	"fmt"
	"os"

	"github.com/epwalsh/cached-path-go/internal/command"
)

func main() {
	cmd := command.NewRootCommand()

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}
