package main

import (
	"fmt"
	"os"

	"fixturecal/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fixturecal:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
