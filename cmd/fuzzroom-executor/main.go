//go:build linux

package main

import (
	"fmt"
	"os"

	"github.com/buildkite/fuzzroom/internal/cli"
)

var version = "dev"

func main() {
	if err := cli.RunExecutor(os.Args[1:], version); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitCode(err))
	}
}
