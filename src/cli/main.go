package main

import (
	"os"

	"github.com/henn-dt/stevedore/src/cli/cmd"
	"github.com/henn-dt/stevedore/src/publish"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(publish.ExitCode(err))
	}
}
