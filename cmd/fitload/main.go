package main

import (
	"os"

	"github.com/fitness-team/fitload/internal/cli"
)

// Main is the entry point, exported for tests.
func Main() int {
	return cli.ExitCode(cli.Execute())
}

func main() {
	os.Exit(Main())
}
