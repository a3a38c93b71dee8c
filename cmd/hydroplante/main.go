// Command hydroplante runs the offline cache-and-replay worker.
package main

import (
	"os"

	"github.com/roach88/hydroplante/internal/cli"
)

func main() {
	// Subcommands report their own failures; cobra prints usage errors.
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
