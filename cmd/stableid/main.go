// Command stableid keeps entity identities stable across resolver merges and
// splits.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/stableid/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
