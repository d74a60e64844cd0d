// Command draftsync is the command line client for draftsync.
package main

import (
	"fmt"
	"os"

	"github.com/jdziat/simple-draft-sync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
