// Command dropcart runs guarded checkout automation.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/dropcart/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
