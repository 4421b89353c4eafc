// Command layercache inspects and maintains a layercache cache root.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/layercache/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "layercache:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
