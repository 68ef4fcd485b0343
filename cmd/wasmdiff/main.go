// Command wasmdiff runs differential-testing campaigns against WebAssembly
// engines.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/wasmdiff/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
