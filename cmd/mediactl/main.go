// Command mediactl administers a mediaflow deployment: account plans, job
// inspection, one-shot retention sweeps, schema migration and tokens.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
