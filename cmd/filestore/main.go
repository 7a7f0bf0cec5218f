// Command filestore manages a capacity-bounded local blob store.
package main

import (
	"fmt"
	"os"

	"github.com/meigma/filestore/internal/cli"
)

func main() {
	if err := cli.App().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
