// Command patchfieldd hosts a patchfield: the render engine, the module
// registry, and the read-only admin and metrics endpoints.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
