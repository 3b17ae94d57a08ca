// Package main provides the muse binary: the registry and exploration engine
// behind the generative pipeline. Subcommands run the worker loop, serve the
// read API, and inspect the registry.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
