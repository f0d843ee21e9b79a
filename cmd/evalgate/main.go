// evalgate evaluates classifier outputs against a golden set and decides
// whether a release may ship.
//
// Usage:
//
//	evalgate run --golden=<path> --scores=<path> --hits=<path> [--rules=<path>] [--policy=<path>] ...
//	evalgate validate --golden=<path> --scores=<path> --hits=<path> [...]
//	evalgate policy [--policy=<path>]
//	evalgate history [--db=<path>]
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
