package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, errRunFailed) {
			os.Exit(exitItemFailures)
		}

		exitOnError(err)
	}
}

// Exit codes. A run that finished with item-scoped failures exits 2 so
// schedulers can tell it apart from a run that could not start.
const (
	exitFatal        = 1
	exitItemFailures = 2
)

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(exitFatal)
}
