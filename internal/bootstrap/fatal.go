// Package bootstrap holds the handful of raw stderr/exit helpers main
// needs before the journal is up and running, or after it has already
// been torn down.
package bootstrap

import (
	"fmt"
	"os"
)

// Fatal writes "error: err" to stderr and exits with code 1. Only
// startup failures that happen before the journal is listening use
// this (event-queue/socket-bind failure per spec.md §7); everything
// else is reported through a journal.Warning and the operation is
// abandoned instead of aborting the process.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
