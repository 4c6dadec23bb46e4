// Package quiet silences noisy collaborators. Do discards everything the
// process writes to stdout/stderr (including writes from C libraries) for the
// duration of a call; Writers picks the sinks for child processes.
package quiet

import (
	"io"
	"os"
)

// Writers returns the stdout and stderr sinks for an external process. Unless
// verbose, stdout is discarded and stderr is only captured by the caller.
func Writers(verbose bool) (stdout, stderr io.Writer) {
	if verbose {
		return os.Stdout, os.Stderr
	}
	return io.Discard, io.Discard
}
