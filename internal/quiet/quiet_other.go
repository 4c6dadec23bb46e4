//go:build !linux

package quiet

// Do runs fn unchanged; descriptor redirection is only implemented on Linux.
func Do(fn func() error) error {
	return fn()
}
