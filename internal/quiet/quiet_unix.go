//go:build linux

package quiet

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

var mu sync.Mutex

// Do runs fn with file descriptors 1 and 2 pointed at /dev/null. The
// original descriptors are restored before Do returns, also when fn panics.
func Do(fn func() error) (err error) {
	mu.Lock()
	defer mu.Unlock()

	null, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", os.DevNull, err)
	}
	defer null.Close()

	saved := make([]int, 0, 2)
	defer func() {
		for i, fd := range saved {
			_ = unix.Dup3(fd, i+1, 0)
			_ = unix.Close(fd)
		}
	}()

	for _, fd := range []int{1, 2} {
		dup, err := unix.Dup(fd)
		if err != nil {
			return fmt.Errorf("failed to save fd %d: %w", fd, err)
		}
		saved = append(saved, dup)
		if err := unix.Dup3(int(null.Fd()), fd, 0); err != nil {
			return fmt.Errorf("failed to redirect fd %d: %w", fd, err)
		}
	}

	return fn()
}
