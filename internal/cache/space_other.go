//go:build !(linux || darwin || freebsd)

package cache

import (
	"errors"
	"runtime"
)

// FreeSpace is not supported on this platform.
func FreeSpace(string) (uint64, error) {
	return 0, errors.New("free space unknown on " + runtime.GOOS)
}
