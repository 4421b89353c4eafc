//go:build !windows

package fsutil

import (
	"errors"
	"syscall"
)

// IsFileInUse reports whether err means the file is busy. POSIX systems
// rarely refuse concurrent access; EBUSY and ETXTBSY are the cases that do
// clear up on their own.
func IsFileInUse(err error) bool {
	return errors.Is(err, syscall.EBUSY) || errors.Is(err, syscall.ETXTBSY)
}
