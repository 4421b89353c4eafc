//go:build windows

package fsutil

import (
	"errors"
	"syscall"
)

const (
	errorSharingViolation syscall.Errno = 32
	errorLockViolation    syscall.Errno = 33
)

// IsFileInUse reports whether err is a sharing or lock violation, raised
// when another handle holds the file open without the needed share mode.
func IsFileInUse(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	return errno == errorSharingViolation || errno == errorLockViolation
}
