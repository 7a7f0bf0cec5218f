//go:build unix

package platform

import (
	"errors"

	"golang.org/x/sys/unix"
)

// FileInUse reports whether err indicates that a file could not be removed
// because it is held open elsewhere. Unix unlinks open files freely, so only
// busy mount points and running executables qualify.
func FileInUse(err error) bool {
	return errors.Is(err, unix.EBUSY) || errors.Is(err, unix.ETXTBSY)
}

// NameTooLong reports whether err was caused by a file name or path that
// exceeds the filesystem's limits.
func NameTooLong(err error) bool {
	return errors.Is(err, unix.ENAMETOOLONG)
}
