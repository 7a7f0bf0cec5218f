//go:build windows

package platform

import (
	"errors"

	"golang.org/x/sys/windows"
)

// FileInUse reports whether err indicates that a file could not be removed
// because another handle has it open.
func FileInUse(err error) bool {
	return errors.Is(err, windows.ERROR_SHARING_VIOLATION) ||
		errors.Is(err, windows.ERROR_LOCK_VIOLATION) ||
		errors.Is(err, windows.ERROR_ACCESS_DENIED)
}

// NameTooLong reports whether err was caused by a file name or path that
// exceeds the filesystem's limits.
func NameTooLong(err error) bool {
	return errors.Is(err, windows.ERROR_FILENAME_EXCED_RANGE)
}
