//go:build !unix && !windows

package platform

// FileInUse always reports false on platforms without open-handle contention.
func FileInUse(err error) bool {
	return false
}

// NameTooLong always reports false on platforms without a known errno.
func NameTooLong(err error) bool {
	return false
}
