//go:build unix

package platform

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestFileInUse(t *testing.T) {
	t.Parallel()

	busy := &fs.PathError{Op: "remove", Path: "/x", Err: unix.EBUSY}
	assert.True(t, FileInUse(busy))
	assert.True(t, FileInUse(fmt.Errorf("wrap: %w", unix.ETXTBSY)))
	assert.False(t, FileInUse(&fs.PathError{Op: "remove", Path: "/x", Err: unix.EACCES}))
	assert.False(t, FileInUse(errors.New("other")))
}

func TestNameTooLong(t *testing.T) {
	t.Parallel()

	assert.True(t, NameTooLong(&fs.PathError{Op: "open", Path: "/x", Err: unix.ENAMETOOLONG}))
	assert.False(t, NameTooLong(&fs.PathError{Op: "open", Path: "/x", Err: unix.ENOENT}))
	assert.False(t, NameTooLong(errors.New("other")))
}
