package tmpfs

import "github.com/marmos91/vfskit/pkg/vfs"

// tmpfs has no failure modes beyond the ones vfs.ErrorKind already
// names, so unlike pkg/fatfs (which needs NameTooLong and friends) it
// constructs vfs.Error directly rather than defining its own kind enum.

func newError(kind vfs.ErrorKind, format string, args ...any) error {
	return vfs.NewError(kind, format, args...)
}

func newPathError(kind vfs.ErrorKind, path, format string, args ...any) error {
	return vfs.NewPathError(kind, path, format, args...)
}
