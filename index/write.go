package index

import (
	"github.com/google/renameio"
	"github.com/pkg/errors"
)

// WriteFileAtomic replaces the file at path with buf's contents atomically,
// so that a crash or I/O failure mid-write never leaves a half-written
// index on disk.
func WriteFileAtomic(path string, buf []byte) error {
	t, err := renameio.TempFile("", path)
	if err != nil {
		return errors.Wrap(err, "create temp file for atomic index write")
	}
	defer t.Cleanup()

	if _, err := t.Write(buf); err != nil {
		return errors.Wrap(err, "write index buffer")
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return errors.Wrap(err, "atomically replace index file")
	}
	return nil
}
