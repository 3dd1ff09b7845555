// Package backup snapshots the host library directory before a sync run.
package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// Run copies libraryPath's entire tree into
// <backupRoot>/<nowMillis>_<library-leaf>/, preserving file and directory
// modification times and never following symlinks. It returns the total
// number of bytes copied.
func Run(libraryPath, backupRoot string, nowMillis int64) (int64, error) {
	leaf := filepath.Base(filepath.Clean(libraryPath))
	dest := filepath.Join(backupRoot, fmt.Sprintf("%d_%s", nowMillis, leaf))

	type dirStamp struct {
		path    string
		modTime time.Time
	}
	var (
		total int64
		dirs  []dirStamp
	)
	err := filepath.Walk(libraryPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(libraryPath, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		if info.IsDir() {
			if err := os.MkdirAll(target, info.Mode().Perm()); err != nil {
				return err
			}
			dirs = append(dirs, dirStamp{target, info.ModTime()})
			return nil
		}

		n, err := copyFile(path, target, info)
		if err != nil {
			return err
		}
		total += n
		return os.Chtimes(target, info.ModTime(), info.ModTime())
	})
	if err != nil {
		return total, errors.Wrap(err, "backup library")
	}

	// Every file and directory has been written by now, so restamping
	// directory mtimes here (rather than at Walk-visit time, which is
	// pre-order and would be overwritten by later writes into the dir)
	// is safe regardless of order.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i].path) > len(dirs[j].path) })
	for _, d := range dirs {
		if err := os.Chtimes(d.path, d.modTime, d.modTime); err != nil {
			return total, errors.Wrap(err, "restore directory mtime")
		}
	}

	return total, nil
}

func copyFile(src, dest string, info os.FileInfo) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return 0, err
	}
	defer out.Close()

	return io.Copy(out, in)
}
