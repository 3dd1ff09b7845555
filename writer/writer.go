// Package writer applies the smart-write policy to prospective crates: a
// crate is only rewritten on disk when its contents actually changed, so the
// host never sees spurious modified-time churn.
package writer

import (
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/pkg/errors"

	"seratosync-go/crate"
	"seratosync-go/cratetree"
)

// Stats tallies the outcome of a smart-write pass.
type Stats struct {
	Updated int
	Skipped int
}

// Writer writes crates under a Subcrates directory, skipping unchanged ones.
type Writer struct {
	SubcratesDir string
}

// New returns a Writer rooted at subcratesDir.
func New(subcratesDir string) *Writer {
	return &Writer{SubcratesDir: subcratesDir}
}

// Write applies the smart-write policy to a single built crate and returns
// whether it wrote a new file.
func (w *Writer) Write(b cratetree.Built) (wrote bool, err error) {
	path := filepath.Join(w.SubcratesDir, b.Name.FileName())

	if existing, err := readExisting(path); err == nil && existing != nil {
		if existing.Equal(b.Crate) {
			return false, nil
		}
	}

	if err := writeCrateFile(path, b.Crate); err != nil {
		return false, errors.Wrapf(err, "write crate %s", path)
	}
	return true, nil
}

// WriteAll runs Write over every built crate and accumulates Stats.
func (w *Writer) WriteAll(built []cratetree.Built) (Stats, error) {
	var stats Stats
	for _, b := range built {
		wrote, err := w.Write(b)
		if err != nil {
			return stats, err
		}
		if wrote {
			stats.Updated++
		} else {
			stats.Skipped++
		}
	}
	return stats, nil
}

// readExisting parses the crate already on disk at path, treating a missing
// file or an unparsable one identically: as absent.
func readExisting(path string) (*crate.Crate, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	c, err := crate.Parse(f)
	if err != nil {
		return nil, nil
	}
	return c, nil
}

func writeCrateFile(path string, c *crate.Crate) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	t, err := renameio.TempFile("", path)
	if err != nil {
		return err
	}
	defer t.Cleanup()

	if err := c.Write(t); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}
