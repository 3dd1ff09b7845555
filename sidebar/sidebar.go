// Package sidebar writes the host's subcrate sidebar ordering manifest.
package sidebar

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"seratosync-go/tlv"
)

// Emit enumerates subcratesDir's *.crate files, sorts their names
// lexicographically, and writes the ordering manifest to outputPath as
// UTF-16BE text.
func Emit(subcratesDir, outputPath string) (int, error) {
	entries, err := os.ReadDir(subcratesDir)
	if err != nil {
		if os.IsNotExist(err) {
			entries = nil
		} else {
			return 0, errors.Wrap(err, "list subcrates")
		}
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".crate") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".crate"))
	}
	sort.Strings(names)

	var text strings.Builder
	text.WriteString("[begin record]\n")
	for _, name := range names {
		text.WriteString("[crate]" + name + "\n")
	}
	text.WriteString("[end record]\n")

	encoded, err := tlv.EncodeU16BE(text.String())
	if err != nil {
		return 0, errors.Wrap(err, "encode sidebar manifest")
	}

	if _, err := os.Stat(outputPath); err == nil {
		if err := os.Remove(outputPath); err != nil {
			return 0, errors.Wrap(err, "remove stale sidebar manifest")
		}
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return 0, errors.Wrap(err, "create library directory")
	}
	if err := os.WriteFile(outputPath, encoded, 0o644); err != nil {
		return 0, errors.Wrap(err, "write sidebar manifest")
	}

	return len(names), nil
}
