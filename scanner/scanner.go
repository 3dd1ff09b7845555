// Package scanner walks a music directory tree in parallel, producing a
// MediaNode tree of audio/video files grouped by containing directory.
package scanner

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"seratosync-go/synclog"
)

// MediaExts is the set of recognized audio/video extensions, matched
// case-insensitively.
var MediaExts = map[string]struct{}{
	".mp3": {}, ".flac": {}, ".wav": {}, ".ogg": {}, ".aif": {}, ".aiff": {},
	".aac": {}, ".alac": {}, ".m4a": {}, ".mov": {}, ".mp4": {}, ".avi": {},
	".flv": {}, ".mpg": {}, ".mpeg": {}, ".dv": {}, ".qtz": {},
}

// IsMediaFile reports whether path's extension (case-insensitive) is a
// recognized media extension.
func IsMediaFile(path string) bool {
	_, ok := MediaExts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// MediaNode is one directory in the scanned tree. It is immutable once
// Scan returns.
type MediaNode struct {
	// Name is the directory's leaf segment ("" for the scan root).
	Name string
	// Tracks holds absolute, resolved paths, sorted by codepoint.
	Tracks []string
	// Children holds child directories, sorted by Name.
	Children []*MediaNode
}

// Scanner walks a music tree with a bounded worker pool.
type Scanner struct {
	// Concurrency bounds how many directory reads may be in flight at
	// once. Zero selects min(4, runtime.NumCPU()).
	Concurrency int
	Logger      synclog.Logger
}

// New returns a Scanner with the recommended default concurrency.
func New(logger synclog.Logger) *Scanner {
	if logger == nil {
		logger = synclog.Null()
	}
	return &Scanner{Logger: logger}
}

func (s *Scanner) concurrency() int {
	if s.Concurrency > 0 {
		return s.Concurrency
	}
	n := runtime.NumCPU()
	if n > 4 {
		return 4
	}
	if n < 1 {
		return 1
	}
	return n
}

// Scan recursively walks root and returns its MediaNode tree.
func (s *Scanner) Scan(root string) (*MediaNode, error) {
	sem := make(chan struct{}, s.concurrency())
	return s.scanDir(root, "", sem)
}

func (s *Scanner) scanDir(path, name string, sem chan struct{}) (*MediaNode, error) {
	sem <- struct{}{}
	entries, err := os.ReadDir(path)
	<-sem
	if err != nil {
		return nil, err
	}

	node := &MediaNode{Name: name}

	var subdirs []os.DirEntry
	for _, e := range entries {
		if e.IsDir() {
			subdirs = append(subdirs, e)
			continue
		}
		if !IsMediaFile(e.Name()) {
			continue
		}
		full := filepath.Join(path, e.Name())
		resolved, err := filepath.EvalSymlinks(full)
		if err != nil {
			resolved, err = filepath.Abs(full)
			if err != nil {
				resolved = full
			}
		}
		node.Tracks = append(node.Tracks, resolved)
	}
	sort.Strings(node.Tracks)

	if len(subdirs) == 0 {
		return node, nil
	}

	if len(subdirs) == 1 {
		e := subdirs[0]
		child, err := s.scanDir(filepath.Join(path, e.Name()), e.Name(), sem)
		if err != nil {
			s.Logger.Error(err)
			return node, nil
		}
		node.Children = append(node.Children, child)
		return node, nil
	}

	var (
		mu       sync.Mutex
		children []*MediaNode
		eg       errgroup.Group
	)
	for _, e := range subdirs {
		e := e
		eg.Go(func() error {
			child, err := s.scanDir(filepath.Join(path, e.Name()), e.Name(), sem)
			if err != nil {
				s.Logger.Error(err)
				return nil
			}
			mu.Lock()
			children = append(children, child)
			mu.Unlock()
			return nil
		})
	}
	// errgroup.Group.Go never returns a non-nil error here (worker errors
	// are logged and swallowed), so Wait cannot fail.
	_ = eg.Wait()

	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	node.Children = children

	return node, nil
}

// Flatten returns a map from keyFn(track) to every resolved track path in
// the tree sharing that key. The crate-path fixer passes
// pathnorm.NFCLowerFilename to rebind broken references by filename.
func Flatten(root *MediaNode, keyFn func(string) string) map[string][]string {
	out := make(map[string][]string)
	var walk func(n *MediaNode)
	walk = func(n *MediaNode) {
		for _, t := range n.Tracks {
			k := keyFn(t)
			out[k] = append(out[k], t)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return out
}
