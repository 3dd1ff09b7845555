// Package cratetree maps a scanned MediaNode tree onto Crate objects named
// by the hierarchical, %%-delimited crate naming convention.
package cratetree

import (
	"strings"

	"github.com/pkg/errors"

	"seratosync-go/crate"
	"seratosync-go/scanner"
)

// DedupChecker answers whether a candidate track is already known to the
// library (by the index or an existing crate scan). Satisfied by
// trackindex.Index; declared here so cratetree doesn't need to import it.
type DedupChecker interface {
	Contains(path, size string) bool
}

// CrateName is a hierarchical crate name: a list of segments. The root
// crate's name is the configured parent name (empty when none is
// configured); each deeper crate appends one directory name.
type CrateName []string

// String joins the segments with the crate naming delimiter.
func (n CrateName) String() string {
	return strings.Join([]string(n), "%%")
}

// FileName returns the on-disk crate file name for this name.
func (n CrateName) FileName() string {
	return crate.FileName([]string(n))
}

// Built pairs a CrateName with the Crate built for it.
type Built struct {
	Name  CrateName
	Crate *crate.Crate
}

// Stats reports dedup-checker hits observed while building the tree.
type Stats struct {
	SkippedExisting int
}

// ValidateParentName rejects a configured parent crate name containing the
// "%%" delimiter in any segment.
func ValidateParentName(parentName []string) error {
	for _, seg := range parentName {
		if strings.Contains(seg, "%%") {
			return errors.Errorf("parent crate segment %q must not contain %%%%", seg)
		}
	}
	return nil
}

// BuildTree walks root and returns one Built per MediaNode, in depth-first
// order starting with the root crate itself.
func BuildTree(root *scanner.MediaNode, parentName []string, dedup DedupChecker) ([]Built, Stats) {
	var stats Stats
	var out []Built

	rootName := append([]string{}, parentName...)
	out = append(out, Built{Name: rootName, Crate: buildCrate(root, dedup, &stats)})

	for _, child := range root.Children {
		walk(child, rootName, dedup, &stats, &out)
	}

	return out, stats
}

func walk(node *scanner.MediaNode, parentName []string, dedup DedupChecker, stats *Stats, out *[]Built) {
	name := append(append([]string{}, parentName...), node.Name)
	*out = append(*out, Built{Name: name, Crate: buildCrate(node, dedup, stats)})

	for _, child := range node.Children {
		walk(child, name, dedup, stats, out)
	}
}

func buildCrate(node *scanner.MediaNode, dedup DedupChecker, stats *Stats) *crate.Crate {
	c := crate.New()
	for _, t := range node.Tracks {
		if dedup != nil && dedup.Contains(t, "") {
			stats.SkippedExisting++
		}
		c.AddTrack(t)
	}
	return c
}
