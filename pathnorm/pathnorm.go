// Package pathnorm canonicalizes and compares filesystem paths the way the
// host's library formats expect: stripped of OS-specific prefixes, without
// ever coercing the Unicode form of bytes that are about to be written back
// to disk.
package pathnorm

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	windowsDrivePrefix = regexp.MustCompile(`^[A-Za-z]:/`)
	macVolumePrefix    = regexp.MustCompile(`^/Volumes/[^/]+/`)
)

// Canonical replaces backslashes with forward slashes and strips a leading
// Windows drive prefix or macOS volume prefix. It never changes Unicode
// normalization form.
func Canonical(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	if loc := windowsDrivePrefix.FindStringIndex(p); loc != nil && loc[0] == 0 {
		p = p[loc[1]:]
	} else if loc := macVolumePrefix.FindStringIndex(p); loc != nil && loc[0] == 0 {
		p = p[loc[1]:]
	}
	return p
}

// Filename returns the leaf segment of p without any normalization.
func Filename(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// NFC returns s in Unicode Normalization Form C.
func NFC(s string) string {
	return norm.NFC.String(s)
}

// NFD returns s in Unicode Normalization Form D.
func NFD(s string) string {
	return norm.NFD.String(s)
}

// NFCLowerFilename extracts the leaf segment of p, applies NFC
// normalization, and lowercases it. Used as the dedup key for filenames.
func NFCLowerFilename(p string) string {
	return strings.ToLower(NFC(Filename(p)))
}

// Equivalent reports whether a and b refer to the same path once both are
// canonicalized, without coercing Unicode form.
func Equivalent(a, b string) bool {
	return Canonical(a) == Canonical(b)
}
