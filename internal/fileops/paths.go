package fileops

import (
	"path"
	"strings"
)

// SanitizePath maps a client-supplied logical folder path to the canonical
// form stored in catalog records. All ".." substrings are stripped before
// cleaning, so the result can never climb above the storage root. The empty
// string denotes the root.
//
// Applied identically on every entry point that accepts a path.
func SanitizePath(requested string) string {
	p := strings.ReplaceAll(requested, "\\", "/")
	p = strings.ReplaceAll(p, "..", "")
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

// ValidateName checks a display name for a file or folder: non-empty and a
// single path segment.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrValidation
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return ErrValidation
	}
	return nil
}
