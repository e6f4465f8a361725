package cachedpath

import (
	"path/filepath"
	"strings"
)

// safeJoin resolves member (an archive entry's path, as recorded in its
// header) against destDir. A member that normalizes to an absolute path
// or one that climbs above destDir via ".." components is rejected
// outright with ErrExtraction: extraction aborts on a path-traversal
// attempt rather than silently sanitizing it into place. This is the
// single validator required here (jmgilman-go/oci's Validator chain also
// checks file size and count limits, out of scope for this cache).
func safeJoin(destDir, member string) (string, error) {
	slashMember := filepath.ToSlash(member)
	cleaned := filepath.Clean(slashMember)

	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", newErr("extract", member, ErrExtraction, nil)
	}

	return filepath.Join(destDir, filepath.FromSlash(cleaned)), nil
}
