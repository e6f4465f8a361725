//go:build cachedpath_xz

package cachedpath

import (
	"io"

	"github.com/ulikunitz/xz"
)

// extractTarXz decompresses r as xz and extracts the resulting tar stream
// into destDir. Built only when the cachedpath_xz tag is set, since
// ulikunitz/xz is a pure-Go decoder treated as an optional extra (see
// archive_noxz.go for the default stub).
func extractTarXz(r io.Reader, destDir string) error {
	xzr, err := xz.NewReader(r)
	if err != nil {
		return newErr("extract", destDir, ErrExtraction, err)
	}

	return extractTar(xzr, destDir)
}
