//go:build !cachedpath_xz

package cachedpath

import "io"

// extractTarXz is stubbed out unless the module is built with the
// cachedpath_xz tag. A .tar.xz download still gets cached as an opaque
// blob; only ExtractArchive on it fails, with a clear reason instead of a
// silent no-op.
func extractTarXz(r io.Reader, destDir string) error {
	return newErr("extract", destDir, ErrExtraction, errXzNotBuilt)
}
