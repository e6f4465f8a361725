package cachedpath

import (
	"io"

	"github.com/klauspost/compress/gzip"
)

// extractTarGz decompresses r as gzip and extracts the resulting tar
// stream into destDir. Grounded on jmgilman-go/oci's archive_targz.go,
// which layers the same gzip.Reader -> tar.Reader pipeline; this uses
// klauspost/compress's drop-in, faster gzip decoder in place of the
// standard library's.
func extractTarGz(r io.Reader, destDir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return newErr("extract", destDir, ErrExtraction, err)
	}
	defer gz.Close()

	return extractTar(gz, destDir)
}
