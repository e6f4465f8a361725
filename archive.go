package cachedpath

import (
	"bytes"
	"io"
	"os"
)

// archiveFormat is a closed set of the archive encodings the extractor
// recognizes, detected from a magic-byte sniff rather than a file
// extension, so that a URL with no extension at all still extracts
// correctly.
type archiveFormat int

const (
	formatUnknown archiveFormat = iota
	formatTar
	formatTarGz
	formatZip
	formatTarXz
)

const sniffLen = 1024

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zipMagic  = []byte{'P', 'K', 0x03, 0x04}
	xzMagic   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	// tarMagic is the "ustar" magic at offset 257 in a tar header block.
	tarMagic = []byte("ustar")
)

const tarMagicOffset = 257

// sniffFormat inspects the first kilobyte of path to determine its
// archive format. Returns formatUnknown (not an error) for content that
// isn't a recognized archive; the caller turns that into ErrExtraction.
func sniffFormat(path string) (archiveFormat, error) {
	f, err := os.Open(path)
	if err != nil {
		return formatUnknown, newErr("sniff", path, ErrIO, err)
	}
	defer f.Close()

	buf := make([]byte, sniffLen)

	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return formatUnknown, newErr("sniff", path, ErrIO, err)
	}
	buf = buf[:n]

	switch {
	case bytes.HasPrefix(buf, zipMagic):
		return formatZip, nil
	case bytes.HasPrefix(buf, xzMagic):
		return formatTarXz, nil
	case bytes.HasPrefix(buf, gzipMagic):
		return formatTarGz, nil
	case len(buf) >= tarMagicOffset+len(tarMagic) && bytes.Equal(buf[tarMagicOffset:tarMagicOffset+len(tarMagic)], tarMagic):
		return formatTar, nil
	default:
		return formatUnknown, nil
	}
}

// extractArchive dispatches to the format-specific extractor, each of
// which validates member paths against destDir before writing anything
// (see jmgilman-go/oci's Validator pattern, collapsed here to a single
// path-escape check).
func extractArchive(srcPath, destDir string) error {
	format, err := sniffFormat(srcPath)
	if err != nil {
		return err
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return newErr("extract", srcPath, ErrIO, err)
	}
	defer src.Close()

	switch format {
	case formatTar:
		return extractTar(src, destDir)
	case formatTarGz:
		return extractTarGz(src, destDir)
	case formatZip:
		return extractZip(srcPath, destDir)
	case formatTarXz:
		return extractTarXz(src, destDir)
	default:
		return newErr("extract", srcPath, ErrExtraction, nil)
	}
}
