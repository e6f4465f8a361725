package cachedpath

import (
	"archive/tar"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
)

// extractTar extracts a plain (uncompressed) tar stream into destDir.
func extractTar(r io.Reader, destDir string) error {
	return untar(tar.NewReader(r), destDir)
}

// untar walks a tar stream, writing each member under destDir after
// validating its path with safeJoin.
func untar(tr *tar.Reader, destDir string) error {
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return newErr("extract", destDir, ErrExtraction, err)
		}

		target, err := safeJoin(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return newErr("extract", header.Name, ErrIO, err)
			}
		case tar.TypeReg:
			if err := writeExtractedFile(target, tr, os.FileMode(header.Mode)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			// The link target is resolved relative to the symlink's own
			// directory and must land inside destDir too, or a member
			// that lives safely inside destDir could still point outside
			// of it once followed.
			if filepath.IsAbs(header.Linkname) {
				return newErr("extract", header.Name, ErrExtraction, nil)
			}

			linkMember := path.Join(path.Dir(filepath.ToSlash(header.Name)), filepath.ToSlash(header.Linkname))
			if _, err := safeJoin(destDir, linkMember); err != nil {
				return err
			}

			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return newErr("extract", header.Name, ErrIO, err)
			}
			if err := os.Symlink(header.Linkname, target); err != nil {
				return newErr("extract", header.Name, ErrIO, err)
			}
		default:
			// Skip device files, fifos, and other member types this cache
			// has no use for.
			continue
		}
	}
}

// writeExtractedFile writes exactly one archive member's content to
// target, creating parent directories as needed.
func writeExtractedFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return newErr("extract", target, ErrIO, err)
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return newErr("extract", target, ErrIO, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, r); err != nil {
		return newErr("extract", target, ErrIO, err)
	}

	return nil
}
