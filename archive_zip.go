package cachedpath

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
)

// extractZip extracts srcPath, a zip archive, into destDir. Takes a path
// rather than an already-open reader because archive/zip.NewReader needs
// io.ReaderAt plus the archive's size, not a sequential stream.
func extractZip(srcPath, destDir string) error {
	r, err := zip.OpenReader(srcPath)
	if err != nil {
		return newErr("extract", srcPath, ErrExtraction, err)
	}
	defer r.Close()

	for _, member := range r.File {
		target, err := safeJoin(destDir, member.Name)
		if err != nil {
			return err
		}

		if member.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return newErr("extract", member.Name, ErrIO, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return newErr("extract", member.Name, ErrIO, err)
		}

		if err := extractZipMember(member, target); err != nil {
			return err
		}
	}

	return nil
}

func extractZipMember(member *zip.File, target string) error {
	src, err := member.Open()
	if err != nil {
		return newErr("extract", member.Name, ErrIO, err)
	}
	defer src.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, member.Mode())
	if err != nil {
		return newErr("extract", member.Name, ErrIO, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return newErr("extract", member.Name, ErrIO, err)
	}

	return nil
}
