package cachedpath

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// syncDir fsyncs a directory so that a preceding rename or file creation
// within it is durable. Best-effort: some platforms (notably Windows)
// don't support opening a directory for fsync, so a failure here is
// swallowed rather than surfaced as a cache error.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return nil //nolint:nilerr // best-effort durability only
	}
	defer d.Close()

	_ = d.Sync()

	return nil
}

// tempFileIn creates a temporary file in dir named "tmp-<uuid>", a
// collision-resistant name that can never be mistaken for a real entry
// key (which is always a hex SHA-256 digest, optionally dotted with a
// second one).
func tempFileIn(dir string) (*os.File, error) {
	name := filepath.Join(dir, "tmp-"+uuid.NewString())

	return os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
}

// tempDirIn creates a temporary directory in dir named "tmp-<uuid>", used
// as the staging area for an archive extraction before it's renamed into
// its final "<key>-extracted" location.
func tempDirIn(dir string) (string, error) {
	name := filepath.Join(dir, "tmp-"+uuid.NewString())

	if err := os.Mkdir(name, 0o755); err != nil {
		return "", err
	}

	return name, nil
}
