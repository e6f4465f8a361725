package cachedpath

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/samber/lo"
)

// meta is the sidecar record describing one cached resource revision. The
// JSON field names are part of the on-disk format and must not change.
type meta struct {
	Resource     string   `json:"resource"`
	Filename     string   `json:"filename"`
	ETag         *string  `json:"etag"`
	CreationTime float64  `json:"creation_time"`
	Expires      *float64 `json:"expires,omitempty"`
	Size         int64    `json:"size"`

	// path is the resolved on-disk path of the resource file this meta
	// describes. Unexported, so never serialized; filled in by readMeta.
	path string
}

// metaFilePath returns the path of the meta sidecar for a resource file
// at resourcePath.
func metaFilePath(resourcePath string) string {
	return resourcePath + metaSuffix
}

// isFresh reports whether m is still within its freshness lifetime, as
// recorded at write time. A meta with no expiry (freshness lifetime was
// unset when it was written) is never fresh by age alone.
func (m *meta) isFresh(now float64) bool {
	return m.Expires != nil && *m.Expires > now
}

// writeMeta serializes m as JSON to path, syncing before close so that a
// reader never observes a partially written meta file.
func writeMeta(m *meta, path string) error {
	tmp, err := tempFileIn(filepath.Dir(path))
	if err != nil {
		return newErr("write-meta", m.Resource, ErrIO, err)
	}
	tmpPath := tmp.Name()

	enc := json.NewEncoder(tmp)
	if err := enc.Encode(m); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)

		return newErr("write-meta", m.Resource, ErrIO, err)
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)

		return newErr("write-meta", m.Resource, ErrIO, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)

		return newErr("write-meta", m.Resource, ErrIO, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)

		return newErr("write-meta", m.Resource, ErrIO, err)
	}

	return syncDir(filepath.Dir(path))
}

// readMeta parses the meta sidecar at path.
func readMeta(path string) (*meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newErr("read-meta", path, ErrResourceNotFound, nil)
		}

		return nil, newErr("read-meta", path, ErrIO, err)
	}

	var m meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, newErr("read-meta", path, ErrCacheFileFormat, err)
	}

	resourcePath := path[:len(path)-len(metaSuffix)]
	m.path = resourcePath

	return &m, nil
}

// findLatestMeta globs for every meta sidecar belonging to baseKey under
// dir and returns the one with the largest creation_time, or nil if none
// exist. Malformed sidecars are skipped rather than failing the whole
// lookup, since a foreign/corrupt meta from an older version shouldn't
// block resolution of a resource that has other valid revisions.
func findLatestMeta(dir, baseKey string) (*meta, error) {
	pattern := filepath.Join(dir, baseKey+"*"+metaSuffix)

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, newErr("glob-meta", pattern, ErrIO, err)
	}

	var candidates []*meta
	for _, match := range matches {
		m, err := readMeta(match)
		if err != nil {
			continue
		}

		candidates = append(candidates, m)
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	latest := lo.MaxBy(candidates, func(a, b *meta) bool {
		return a.CreationTime > b.CreationTime
	})

	return latest, nil
}
