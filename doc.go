// Package cachedpath resolves a local path or a remote HTTP(S) URL to a
// stable local filesystem path, downloading and caching remote resources
// as needed. Repeated resolution of the same identifier is cheap: an
// unchanged resource is served from the on-disk cache without a new
// download, and concurrent callers across processes never race on the
// same cache entry.
package cachedpath
