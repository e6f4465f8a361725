package cachedpath

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxRetries uint64 = 3
	defaultMaxBackoff        = 5 * time.Second
)

// Cache fetches and manages remote resources in a local, content-addressed
// cache directory. The zero value is not usable; construct one with New.
type Cache struct {
	dir               string
	httpClient        *http.Client
	connectTimeout    time.Duration
	maxRetries        uint64
	maxBackoff        time.Duration
	freshnessLifetime *time.Duration
	offline           bool
	progressSink      ProgressFunc
	logger            *zap.SugaredLogger

	lock entryLock
}

// PathOptions customizes a single CachedPathWithOptions call.
type PathOptions struct {
	// Subdir, if set, resolves the entry under dir/Subdir rather than dir.
	Subdir string
	// ExtractArchive, if set, extracts the resource and returns the path
	// to the extraction directory instead of the resource file.
	ExtractArchive bool
}

// New constructs a Cache, applying opts over the defaults: dir from
// CACHED_PATH_ROOT or os.UserCacheDir(), max 3 retries, 5s max backoff, no
// freshness lifetime (always revalidate), online, no progress sink, a
// no-op logger.
func New(opts ...Option) (*Cache, error) {
	c := &Cache{
		maxRetries: defaultMaxRetries,
		maxBackoff: defaultMaxBackoff,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.dir == "" {
		dir, err := defaultCacheDir()
		if err != nil {
			return nil, newErr("new", "", ErrIO, err)
		}

		c.dir = dir
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return nil, newErr("new", c.dir, ErrIO, err)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: c.connectTimeout}).DialContext,
			},
		}
	}

	if c.logger == nil {
		c.logger = zap.NewNop().Sugar()
	}

	return c, nil
}

// defaultCacheDir resolves the cache root the way the original crate did
// (RUST_CACHED_PATH_ROOT env var, or a platform temp/cache directory
// fallback), renamed to CACHED_PATH_ROOT for this port.
func defaultCacheDir() (string, error) {
	if override := os.Getenv("CACHED_PATH_ROOT"); override != "" {
		return override, nil
	}

	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(base, "cached-path"), nil
}

// CachedPath resolves identifier using a freshly constructed default Cache.
func CachedPath(identifier string) (string, error) {
	c, err := New()
	if err != nil {
		return "", err
	}

	return c.CachedPath(identifier)
}

// CachedPath resolves identifier to a stable local path, fetching and
// caching it first if it names a remote resource.
func (c *Cache) CachedPath(identifier string) (string, error) {
	return c.CachedPathWithOptions(identifier, PathOptions{})
}

// CachedPathWithOptions resolves identifier as CachedPath does, honoring
// the given subdirectory and extraction request.
func (c *Cache) CachedPathWithOptions(identifier string, opts PathOptions) (string, error) {
	dir := c.dir
	if opts.Subdir != "" {
		dir = filepath.Join(c.dir, opts.Subdir)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", newErr("cached-path", identifier, ErrIO, err)
	}

	remote, _, err := classify(identifier)
	if err != nil {
		return "", err
	}

	if !remote {
		return c.resolveLocal(context.Background(), identifier, dir, opts)
	}

	return c.resolveRemote(context.Background(), identifier, dir, opts)
}

func (c *Cache) resolveLocal(ctx context.Context, identifier, dir string, opts PathOptions) (string, error) {
	info, err := os.Stat(identifier)
	if err != nil {
		if os.IsNotExist(err) {
			return "", newErr("cached-path", identifier, ErrResourceNotFound, nil)
		}

		return "", newErr("cached-path", identifier, ErrIO, err)
	}

	if info.IsDir() {
		return "", newErr("cached-path", identifier, ErrResourceNotFound, nil)
	}

	if !opts.ExtractArchive {
		c.logger.Debugw("resolved local resource", "identifier", identifier)
		return identifier, nil
	}

	// The local-file analog of an ETag: distinct mtimes get distinct
	// extraction directories, so a changed local file doesn't return a
	// stale extraction.
	etagSurrogate := fmt.Sprintf("%d", info.ModTime().UnixNano())
	key := deriveKeyWithETag(identifier, etagSurrogate)
	extractedDir := filepath.Join(dir, key+extractedSuffix)
	lockPath := filepath.Join(dir, key+lockSuffix)

	return c.lock.withLock(ctx, lockPath, func() (string, error) {
		return c.ensureExtracted(identifier, extractedDir, info.ModTime())
	})
}

func (c *Cache) resolveRemote(ctx context.Context, identifier, dir string, opts PathOptions) (string, error) {
	baseKey := deriveKey(identifier)
	lockPath := filepath.Join(dir, baseKey+lockSuffix)

	return c.lock.withLock(ctx, lockPath, func() (string, error) {
		return c.fetchRemote(ctx, identifier, dir, baseKey, opts)
	})
}

func (c *Cache) fetchRemote(ctx context.Context, identifier, dir, baseKey string, opts PathOptions) (string, error) {
	cached, err := findLatestMeta(dir, baseKey)
	if err != nil {
		return "", err
	}

	now := nowSeconds()

	switch evaluateFreshness(c.offline, cached, now, "", false) {
	case offlineMissing:
		return "", newErr("cached-path", identifier, ErrNoCachedVersion, nil)
	case offlineUsable:
		c.logger.Debugw("serving offline", "identifier", identifier)
		return c.finalize(ctx, identifier, dir, filepath.Join(dir, cached.Filename), opts)
	case freshFromAge:
		c.logger.Debugw("cache hit, fresh by age", "identifier", identifier)
		return c.finalize(ctx, identifier, dir, filepath.Join(dir, cached.Filename), opts)
	}

	f := c.fetcher()

	_, etag, err := f.probe(ctx, identifier)
	if err != nil {
		return "", err
	}

	state := evaluateFreshness(false, cached, now, etag, true)

	var resourcePath string

	switch state {
	case freshFromEtag:
		c.logger.Debugw("cache hit, fresh by etag", "identifier", identifier)
		resourcePath = filepath.Join(dir, cached.Filename)
	default:
		resourcePath, err = c.downloadNew(ctx, f, identifier, dir, baseKey, etag)
		if err != nil {
			return "", err
		}
	}

	return c.finalize(ctx, identifier, dir, resourcePath, opts)
}

// downloadNew fetches identifier fresh, writing its meta before renaming
// the downloaded content into place, so a crash mid-download never leaves
// a resource file without a matching meta file.
func (c *Cache) downloadNew(ctx context.Context, f *fetcher, identifier, dir, baseKey, etag string) (string, error) {
	filename := baseKey
	if etag != "" {
		filename = deriveKeyWithETag(identifier, etag)
	}

	resourcePath := filepath.Join(dir, filename)

	if _, err := os.Stat(resourcePath); err == nil {
		// Another producer already published this exact (url, etag); no
		// need to redownload.
		c.logger.Debugw("entry already cached under resolved etag", "identifier", identifier)
		return resourcePath, nil
	}

	tmp, err := tempFileIn(dir)
	if err != nil {
		return "", newErr("download", identifier, ErrIO, err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()

	c.logger.Infow("downloading resource", "identifier", identifier)

	// The etag recorded in meta must be the same one filename was derived
	// from above, not whatever the GET response happens to report — a
	// server that returns a different etag on GET than on HEAD would
	// otherwise pin the resource file to one etag while meta drifts to
	// another, so every later probe would look stale forever.
	_, size, err := f.download(ctx, identifier, tmpPath)
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}

	m := &meta{
		Resource:     identifier,
		Filename:     filename,
		CreationTime: nowSeconds(),
		Size:         size,
	}
	if etag != "" {
		m.ETag = &etag
	}
	if c.freshnessLifetime != nil {
		expires := m.CreationTime + c.freshnessLifetime.Seconds()
		m.Expires = &expires
	}

	if err := writeMeta(m, metaFilePath(resourcePath)); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}

	if err := os.Rename(tmpPath, resourcePath); err != nil {
		return "", newErr("download", identifier, ErrIO, err)
	}

	if err := syncDir(dir); err != nil {
		return "", err
	}

	c.logger.Infow("cached new resource", "identifier", identifier, "size", size)

	return resourcePath, nil
}

// finalize runs archive extraction, if requested, under the caller's
// already-held entry lock, and returns either the resource path or the
// extraction directory.
func (c *Cache) finalize(ctx context.Context, identifier, dir, resourcePath string, opts PathOptions) (string, error) {
	if !opts.ExtractArchive {
		return resourcePath, nil
	}

	info, err := os.Stat(resourcePath)
	if err != nil {
		return "", newErr("extract", identifier, ErrIO, err)
	}

	extractedDir := resourcePath + extractedSuffix

	return c.ensureExtracted(resourcePath, extractedDir, info.ModTime())
}

// ensureExtracted extracts src into extractedDir unless an extraction
// already exists there at least as new as src, per the extraction
// protocol's step 2.
func (c *Cache) ensureExtracted(src, extractedDir string, srcModTime time.Time) (string, error) {
	if info, err := os.Stat(extractedDir); err == nil && !info.ModTime().Before(srcModTime) {
		c.logger.Debugw("extraction already up to date", "src", src)
		return extractedDir, nil
	}

	parent := filepath.Dir(extractedDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", newErr("extract", src, ErrIO, err)
	}

	tmpDir, err := tempDirIn(parent)
	if err != nil {
		return "", newErr("extract", src, ErrIO, err)
	}

	if err := extractArchive(src, tmpDir); err != nil {
		_ = os.RemoveAll(tmpDir)
		return "", err
	}

	_ = os.RemoveAll(extractedDir)

	if err := os.Rename(tmpDir, extractedDir); err != nil {
		_ = os.RemoveAll(tmpDir)
		return "", newErr("extract", src, ErrIO, err)
	}

	if err := syncDir(parent); err != nil {
		return "", err
	}

	c.logger.Infow("extracted archive", "src", src, "dest", extractedDir)

	return extractedDir, nil
}

func (c *Cache) fetcher() *fetcher {
	return &fetcher{
		client:       c.httpClient,
		maxRetries:   c.maxRetries,
		maxBackoff:   c.maxBackoff,
		progressSink: c.progressSink,
	}
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
