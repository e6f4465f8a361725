package cachedpath_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	cachedpath "github.com/epwalsh/cached-path-go"
	"github.com/stretchr/testify/require"
)

// TestLocalPassthrough covers scenario S1: a local file is returned
// unchanged and the cache root stays empty.
func TestLocalPassthrough(t *testing.T) {
	dir := t.TempDir()
	localFile := filepath.Join(dir, "data.txt")
	require.NoError(t, os.WriteFile(localFile, []byte("hi"), 0o644))

	cacheRoot := t.TempDir()
	cache, err := cachedpath.New(cachedpath.WithDir(cacheRoot))
	require.NoError(t, err)

	path, err := cache.CachedPath(localFile)
	require.NoError(t, err)
	require.Equal(t, localFile, path)

	entries, err := os.ReadDir(cacheRoot)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestLocalPassthroughMissingFile(t *testing.T) {
	cache, err := cachedpath.New(cachedpath.WithDir(t.TempDir()))
	require.NoError(t, err)

	_, err = cache.CachedPath(filepath.Join(t.TempDir(), "nope.txt"))
	require.ErrorIs(t, err, cachedpath.ErrResourceNotFound)
}

type etagServer struct {
	etag       atomic.Value
	getEtag    atomic.Value
	body       []byte
	headCount  int32
	getCount   int32
}

func newEtagServer(initialEtag string, body []byte) *etagServer {
	s := &etagServer{body: body}
	s.etag.Store(initialEtag)

	return s
}

func (s *etagServer) setEtag(etag string) {
	s.etag.Store(etag)
}

// setGetEtag makes GET responses report a different ETag than HEAD
// responses, simulating a server whose GET and HEAD handlers disagree.
func (s *etagServer) setGetEtag(etag string) {
	s.getEtag.Store(etag)
}

func (s *etagServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		etag, _ := s.etag.Load().(string)

		switch r.Method {
		case http.MethodHead:
			if etag != "" {
				w.Header().Set("ETag", etag)
			}
			atomic.AddInt32(&s.headCount, 1)
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			if getEtag, ok := s.getEtag.Load().(string); ok && getEtag != "" {
				etag = getEtag
			}
			if etag != "" {
				w.Header().Set("ETag", etag)
			}
			atomic.AddInt32(&s.getCount, 1)
			_, _ = w.Write(s.body)
		}
	}
}

// TestFirstFetchAndRevalidation covers scenarios S2, S3, and S4: the first
// fetch downloads and writes meta, an unchanged ETag revalidates with a
// HEAD only, and a changed ETag triggers a new GET producing a second,
// distinct resource file while the first is left untouched.
func TestFirstFetchAndRevalidation(t *testing.T) {
	es := newEtagServer(`"v1"`, []byte("hello"))
	server := httptest.NewServer(es.handler())
	defer server.Close()

	cache, err := cachedpath.New(cachedpath.WithDir(t.TempDir()))
	require.NoError(t, err)

	url := server.URL + "/x"

	// S2: first fetch.
	firstPath, err := cache.CachedPath(url)
	require.NoError(t, err)

	content, err := os.ReadFile(firstPath)
	require.NoError(t, err)
	require.Equal(t, "hello", string(content))
	require.Equal(t, int32(1), atomic.LoadInt32(&es.getCount))

	// S3: unchanged ETag, must revalidate with HEAD only.
	headBefore := atomic.LoadInt32(&es.headCount)
	getBefore := atomic.LoadInt32(&es.getCount)

	secondPath, err := cache.CachedPath(url)
	require.NoError(t, err)
	require.Equal(t, firstPath, secondPath)
	require.Equal(t, headBefore+1, atomic.LoadInt32(&es.headCount))
	require.Equal(t, getBefore, atomic.LoadInt32(&es.getCount))

	// S4: changed ETag, must GET and produce a distinct resource file.
	es.setEtag(`"v2"`)

	thirdPath, err := cache.CachedPath(url)
	require.NoError(t, err)
	require.NotEqual(t, firstPath, thirdPath)
	require.Equal(t, int32(2), atomic.LoadInt32(&es.getCount))

	// S2's file still exists.
	_, err = os.Stat(firstPath)
	require.NoError(t, err)
}

// TestRevalidationUsesProbeEtagNotDownloadEtag guards against meta being
// stamped with the GET response's ETag while the resource filename stays
// derived from the HEAD probe's ETag: if those two ever disagree, every
// later HEAD probe would compare against the wrong stored value and the
// resource would be redownloaded on every call forever.
func TestRevalidationUsesProbeEtagNotDownloadEtag(t *testing.T) {
	es := newEtagServer(`"head-v1"`, []byte("hello"))
	es.setGetEtag(`"get-v1"`)
	server := httptest.NewServer(es.handler())
	defer server.Close()

	cache, err := cachedpath.New(cachedpath.WithDir(t.TempDir()))
	require.NoError(t, err)

	url := server.URL + "/x"

	firstPath, err := cache.CachedPath(url)
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&es.getCount))

	// The HEAD probe's ETag hasn't changed, so this must revalidate with
	// a HEAD only and return the same path, even though GET would have
	// reported a different ETag than HEAD did.
	secondPath, err := cache.CachedPath(url)
	require.NoError(t, err)
	require.Equal(t, firstPath, secondPath)
	require.Equal(t, int32(1), atomic.LoadInt32(&es.getCount))
}

// TestOfflineHitAndMiss covers scenario S5.
func TestOfflineHitAndMiss(t *testing.T) {
	es := newEtagServer(`"v1"`, []byte("hello"))
	server := httptest.NewServer(es.handler())
	defer server.Close()

	dir := t.TempDir()
	url := server.URL + "/x"

	online, err := cachedpath.New(cachedpath.WithDir(dir))
	require.NoError(t, err)

	warmedPath, err := online.CachedPath(url)
	require.NoError(t, err)

	offline, err := cachedpath.New(cachedpath.WithDir(dir), cachedpath.WithOffline(true))
	require.NoError(t, err)

	headBefore := atomic.LoadInt32(&es.headCount)
	getBefore := atomic.LoadInt32(&es.getCount)

	offlinePath, err := offline.CachedPath(url)
	require.NoError(t, err)
	require.Equal(t, warmedPath, offlinePath)
	require.Equal(t, headBefore, atomic.LoadInt32(&es.headCount))
	require.Equal(t, getBefore, atomic.LoadInt32(&es.getCount))

	emptyOffline, err := cachedpath.New(cachedpath.WithDir(t.TempDir()), cachedpath.WithOffline(true))
	require.NoError(t, err)

	_, err = emptyOffline.CachedPath(server.URL + "/never-cached")
	require.ErrorIs(t, err, cachedpath.ErrNoCachedVersion)
}

// TestArchiveExtraction covers scenario S6.
func TestArchiveExtraction(t *testing.T) {
	tarGzBody := buildTarGz(t, map[string]string{"greeting.txt": "hello from the archive"})

	es := newEtagServer(`"v1"`, tarGzBody)
	server := httptest.NewServer(es.handler())
	defer server.Close()

	cache, err := cachedpath.New(cachedpath.WithDir(t.TempDir()))
	require.NoError(t, err)

	url := server.URL + "/t.tar.gz"
	opts := cachedpath.PathOptions{ExtractArchive: true}

	extractedDir, err := cache.CachedPathWithOptions(url, opts)
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&es.getCount))

	content, err := os.ReadFile(filepath.Join(extractedDir, "greeting.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello from the archive", string(content))

	headBefore := atomic.LoadInt32(&es.headCount)
	getBefore := atomic.LoadInt32(&es.getCount)

	secondDir, err := cache.CachedPathWithOptions(url, opts)
	require.NoError(t, err)
	require.Equal(t, extractedDir, secondDir)
	require.Equal(t, headBefore+1, atomic.LoadInt32(&es.headCount))
	require.Equal(t, getBefore, atomic.LoadInt32(&es.getCount))
}

func TestSubdirOption(t *testing.T) {
	es := newEtagServer(`"v1"`, []byte("hello"))
	server := httptest.NewServer(es.handler())
	defer server.Close()

	root := t.TempDir()
	cache, err := cachedpath.New(cachedpath.WithDir(root))
	require.NoError(t, err)

	path, err := cache.CachedPathWithOptions(server.URL+"/x", cachedpath.PathOptions{Subdir: "models"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(path, filepath.Join(root, "models")))
}

func TestFreshnessLifetimeAvoidsProbe(t *testing.T) {
	es := newEtagServer(`"v1"`, []byte("hello"))
	server := httptest.NewServer(es.handler())
	defer server.Close()

	cache, err := cachedpath.New(
		cachedpath.WithDir(t.TempDir()),
		cachedpath.WithFreshnessLifetime(1_000_000_000),
	)
	require.NoError(t, err)

	url := server.URL + "/x"

	_, err = cache.CachedPath(url)
	require.NoError(t, err)

	headBefore := atomic.LoadInt32(&es.headCount)

	_, err = cache.CachedPath(url)
	require.NoError(t, err)
	require.Equal(t, headBefore, atomic.LoadInt32(&es.headCount))
}

func buildTarGz(t *testing.T, entries map[string]string) []byte {
	t.Helper()

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)

	for name, content := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	var gzBuf bytes.Buffer
	gw := gzip.NewWriter(&gzBuf)
	_, err := gw.Write(tarBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	return gzBuf.Bytes()
}
