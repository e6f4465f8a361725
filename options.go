package cachedpath

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ProgressFunc receives a push notification after each chunk of a download
// is written to disk: total is the response's Content-Length (-1 if
// unknown), soFar is the cumulative number of bytes written.
type ProgressFunc func(total, soFar int64)

// Option configures a Cache constructed via New.
type Option func(*Cache)

// WithDir sets the cache root directory. Created if missing.
func WithDir(dir string) Option {
	return func(c *Cache) {
		c.dir = dir
	}
}

// WithHTTPClient injects the HTTP client the fetcher uses for HEAD/GET
// requests. If unset, New builds one honoring WithConnectTimeout.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Cache) {
		c.httpClient = client
	}
}

// WithConnectTimeout bounds the connect phase of each HTTP request. Only
// takes effect when no explicit WithHTTPClient was supplied.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *Cache) {
		c.connectTimeout = timeout
	}
}

// WithMaxRetries caps the number of retries for transient HTTP failures.
func WithMaxRetries(maxRetries uint64) Option {
	return func(c *Cache) {
		c.maxRetries = maxRetries
	}
}

// WithMaxBackoff bounds the exponential backoff delay between retries.
func WithMaxBackoff(maxBackoff time.Duration) Option {
	return func(c *Cache) {
		c.maxBackoff = maxBackoff
	}
}

// WithFreshnessLifetime sets the duration a cached entry is trusted
// without consulting the origin server.
func WithFreshnessLifetime(lifetime time.Duration) Option {
	return func(c *Cache) {
		c.freshnessLifetime = &lifetime
	}
}

// WithOffline forbids all network I/O; CachedPath serves only from cache.
func WithOffline(offline bool) Option {
	return func(c *Cache) {
		c.offline = offline
	}
}

// WithProgressSink installs a callback that receives (total, soFar) byte
// counts while a resource is being downloaded.
func WithProgressSink(sink ProgressFunc) Option {
	return func(c *Cache) {
		c.progressSink = sink
	}
}

// WithLogger installs a structured logger. Defaults to zap.NewNop() when
// unset, so a Cache is silent unless the caller asks for logs.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}
