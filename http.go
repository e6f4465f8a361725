package cachedpath

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// downloadChunkSize is the buffer size used when streaming a GET response
// to its temporary file. Progress ticks fire once per chunk.
const downloadChunkSize = 64 * 1024

// httpStatusError carries the status code of a non-2xx HTTP response so
// the retry loop and the caller can both inspect it without parsing
// Error() strings.
type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http status %d", e.status)
}

func (e *httpStatusError) Unwrap() error {
	return ErrHTTP
}

// fetcher performs HEAD probes and streaming GET downloads against one
// *http.Client, retrying transient failures the way the original crate's
// try_get_etag/try_download_resource loops did, but via
// github.com/cenkalti/backoff/v4 rather than a hand-rolled sleep loop.
type fetcher struct {
	client       *http.Client
	maxRetries   uint64
	maxBackoff   time.Duration
	progressSink ProgressFunc
}

// probe performs a HEAD request, retrying transient failures, and returns
// the response status and ETag header (without stripping quotes — the
// quotes are part of the server's opaque token per spec).
func (f *fetcher) probe(ctx context.Context, url string) (status int, etag string, err error) {
	op := func() error {
		req, buildErr := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if buildErr != nil {
			return backoff.Permanent(newErr("probe", url, ErrInvalidURL, buildErr))
		}

		resp, doErr := f.client.Do(req)
		if doErr != nil {
			return classifyTransportErr("probe", url, doErr)
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		etag = resp.Header.Get("ETag")

		if status == http.StatusNotFound {
			return backoff.Permanent(newErr("probe", url, ErrResourceNotFound, nil))
		}

		if status >= 400 && status < 500 {
			return backoff.Permanent(newErr("probe", url, ErrHTTP, &httpStatusError{status: status}))
		}

		if status >= 500 {
			return newErr("probe", url, ErrHTTP, &httpStatusError{status: status})
		}

		return nil
	}

	if err := backoff.Retry(op, f.backoffPolicy(ctx)); err != nil {
		return 0, "", unwrapBackoffPermanent(err)
	}

	return status, etag, nil
}

// download performs a GET request and streams the body to destPath in
// downloadChunkSize chunks, invoking the progress sink (if any) after each
// chunk. It returns the response's ETag, if present, and the number of
// bytes written.
func (f *fetcher) download(ctx context.Context, url, destPath string) (etag string, size int64, err error) {
	op := func() error {
		req, buildErr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if buildErr != nil {
			return backoff.Permanent(newErr("download", url, ErrInvalidURL, buildErr))
		}

		resp, doErr := f.client.Do(req)
		if doErr != nil {
			return classifyTransportErr("download", url, doErr)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(newErr("download", url, ErrResourceNotFound, nil))
		}

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(newErr("download", url, ErrHTTP, &httpStatusError{status: resp.StatusCode}))
		}

		if resp.StatusCode >= 500 {
			return newErr("download", url, ErrHTTP, &httpStatusError{status: resp.StatusCode})
		}

		dest, openErr := os.OpenFile(destPath, os.O_WRONLY|os.O_TRUNC, 0o644)
		if openErr != nil {
			return backoff.Permanent(newErr("download", url, ErrIO, openErr))
		}
		defer dest.Close()

		etag = resp.Header.Get("ETag")

		written, copyErr := f.copyWithProgress(dest, resp.Body, resp.ContentLength)
		if copyErr != nil {
			return classifyTransportErr("download", url, copyErr)
		}

		if syncErr := dest.Sync(); syncErr != nil {
			return backoff.Permanent(newErr("download", url, ErrIO, syncErr))
		}

		size = written

		return nil
	}

	if err := backoff.Retry(op, f.backoffPolicy(ctx)); err != nil {
		return "", 0, unwrapBackoffPermanent(err)
	}

	return etag, size, nil
}

// copyWithProgress streams src to dst in fixed-size chunks, reporting
// (total, soFar) to the configured progress sink after each chunk, a push
// model rather than a pull one since the sink has no way to ask for more
// bytes.
func (f *fetcher) copyWithProgress(dst io.Writer, src io.Reader, total int64) (int64, error) {
	buf := make([]byte, downloadChunkSize)

	var soFar int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return soFar, writeErr
			}

			soFar += int64(n)

			if f.progressSink != nil {
				f.progressSink(total, soFar)
			}
		}

		if readErr == io.EOF {
			return soFar, nil
		}
		if readErr != nil {
			return soFar, readErr
		}
	}
}

func (f *fetcher) backoffPolicy(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.MaxInterval = f.maxBackoff
	exp.MaxElapsedTime = 0 // bounded by max retries, not wall-clock time

	return backoff.WithContext(backoff.WithMaxRetries(exp, f.maxRetries), ctx)
}

// classifyTransportErr distinguishes a timeout from any other transport
// failure (connection refused, DNS failure, etc.), both of which are
// retriable.
func classifyTransportErr(op, url string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newErr(op, url, ErrHTTPTimeout, err)
	}

	return newErr(op, url, ErrHTTP, err)
}

// unwrapBackoffPermanent strips backoff.Retry's *backoff.PermanentError
// wrapper so callers see the underlying *CacheError directly.
func unwrapBackoffPermanent(err error) error {
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}

	return err
}
