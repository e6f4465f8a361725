package cachedpath

import (
	"net/url"
	"strings"
)

// classify distinguishes a remote identifier (an absolute http/https URL)
// from a local one. An identifier that merely looks like a URL (starts
// with a recognized scheme prefix) but fails to parse is reported via
// ErrInvalidURL rather than silently treated as a local path.
func classify(identifier string) (remote bool, parsed *url.URL, err error) {
	if !strings.HasPrefix(identifier, "http://") && !strings.HasPrefix(identifier, "https://") {
		return false, nil, nil
	}

	parsed, parseErr := url.Parse(identifier)
	if parseErr != nil {
		return true, nil, newErr("classify", identifier, ErrInvalidURL, parseErr)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return true, nil, newErr("classify", identifier, ErrInvalidURL, nil)
	}

	return true, parsed, nil
}
