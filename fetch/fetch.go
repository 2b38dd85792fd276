// Package fetch retrieves the pages link previews are built from.
//
// A Fetcher turns a URL into a Response or a *TransportError. Anything other
// than a 2xx response is a TransportError, so callers only need to decide what
// to do with success and failure.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnsupportedScheme is returned for URLs that are not http or https.
var ErrUnsupportedScheme = errors.New("unsupported url scheme")

// Response is a fetched page.
type Response struct {
	// URL is the final URL after redirects.
	URL    string
	Status int
	Header http.Header
	// Body is decoded to UTF-8 and may be truncated to the fetcher's size
	// limit.
	Body []byte
}

// ContentType returns the media type of the response without parameters.
func (r *Response) ContentType() string {
	ct, _, _ := strings.Cut(r.Header.Get("Content-Type"), ";")
	return strings.ToLower(strings.TrimSpace(ct))
}

// IsHTML reports whether the response declares an HTML document. A missing
// Content-Type is treated as HTML.
func (r *Response) IsHTML() bool {
	switch r.ContentType() {
	case "", "text/html", "application/xhtml+xml":
		return true
	default:
		return false
	}
}

// Fetcher retrieves a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string) (*Response, error)

// Fetch calls f(ctx, url).
func (f FetcherFunc) Fetch(ctx context.Context, url string) (*Response, error) {
	return f(ctx, url)
}

// TransportError describes a failed fetch: a network, DNS or timeout error
// (Err set) or a non-2xx response (Status set).
type TransportError struct {
	URL    string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetching %s: unexpected status %d", e.URL, e.Status)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is or wraps a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
