package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/wolfeidau/linkpreview/telemetry"
)

const (
	// DefaultTimeout bounds a whole fetch including redirects and body read.
	DefaultTimeout = 10 * time.Second

	// DefaultMaxBodyBytes caps how much of a page is read. Open Graph tags
	// live in the head so the tail of large documents is not needed.
	DefaultMaxBodyBytes = 2 * 1024 * 1024

	// DefaultMaxRedirects is the number of redirects followed before giving up.
	DefaultMaxRedirects = 5

	// DefaultUserAgent identifies the fetcher to upstream sites.
	DefaultUserAgent = "linkpreview/1.0 (+https://github.com/wolfeidau/linkpreview)"
)

// HTTPFetcher fetches pages over HTTP(S).
type HTTPFetcher struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
	maxRedirects int
	logger       *slog.Logger
}

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithTimeout sets the overall timeout for a fetch.
func WithTimeout(d time.Duration) Option {
	return func(f *HTTPFetcher) {
		f.client.Timeout = d
	}
}

// WithTransport sets the base round tripper. It is still wrapped with
// metrics instrumentation.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *HTTPFetcher) {
		f.client.Transport = rt
	}
}

// WithUserAgent sets the User-Agent header sent upstream.
func WithUserAgent(ua string) Option {
	return func(f *HTTPFetcher) {
		f.userAgent = ua
	}
}

// WithMaxBodyBytes sets how many bytes of a page body are read.
func WithMaxBodyBytes(n int64) Option {
	return func(f *HTTPFetcher) {
		f.maxBodyBytes = n
	}
}

// WithMaxRedirects sets how many redirects are followed.
func WithMaxRedirects(n int) Option {
	return func(f *HTTPFetcher) {
		f.maxRedirects = n
	}
}

// WithLogger sets the logger for the fetcher.
func WithLogger(logger *slog.Logger) Option {
	return func(f *HTTPFetcher) {
		f.logger = logger
	}
}

// NewHTTPFetcher creates a fetcher with the given options.
func NewHTTPFetcher(opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		client:       &http.Client{Timeout: DefaultTimeout},
		userAgent:    DefaultUserAgent,
		maxBodyBytes: DefaultMaxBodyBytes,
		maxRedirects: DefaultMaxRedirects,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}

	f.client.Transport = telemetry.NewInstrumentedTransport(f.client.Transport, "opengraph")
	f.client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= f.maxRedirects {
			return fmt.Errorf("stopped after %d redirects", f.maxRedirects)
		}
		return nil
	}
	return f
}

// Fetch retrieves rawURL. Non-2xx responses and transport failures are
// returned as *TransportError.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &TransportError{URL: rawURL, Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &TransportError{URL: rawURL, Err: fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &TransportError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: rawURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// drain a little so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &TransportError{URL: rawURL, Status: resp.StatusCode}
	}

	body, err := f.readBody(resp)
	if err != nil {
		return nil, &TransportError{URL: rawURL, Status: resp.StatusCode, Err: err}
	}

	f.logger.Debug("fetched page",
		"url", rawURL,
		"final_url", resp.Request.URL.String(),
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration", time.Since(start),
	)

	return &Response{
		URL:    resp.Request.URL.String(),
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
	}, nil
}

// readBody reads at most maxBodyBytes of the body and converts it to UTF-8
// using the declared or sniffed charset.
func (f *HTTPFetcher) readBody(resp *http.Response) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	r, err := charset.NewReader(bytes.NewReader(raw), resp.Header.Get("Content-Type"))
	if err != nil {
		// unknown charset, hand back the raw bytes
		return raw, nil
	}
	decoded, err := io.ReadAll(r)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return raw, nil
	}
	return decoded, nil
}

var _ Fetcher = (*HTTPFetcher)(nil)
