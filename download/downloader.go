// Package download deduplicates concurrent preview fetches. When several
// renders ask for the same uncached URL at once, only one of them fetches the
// page and the others share its record.
package download

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/wolfeidau/linkpreview"
)

// FetchFunc produces the record for a URL, typically by fetching the page
// and storing the result in the cache. The context passed to FetchFunc is
// detached from any single caller so that one caller timing out does not
// cancel the fetch for other waiters.
type FetchFunc func(ctx context.Context) (linkpreview.Record, error)

// Downloader deduplicates concurrent fetches for the same URL using
// singleflight. It uses DoChan so each caller can respect its own context
// deadline without cancelling the in-flight fetch for others.
type Downloader struct {
	group  singleflight.Group
	logger *slog.Logger
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithLogger sets the logger for the downloader.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Downloader) {
		d.logger = logger
	}
}

// New creates a new Downloader.
func New(opts ...Option) *Downloader {
	d := &Downloader{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Do deduplicates concurrent fetches for the same url.
// Returns the record, whether it was shared with another caller, and any error.
//
// If the caller's context expires before the fetch completes, Do returns the
// context error but the in-flight fetch continues for other waiters.
func (d *Downloader) Do(ctx context.Context, url string, fn FetchFunc) (linkpreview.Record, bool, error) {
	ch := d.group.DoChan(url, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			d.logger.Debug("shared fetch failed", "url", url, "shared", res.Shared, "error", res.Err)
			return linkpreview.Record{}, res.Shared, res.Err
		}
		return res.Val.(linkpreview.Record), res.Shared, nil
	case <-ctx.Done():
		return linkpreview.Record{}, false, ctx.Err()
	}
}

// Forget removes the url from the singleflight group, allowing a subsequent
// call to start a fresh fetch instead of joining the in-flight one.
func (d *Downloader) Forget(url string) {
	d.group.Forget(url)
}

// ForgetOnError calls Forget if err is a real fetch failure rather than the
// caller's own context timing out.
func ForgetOnError(d *Downloader, url string, err error) {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	d.Forget(url)
}
