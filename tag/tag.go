// Package tag implements the link preview template tag: it resolves the tag
// argument to a URL, consults the preview cache, fetches on a miss and renders
// an HTML fragment. Rendering never fails; every lower-level error degrades to
// an empty or partial preview.
package tag

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/wolfeidau/linkpreview"
	"github.com/wolfeidau/linkpreview/download"
	"github.com/wolfeidau/linkpreview/telemetry"
)

// Extractor builds the preview record for a URL. It never fails.
type Extractor interface {
	Get(ctx context.Context, url string) linkpreview.Record
}

// Store persists preview records keyed by URL.
type Store interface {
	Lookup(ctx context.Context, url string) (linkpreview.Record, bool)
	Store(ctx context.Context, url string, rec linkpreview.Record) error
}

// Invocation is a parsed tag occurrence.
type Invocation struct {
	// Markup is the tag argument with surrounding whitespace removed.
	Markup string
}

// identifier matches variable references such as url, page.link or
// site.data.links[0].
var identifier = regexp.MustCompile(`^[A-Za-z_][\w-]*(\.[\w-]+|\[\d+\])*$`)

// Tag renders link previews.
type Tag struct {
	extractor  Extractor
	store      Store
	downloader *download.Downloader
	formatter  Formatter
	logger     *slog.Logger
}

// Option configures a Tag.
type Option func(*Tag)

// WithStore sets the preview cache. Without one every render fetches.
func WithStore(s Store) Option {
	return func(t *Tag) {
		t.store = s
	}
}

// WithFormatter replaces the built-in HTML fragment.
func WithFormatter(f Formatter) Option {
	return func(t *Tag) {
		t.formatter = f
	}
}

// WithDownloader sets the downloader used to share concurrent fetches of the
// same URL. Tags sharing a downloader share in-flight fetches.
func WithDownloader(d *download.Downloader) Option {
	return func(t *Tag) {
		t.downloader = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tag) {
		t.logger = logger
	}
}

// New creates a Tag that fetches previews with extractor.
func New(extractor Extractor, opts ...Option) *Tag {
	t := &Tag{
		extractor: extractor,
		formatter: HTMLFormatter{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.downloader == nil {
		t.downloader = download.New(download.WithLogger(t.logger))
	}
	return t
}

// Parse prepares a tag occurrence. The host may pad the markup with
// whitespace, which is dropped.
func (t *Tag) Parse(markup string) Invocation {
	return Invocation{Markup: strings.TrimSpace(markup)}
}

// Render returns the HTML fragment for inv. It never fails.
func (t *Tag) Render(ctx context.Context, inv Invocation, vars Context) string {
	return t.RenderURL(ctx, t.Resolve(inv, vars))
}

// RenderURL returns the HTML fragment for an already resolved URL.
func (t *Tag) RenderURL(ctx context.Context, url string) string {
	rec, result := t.Preview(ctx, url)

	telemetry.SetCacheResult(ctx, result)
	telemetry.RecordRender(ctx, result, rec.IsEmpty())

	out, err := t.formatter.Format(Preview{Link: url, Record: rec})
	if err != nil {
		t.logger.Warn("formatting preview failed", "url", url, "error", err)
		if out, err = (HTMLFormatter{}).Format(Preview{Link: url, Record: rec}); err != nil {
			return ""
		}
	}
	return out
}

// Resolve turns the tag argument into a URL. Quoted markup is a literal,
// an identifier is looked up in vars and anything else is taken verbatim.
// An unbound identifier resolves to the empty URL.
func (t *Tag) Resolve(inv Invocation, vars Context) string {
	markup := inv.Markup
	if s, ok := unquote(markup); ok {
		return strings.TrimSpace(s)
	}
	if !identifier.MatchString(markup) {
		return markup
	}
	if vars == nil {
		return ""
	}
	v, ok := vars.Lookup(markup)
	if !ok {
		t.logger.Debug("unbound preview variable", "name", markup)
		return ""
	}
	return strings.TrimSpace(stringValue(v))
}

// Preview returns the record for url, from the cache when possible. On a
// miss the record is fetched and stored, even when it is empty, so an
// unfetchable URL is not retried on every render. A failed store is logged
// and the fetched record is still returned.
func (t *Tag) Preview(ctx context.Context, url string) (linkpreview.Record, telemetry.CacheResult) {
	if url == "" || t.store == nil {
		return t.extractor.Get(ctx, url), telemetry.CacheBypass
	}

	if rec, ok := t.store.Lookup(ctx, url); ok {
		return rec, telemetry.CacheHit
	}

	rec, shared, err := t.downloader.Do(ctx, url, func(ctx context.Context) (linkpreview.Record, error) {
		// a render that just finished may have stored it
		if rec, ok := t.store.Lookup(ctx, url); ok {
			return rec, nil
		}
		rec := t.extractor.Get(ctx, url)
		if err := t.store.Store(ctx, url, rec); err != nil {
			t.logger.Warn("storing preview failed", "url", url, "error", err)
		}
		return rec, nil
	})
	if err != nil {
		download.ForgetOnError(t.downloader, url, err)
		t.logger.Warn("fetching preview failed", "url", url, "error", err)
		return linkpreview.Record{}, telemetry.CacheMiss
	}
	if shared {
		return rec, telemetry.CacheShared
	}
	return rec, telemetry.CacheMiss
}

func unquote(s string) (string, bool) {
	if len(s) < 2 {
		return "", false
	}
	switch q := s[0]; {
	case q == '"' && s[len(s)-1] == '"':
		if u, err := strconv.Unquote(s); err == nil {
			return u, true
		}
		return s[1 : len(s)-1], true
	case q == '\'' && s[len(s)-1] == '\'':
		return s[1 : len(s)-1], true
	}
	return "", false
}
