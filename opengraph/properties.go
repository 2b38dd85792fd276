package opengraph

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/wolfeidau/linkpreview"
	"github.com/wolfeidau/linkpreview/fetch"
)

// Source produces the raw metadata for a URL.
type Source interface {
	Metadata(ctx context.Context, url string) (RawMetadata, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, url string) (RawMetadata, error)

// Metadata calls f(ctx, url).
func (f SourceFunc) Metadata(ctx context.Context, url string) (RawMetadata, error) {
	return f(ctx, url)
}

// FetchSource fetches a page and parses its metadata.
type FetchSource struct {
	fetcher fetch.Fetcher
}

// NewFetchSource creates a Source backed by fetcher.
func NewFetchSource(fetcher fetch.Fetcher) *FetchSource {
	return &FetchSource{fetcher: fetcher}
}

// Metadata fetches url and parses the returned document. Non-HTML responses
// yield empty metadata.
func (s *FetchSource) Metadata(ctx context.Context, url string) (RawMetadata, error) {
	resp, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if !resp.IsHTML() {
		return RawMetadata{}, nil
	}
	meta, err := Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", url, err)
	}
	return meta, nil
}

// fallbacks lists the Twitter card property consulted when the Open Graph
// property is missing.
var fallbacks = map[string]string{
	"og:title":       "twitter:title",
	"og:url":         "twitter:url",
	"og:image":       "twitter:image",
	"og:description": "twitter:description",
}

// Properties builds preview records for URLs.
type Properties struct {
	source Source
	logger *slog.Logger
}

// Option configures Properties.
type Option func(*Properties)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Properties) {
		p.logger = logger
	}
}

// New creates Properties reading metadata from source.
func New(source Source, opts ...Option) *Properties {
	p := &Properties{
		source: source,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Get returns the preview record for url. It asks the source exactly once
// and never fails: an empty url or a source error yields the empty Record.
func (p *Properties) Get(ctx context.Context, url string) linkpreview.Record {
	if url == "" {
		return linkpreview.Record{}
	}
	meta, err := p.source.Metadata(ctx, url)
	if err != nil {
		p.logger.Warn("fetching preview metadata failed", "url", url, "error", err)
		return linkpreview.Record{}
	}
	return Normalize(meta)
}

// Normalize reduces raw metadata to a record. Each field is taken from the
// first value of its property; domain is derived from url and a root-relative
// image is made protocol-relative on that domain.
func Normalize(meta RawMetadata) linkpreview.Record {
	var rec linkpreview.Record
	rec.Title = lookup(meta, "og:title")
	rec.URL = lookup(meta, "og:url")
	rec.Description = lookup(meta, "og:description")
	if rec.URL != nil {
		rec.Domain = domainOf(*rec.URL)
	}
	if image := lookup(meta, "og:image"); image != nil {
		rec.Image = resolveImage(*image, rec.Domain)
	}
	return rec
}

func lookup(meta RawMetadata, property string) *string {
	if v, ok := meta.First(property); ok {
		return linkpreview.String(v)
	}
	if v, ok := meta.First(fallbacks[property]); ok {
		return linkpreview.String(v)
	}
	return nil
}

// domainOf returns the host of an absolute URL, or nil when raw has no scheme
// or host.
func domainOf(raw string) *string {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Hostname() == "" {
		return nil
	}
	return linkpreview.String(u.Hostname())
}

// resolveImage rewrites a root-relative path to //domain/path. Absolute and
// protocol-relative URLs, and everything when the domain is unknown, are kept
// as is.
func resolveImage(image string, domain *string) *string {
	if domain == nil || !strings.HasPrefix(image, "/") || strings.HasPrefix(image, "//") {
		return linkpreview.String(image)
	}
	return linkpreview.String("//" + *domain + image)
}
