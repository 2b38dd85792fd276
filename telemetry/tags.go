package telemetry

import (
	"context"
	"net/http"
)

type contextKey string

// requestTagsKey is the context key for request tags holder.
const requestTagsKey contextKey = "request_tags"

// CacheResult represents how a preview was obtained.
type CacheResult string

const (
	// CacheHit means the record came from the preview cache.
	CacheHit CacheResult = "hit"
	// CacheMiss means the record was fetched and then stored.
	CacheMiss CacheResult = "miss"
	// CacheShared means another in-flight render fetched the record.
	CacheShared CacheResult = "shared"
	// CacheBypass means the cache was deliberately skipped.
	CacheBypass CacheResult = "bypass"
	// CacheNA is used for requests that do not render previews.
	CacheNA CacheResult = "na"
)

// RequestTags holds mutable request metadata that handlers can set for logging.
type RequestTags struct {
	Route       string
	CacheResult CacheResult
	URL         string
}

// InjectTags creates a new request with an empty RequestTags in context.
// Call this in middleware before handlers run.
func InjectTags(r *http.Request) *http.Request {
	tags := &RequestTags{CacheResult: CacheNA}
	return r.WithContext(WithTags(r.Context(), tags))
}

// WithTags returns a context carrying tags, for callers outside an HTTP
// request such as a CLI render pass.
func WithTags(ctx context.Context, tags *RequestTags) context.Context {
	return context.WithValue(ctx, requestTagsKey, tags)
}

// GetTags retrieves the request tags from context.
// Returns nil if not in a request context with logging middleware.
func GetTags(r *http.Request) *RequestTags {
	return TagsFromContext(r.Context())
}

// TagsFromContext retrieves the request tags from a context so code below
// the HTTP layer can report how it served a preview.
func TagsFromContext(ctx context.Context) *RequestTags {
	if tags, ok := ctx.Value(requestTagsKey).(*RequestTags); ok {
		return tags
	}
	return nil
}

// SetCacheResult sets the cache result for logging.
func SetCacheResult(ctx context.Context, result CacheResult) {
	if tags := TagsFromContext(ctx); tags != nil {
		tags.CacheResult = result
	}
}

// SetRoute sets the route tag for metrics and logging.
func SetRoute(r *http.Request, route string) {
	if tags := GetTags(r); tags != nil {
		tags.Route = route
	}
}

// SetURL records the preview URL a request asked for.
func SetURL(r *http.Request, url string) {
	if tags := GetTags(r); tags != nil {
		tags.URL = url
	}
}
