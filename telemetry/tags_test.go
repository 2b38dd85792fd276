package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTaggedRequest() *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	return InjectTags(r)
}

func TestInjectTags_DefaultsCacheResultToNA(t *testing.T) {
	tags := GetTags(newTaggedRequest())
	require.NotNil(t, tags)
	require.Equal(t, CacheNA, tags.CacheResult)
	require.Empty(t, tags.Route)
}

func TestGetTags_NilWithoutInject(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	require.Nil(t, GetTags(r))
}

func TestSetters(t *testing.T) {
	r := newTaggedRequest()
	SetRoute(r, "preview")
	SetURL(r, "https://hoge.org")
	SetCacheResult(r.Context(), CacheShared)

	tags := GetTags(r)
	require.Equal(t, "preview", tags.Route)
	require.Equal(t, "https://hoge.org", tags.URL)
	require.Equal(t, CacheShared, tags.CacheResult)
}

func TestSetters_NoopWithoutInject(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	SetRoute(r, "preview")
	SetURL(r, "https://hoge.org")
	SetCacheResult(context.Background(), CacheHit)
	require.Nil(t, GetTags(r))
}

func TestTagsMutationVisibleThroughContext(t *testing.T) {
	r := newTaggedRequest()

	// code below the handler only sees the context
	ctx := context.WithValue(r.Context(), contextKey("other"), "value")
	SetCacheResult(ctx, CacheMiss)

	require.Equal(t, CacheMiss, GetTags(r).CacheResult)
}
