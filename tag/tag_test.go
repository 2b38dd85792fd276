package tag

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/linkpreview"
	"github.com/wolfeidau/linkpreview/backend"
	"github.com/wolfeidau/linkpreview/cache"
	"github.com/wolfeidau/linkpreview/telemetry"
)

// fakeExtractor returns canned records and counts calls per URL.
type fakeExtractor struct {
	mu      sync.Mutex
	records map[string]linkpreview.Record
	calls   map[string]int
	delay   time.Duration
}

func newFakeExtractor(records map[string]linkpreview.Record) *fakeExtractor {
	return &fakeExtractor{records: records, calls: make(map[string]int)}
}

func (f *fakeExtractor) Get(ctx context.Context, url string) linkpreview.Record {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	// unknown URLs behave like unreachable pages
	return f.records[url]
}

func (f *fakeExtractor) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// failingStore never persists anything.
type failingStore struct{}

func (failingStore) Lookup(ctx context.Context, url string) (linkpreview.Record, bool) {
	return linkpreview.Record{}, false
}

func (failingStore) Store(ctx context.Context, url string, rec linkpreview.Record) error {
	return errors.New("permission denied")
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	fs, err := backend.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	c, err := cache.New(fs)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func github() linkpreview.Record {
	return linkpreview.Record{
		Title:       linkpreview.String("GitHub: Let's build from here"),
		URL:         linkpreview.String("https://github.com/"),
		Domain:      linkpreview.String("github.com"),
		Image:       linkpreview.String("https://github.githubassets.com/images/modules/open_graph/github-logo.png"),
		Description: linkpreview.String("GitHub is where over 100 million developers shape the future of software."),
	}
}

func TestParse_TrimsMarkup(t *testing.T) {
	tg := New(newFakeExtractor(nil))

	inv := tg.Parse("https://github.com  ")
	require.Equal(t, "https://github.com", inv.Markup)
	require.Equal(t, "https://github.com", tg.Resolve(inv, nil))

	inv = tg.Parse("\n\t https://github.com \n")
	require.Equal(t, "https://github.com", tg.Resolve(inv, nil))
}

func TestResolve(t *testing.T) {
	vars := Bindings{
		"url":   "https://github.com",
		"page":  map[string]any{"link": "https://hoge.org/foo"},
		"num":   42,
		"pad":   "  https://padded.example  ",
		"none":  nil,
		"links": []any{"https://github.com", map[string]any{"href": "https://hoge.org/foo"}},
		"site": map[string]any{
			"links": []string{"https://github.com", "https://hoge.org/bar"},
			"grid":  []any{[]any{"https://a.example"}, []any{"https://b.example", "https://c.example"}},
			"cards": []map[string]any{{"url": "https://card.example"}},
		},
	}
	tests := []struct {
		name   string
		markup string
		want   string
	}{
		{name: "bare url literal", markup: "https://github.com", want: "https://github.com"},
		{name: "double quoted literal", markup: `"https://github.com"`, want: "https://github.com"},
		{name: "single quoted literal", markup: `'https://github.com'`, want: "https://github.com"},
		{name: "quoted literal with padding", markup: `" https://github.com "`, want: "https://github.com"},
		{name: "variable", markup: "url", want: "https://github.com"},
		{name: "dotted variable", markup: "page.link", want: "https://hoge.org/foo"},
		{name: "non-string value", markup: "num", want: "42"},
		{name: "padded value", markup: "pad", want: "https://padded.example"},
		{name: "nil value", markup: "none", want: ""},
		{name: "unbound variable", markup: "missing", want: ""},
		{name: "unbound nested variable", markup: "page.missing.deeper", want: ""},
		{name: "indexed variable", markup: "links[0]", want: "https://github.com"},
		{name: "indexed then dotted", markup: "links[1].href", want: "https://hoge.org/foo"},
		{name: "indexed string list", markup: "site.links[1]", want: "https://hoge.org/bar"},
		{name: "nested index", markup: "site.grid[1][1]", want: "https://c.example"},
		{name: "indexed map list", markup: "site.cards[0].url", want: "https://card.example"},
		{name: "index out of range", markup: "site.links[2]", want: ""},
		{name: "index into map", markup: "page[0]", want: ""},
		{name: "empty markup", markup: "", want: ""},
	}
	tg := New(newFakeExtractor(nil))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tg.Resolve(tg.Parse(tt.markup), vars))
		})
	}
}

func TestResolve_ContextFunc(t *testing.T) {
	tg := New(newFakeExtractor(nil))
	vars := ContextFunc(func(name string) (any, bool) {
		if name == "url" {
			return "https://github.com", true
		}
		return nil, false
	})
	require.Equal(t, "https://github.com", tg.Resolve(tg.Parse("url"), vars))
	require.Empty(t, tg.Resolve(tg.Parse("other"), vars))
}

func TestRender_Literal(t *testing.T) {
	ext := newFakeExtractor(map[string]linkpreview.Record{"https://github.com": github()})
	tg := New(ext, WithStore(newTestCache(t)))

	out := tg.Render(context.Background(), tg.Parse("https://github.com  "), nil)
	require.Contains(t, out, "GitHub: Let&#39;s build from here")
	require.Contains(t, out, `<img src="https://github.githubassets.com/images/modules/open_graph/github-logo.png" />`)
	require.Contains(t, out, `href="//github.com"`)
	require.Equal(t, 1, ext.Calls("https://github.com"))
}

func TestRender_Variable(t *testing.T) {
	ext := newFakeExtractor(map[string]linkpreview.Record{"https://github.com": github()})
	tg := New(ext, WithStore(newTestCache(t)))

	out := tg.Render(context.Background(), tg.Parse("url"), Bindings{"url": "https://github.com"})
	require.Contains(t, out, "linkpreview-title")
	require.Equal(t, 1, ext.Calls("https://github.com"))
}

func TestRender_UnboundVariable(t *testing.T) {
	ext := newFakeExtractor(nil)
	tg := New(ext, WithStore(newTestCache(t)))

	out := tg.Render(context.Background(), tg.Parse("missing"), Bindings{})
	require.Empty(t, out)
	require.Equal(t, 1, ext.Calls(""))
}

func TestRender_Unreachable(t *testing.T) {
	ext := newFakeExtractor(nil)
	tg := New(ext, WithStore(newTestCache(t)))
	ctx := context.Background()

	t.Run("literal", func(t *testing.T) {
		out := tg.Render(ctx, tg.Parse("https://unreachable.example"), nil)
		require.Equal(t, `<div class="linkpreview-wrapper"><a href="https://unreachable.example" target="_blank">https://unreachable.example</a></div>`, out)
	})

	t.Run("variable", func(t *testing.T) {
		out := tg.Render(ctx, tg.Parse("url"), Bindings{"url": "https://down.example"})
		require.Contains(t, out, "https://down.example")
	})

	t.Run("loop", func(t *testing.T) {
		urls := []string{"https://one.example", "https://two.example", "https://three.example"}
		inv := tg.Parse("url")
		for _, u := range urls {
			out := tg.Render(ctx, inv, Bindings{"url": u})
			require.Contains(t, out, u)
		}
		for _, u := range urls {
			require.Equal(t, 1, ext.Calls(u))
		}
	})
}

func TestRender_LoopMixesFetchedAndCached(t *testing.T) {
	ext := newFakeExtractor(map[string]linkpreview.Record{
		"https://github.com": github(),
		"https://hoge.org":   {Title: linkpreview.String("hoge")},
	})
	tg := New(ext, WithStore(newTestCache(t)))
	ctx := context.Background()
	inv := tg.Parse("url")

	outs := make([]string, 0, 4)
	for _, u := range []string{"https://github.com", "https://hoge.org", "https://github.com", "https://hoge.org"} {
		outs = append(outs, tg.Render(ctx, inv, Bindings{"url": u}))
	}

	require.Equal(t, outs[0], outs[2])
	require.Equal(t, outs[1], outs[3])
	require.NotContains(t, outs[1], "GitHub", "no state leaks between iterations")
	require.Equal(t, 1, ext.Calls("https://github.com"))
	require.Equal(t, 1, ext.Calls("https://hoge.org"))
}

func TestRender_CacheMissThenStore(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	ext := newFakeExtractor(map[string]linkpreview.Record{"https://github.com": github()})
	tg := New(ext, WithStore(c))

	_, ok := c.Lookup(ctx, "https://github.com")
	require.False(t, ok)

	rec, result := tg.Preview(ctx, "https://github.com")
	require.Equal(t, telemetry.CacheMiss, result)
	require.True(t, github().Equal(rec))

	cached, ok := c.Lookup(ctx, "https://github.com")
	require.True(t, ok)
	require.True(t, github().Equal(cached))

	rec, result = tg.Preview(ctx, "https://github.com")
	require.Equal(t, telemetry.CacheHit, result)
	require.True(t, github().Equal(rec))
	require.Equal(t, 1, ext.Calls("https://github.com"))
}

func TestRender_EmptyRecordIsCached(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	ext := newFakeExtractor(nil)
	tg := New(ext, WithStore(c))

	first := tg.Render(ctx, tg.Parse("https://unreachable.example"), nil)
	second := tg.Render(ctx, tg.Parse("https://unreachable.example"), nil)
	require.Equal(t, first, second)

	// a failed fetch stays cached until the entry is removed
	require.Equal(t, 1, ext.Calls("https://unreachable.example"))
	rec, ok := c.Lookup(ctx, "https://unreachable.example")
	require.True(t, ok)
	require.True(t, rec.IsEmpty())

	require.NoError(t, c.Delete(ctx, "https://unreachable.example"))
	tg.Render(ctx, tg.Parse("https://unreachable.example"), nil)
	require.Equal(t, 2, ext.Calls("https://unreachable.example"))
}

func TestRender_StoreFailureStillRenders(t *testing.T) {
	ext := newFakeExtractor(map[string]linkpreview.Record{"https://github.com": github()})
	tg := New(ext, WithStore(failingStore{}))

	out := tg.Render(context.Background(), tg.Parse("https://github.com"), nil)
	require.Contains(t, out, "linkpreview-title")
}

func TestRender_WithoutStore(t *testing.T) {
	ext := newFakeExtractor(map[string]linkpreview.Record{"https://github.com": github()})
	tg := New(ext)
	ctx := context.Background()

	_, result := tg.Preview(ctx, "https://github.com")
	require.Equal(t, telemetry.CacheBypass, result)
	tg.Render(ctx, tg.Parse("https://github.com"), nil)
	require.Equal(t, 2, ext.Calls("https://github.com"))
}

func TestRender_ConcurrentSameURL(t *testing.T) {
	ext := newFakeExtractor(map[string]linkpreview.Record{"https://github.com": github()})
	ext.delay = 50 * time.Millisecond
	tg := New(ext, WithStore(newTestCache(t)))

	var wg sync.WaitGroup
	var rendered atomic.Int32
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := tg.Render(context.Background(), tg.Parse("https://github.com"), nil)
			if assert.Contains(t, out, "linkpreview-title") {
				rendered.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(10), rendered.Load())
	require.Equal(t, 1, ext.Calls("https://github.com"))
}

func TestRender_CanceledContext(t *testing.T) {
	ext := newFakeExtractor(map[string]linkpreview.Record{"https://github.com": github()})
	ext.delay = 100 * time.Millisecond
	c := newTestCache(t)
	tg := New(ext, WithStore(c))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	out := tg.Render(ctx, tg.Parse("https://github.com"), nil)
	require.Equal(t, `<div class="linkpreview-wrapper"><a href="https://github.com" target="_blank">https://github.com</a></div>`, out)

	// the fetch outlives the caller and still fills the cache
	require.Eventually(t, func() bool {
		_, ok := c.Lookup(context.Background(), "https://github.com")
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestRender_FormatterErrorFallsBack(t *testing.T) {
	ext := newFakeExtractor(map[string]linkpreview.Record{"https://github.com": github()})
	broken := FormatterFunc(func(p Preview) (string, error) {
		return "", errors.New("template exploded")
	})
	tg := New(ext, WithFormatter(broken))

	out := tg.Render(context.Background(), tg.Parse("https://github.com"), nil)
	require.Contains(t, out, "linkpreview-title")
}

func TestRender_TagsCacheResult(t *testing.T) {
	ext := newFakeExtractor(map[string]linkpreview.Record{"https://github.com": github()})
	tg := New(ext, WithStore(newTestCache(t)))

	tags := &telemetry.RequestTags{CacheResult: telemetry.CacheNA}
	ctx := telemetry.WithTags(context.Background(), tags)

	tg.Render(ctx, tg.Parse("https://github.com"), nil)
	require.Equal(t, telemetry.CacheMiss, tags.CacheResult)

	tg.Render(ctx, tg.Parse("https://github.com"), nil)
	require.Equal(t, telemetry.CacheHit, tags.CacheResult)
}
