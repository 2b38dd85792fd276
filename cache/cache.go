// Package cache persists preview records keyed by URL.
//
// Each entry is a small JSON document holding the URL and its record, stored
// in a backend.Backend under linkpreview.StorageKey. Backends publish writes
// atomically, so readers see either the previous entry or the new one. An
// entry that cannot be read or decoded is treated as a miss and is replaced
// by the next Store.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/wolfeidau/linkpreview"
	"github.com/wolfeidau/linkpreview/backend"
	"github.com/wolfeidau/linkpreview/telemetry"
)

// CurrentEntryVersion is the entry schema version written by Store.
const CurrentEntryVersion = 1

// ErrCorrupted is returned when an entry exists but cannot be decoded.
var ErrCorrupted = errors.New("corrupted cache entry")

// Entry is the persisted form of a cached record.
type Entry struct {
	Version   int                `json:"version"`
	URL       string             `json:"url"`
	Record    linkpreview.Record `json:"record"`
	CreatedAt time.Time          `json:"created_at"`
}

// Cache stores preview records in a backend.
type Cache struct {
	backend  backend.Backend
	codec    *Codec
	ttl      time.Duration
	emptyTTL time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL expires entries with at least one field set once they are older
// than d. Zero keeps them forever.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		c.ttl = d
	}
}

// WithEmptyTTL expires entries holding the empty record once they are older
// than d, so pages that failed to fetch are retried. Zero keeps them forever.
func WithEmptyTTL(d time.Duration) Option {
	return func(c *Cache) {
		c.emptyTTL = d
	}
}

// WithLogger sets the logger for the cache.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithNow sets the clock used for entry timestamps and expiry.
func WithNow(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a cache on top of b.
func New(b backend.Backend, opts ...Option) (*Cache, error) {
	codec, err := NewCodec()
	if err != nil {
		return nil, err
	}
	c := &Cache{
		backend: b,
		codec:   codec,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases codec resources. It does not close the backend.
func (c *Cache) Close() error {
	c.codec.Close()
	return nil
}

// Lookup returns the cached record for url. The boolean is false when no
// usable entry exists: missing, unreadable, corrupted, written for a
// different URL or expired.
func (c *Cache) Lookup(ctx context.Context, url string) (linkpreview.Record, bool) {
	key := linkpreview.KeyOf(url)
	entry, err := c.read(ctx, linkpreview.StorageKey(key))
	switch {
	case errors.Is(err, backend.ErrNotFound):
		telemetry.RecordCacheLookup(ctx, "miss")
		return linkpreview.Record{}, false
	case errors.Is(err, ErrCorrupted):
		c.logger.Warn("ignoring corrupted cache entry", "url", url, "key", key.ShortString(), "error", err)
		telemetry.RecordCacheLookup(ctx, "corrupt")
		return linkpreview.Record{}, false
	case err != nil:
		c.logger.Warn("reading cache entry failed", "url", url, "key", key.ShortString(), "error", err)
		telemetry.RecordCacheLookup(ctx, "error")
		return linkpreview.Record{}, false
	}

	if entry.URL != url {
		c.logger.Warn("cache key collision", "url", url, "stored_url", entry.URL, "key", key.ShortString())
		telemetry.RecordCacheLookup(ctx, "miss")
		return linkpreview.Record{}, false
	}
	if c.expired(entry) {
		telemetry.RecordCacheLookup(ctx, "expired")
		return linkpreview.Record{}, false
	}

	telemetry.RecordCacheLookup(ctx, "hit")
	return entry.Record, true
}

// Store creates or replaces the entry for url.
func (c *Cache) Store(ctx context.Context, url string, rec linkpreview.Record) (err error) {
	defer func() { telemetry.RecordCacheStore(ctx, err) }()

	entry := Entry{
		Version:   CurrentEntryVersion,
		URL:       url,
		Record:    rec,
		CreatedAt: c.now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	data, err = c.codec.Encode(data)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}

	key := linkpreview.KeyOf(url)
	if err := c.backend.Write(ctx, linkpreview.StorageKey(key), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing cache entry %s: %w", key.ShortString(), err)
	}
	return nil
}

// Delete removes the entry for url. Deleting a missing entry is not an error.
func (c *Cache) Delete(ctx context.Context, url string) error {
	key := linkpreview.KeyOf(url)
	if err := c.backend.Delete(ctx, linkpreview.StorageKey(key)); err != nil {
		return fmt.Errorf("deleting cache entry %s: %w", key.ShortString(), err)
	}
	return nil
}

// List returns every readable entry. Corrupted entries are skipped.
func (c *Cache) List(ctx context.Context) ([]Entry, error) {
	keys, err := c.backend.List(ctx, linkpreview.StoragePrefix())
	if err != nil {
		return nil, fmt.Errorf("listing cache entries: %w", err)
	}

	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		if _, err := linkpreview.ParseStorageKey(k); err != nil {
			continue
		}
		entry, err := c.read(ctx, k)
		if errors.Is(err, backend.ErrNotFound) || errors.Is(err, ErrCorrupted) {
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

// Purge removes expired and corrupted entries, or every entry when all is
// true. It returns the number of entries removed.
func (c *Cache) Purge(ctx context.Context, all bool) (int, error) {
	keys, err := c.backend.List(ctx, linkpreview.StoragePrefix())
	if err != nil {
		return 0, fmt.Errorf("listing cache entries: %w", err)
	}

	removed := 0
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !all {
			entry, err := c.read(ctx, k)
			switch {
			case errors.Is(err, backend.ErrNotFound):
				continue
			case errors.Is(err, ErrCorrupted):
			case err != nil:
				return removed, err
			case !c.expired(entry):
				continue
			}
		}
		if err := c.backend.Delete(ctx, k); err != nil {
			return removed, fmt.Errorf("deleting %s: %w", k, err)
		}
		removed++
	}

	c.logger.Debug("purged cache entries", "removed", removed, "all", all)
	return removed, nil
}

// Expired reports whether entry is past its TTL.
func (c *Cache) Expired(entry Entry) bool {
	return c.expired(&entry)
}

func (c *Cache) expired(entry *Entry) bool {
	ttl := c.ttl
	if entry.Record.IsEmpty() {
		ttl = c.emptyTTL
	}
	if ttl <= 0 {
		return false
	}
	return c.now().Sub(entry.CreatedAt) > ttl
}

func (c *Cache) read(ctx context.Context, key string) (*Entry, error) {
	rc, err := c.backend.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(io.LimitReader(rc, MaxEntrySize+1))
	if err != nil {
		return nil, fmt.Errorf("reading cache entry: %w", err)
	}
	data, err = c.codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if entry.Version != CurrentEntryVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupted, entry.Version)
	}
	return &entry, nil
}
