package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"

	"github.com/wolfeidau/linkpreview/backend"
	"github.com/wolfeidau/linkpreview/cache"
	"github.com/wolfeidau/linkpreview/fetch"
	"github.com/wolfeidau/linkpreview/opengraph"
	"github.com/wolfeidau/linkpreview/tag"
	"github.com/wolfeidau/linkpreview/telemetry"
)

// newLogger builds the logger selected by level and format.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "tint":
		handler = tint.NewHandler(w, &tint.Options{Level: lvl, TimeFormat: time.Kitchen})
	case "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	return slog.New(handler), nil
}

// app holds the components a command runs with.
type app struct {
	logger    *slog.Logger
	backend   backend.Backend
	cache     *cache.Cache
	extractor *opengraph.Properties
	tag       *tag.Tag
	closers   []func() error
}

// newApp wires the cache, fetcher and tag from the global flags. Logs go to
// stderr so command output on stdout stays clean.
func (g *Globals) newApp(ctx context.Context, enablePrometheus bool) (*app, error) {
	logger, err := newLogger(os.Stderr, g.LogLevel, g.LogFormat)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	a := &app{logger: logger}

	if g.OTLPEndpoint != "" || enablePrometheus {
		shutdown, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
			ServiceName:      "linkpreview",
			ServiceVersion:   version,
			OTLPEndpoint:     g.OTLPEndpoint,
			EnablePrometheus: enablePrometheus,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing metrics: %w", err)
		}
		a.closers = append(a.closers, func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return shutdown(shutdownCtx)
		})
	}

	if err := a.openCache(g); err != nil {
		_ = a.Close()
		return nil, err
	}

	fetchOpts := []fetch.Option{
		fetch.WithTimeout(g.FetchTimeout),
		fetch.WithMaxBodyBytes(g.MaxBodyBytes),
		fetch.WithLogger(logger.With("component", "fetch")),
	}
	if g.UserAgent != "" {
		fetchOpts = append(fetchOpts, fetch.WithUserAgent(g.UserAgent))
	}
	a.extractor = opengraph.New(
		opengraph.NewFetchSource(fetch.NewHTTPFetcher(fetchOpts...)),
		opengraph.WithLogger(logger.With("component", "opengraph")),
	)

	tagOpts := []tag.Option{
		tag.WithStore(a.cache),
		tag.WithLogger(logger.With("component", "tag")),
	}
	if g.Template != "" {
		src, err := os.ReadFile(g.Template)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("reading template: %w", err)
		}
		f, err := tag.NewLiquidFormatter(string(src))
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		tagOpts = append(tagOpts, tag.WithFormatter(f))
	}
	a.tag = tag.New(a.extractor, tagOpts...)

	return a, nil
}

func (a *app) openCache(g *Globals) error {
	var b backend.Backend
	switch g.CacheBackend {
	case "bolt":
		if err := os.MkdirAll(g.CacheDir, 0o755); err != nil {
			return fmt.Errorf("creating cache directory: %w", err)
		}
		bolt, err := backend.OpenBolt(filepath.Join(g.CacheDir, "previews.db"),
			backend.WithBoltLogger(a.logger.With("component", "bolt")))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, bolt.Close)
		b = bolt
	default:
		fs, err := backend.NewFilesystem(g.CacheDir)
		if err != nil {
			return err
		}
		b = fs
	}
	a.backend = backend.NewInstrumentedBackend(b, g.CacheBackend)

	c, err := cache.New(a.backend,
		cache.WithTTL(g.CacheTTL),
		cache.WithEmptyTTL(g.EmptyTTL),
		cache.WithLogger(a.logger.With("component", "cache")),
	)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, c.Close)
	a.cache = c
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
