package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/wolfeidau/linkpreview"
	"github.com/wolfeidau/linkpreview/expiry"
	"github.com/wolfeidau/linkpreview/liquidhost"
	"github.com/wolfeidau/linkpreview/server"
	"github.com/wolfeidau/linkpreview/telemetry"
)

// RenderCmd renders a Liquid template.
type RenderCmd struct {
	Input  string            `arg:"" optional:"" help:"Template file, or - for stdin." default:"-"`
	Output string            `short:"o" help:"Write the result to this file instead of stdout." type:"path"`
	Var    map[string]string `short:"v" help:"Template variable as name=value (repeatable)."`
}

// Run renders the template and writes the result.
func (c *RenderCmd) Run(g *Globals) error {
	ctx := context.Background()
	a, err := g.newApp(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	src, err := readInput(c.Input)
	if err != nil {
		return err
	}

	bindings := make(map[string]any, len(c.Var))
	for k, v := range c.Var {
		bindings[k] = v
	}

	engine := liquidhost.NewEngine(a.tag)
	out, err := engine.ParseAndRenderString(string(src), liquidhost.WithContext(ctx, bindings))
	if err != nil {
		return fmt.Errorf("rendering %s: %w", c.Input, err)
	}

	if c.Output == "" {
		_, err = os.Stdout.WriteString(out)
		return err
	}
	return os.WriteFile(c.Output, []byte(out), 0o644)
}

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// FetchCmd prints the record for a URL.
type FetchCmd struct {
	URL     string `arg:"" help:"URL to preview."`
	NoCache bool   `help:"Fetch even when a cached record exists, and do not store the result."`
}

// Run resolves the record and prints it as JSON.
func (c *FetchCmd) Run(g *Globals) error {
	ctx := context.Background()
	a, err := g.newApp(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	var rec linkpreview.Record
	result := telemetry.CacheBypass
	if c.NoCache {
		rec = a.extractor.Get(ctx, c.URL)
	} else {
		rec, result = a.tag.Preview(ctx, c.URL)
	}
	a.logger.Debug("resolved preview", "url", c.URL, "cache_result", string(result), "empty", rec.IsEmpty())

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

// ServeCmd runs the preview server.
type ServeCmd struct {
	Address    string `help:"Address to listen on." default:":8080" env:"LINKPREVIEW_ADDRESS"`
	AuthToken  string `help:"Require this Bearer token on preview and admin routes." env:"LINKPREVIEW_AUTH_TOKEN"`
	Public     bool   `name:"public-previews" help:"Serve GET /preview and /preview.json without the token." env:"LINKPREVIEW_PUBLIC_PREVIEWS"`
	Prometheus bool   `help:"Expose Prometheus metrics on /metrics." default:"true" negatable:"" env:"LINKPREVIEW_PROMETHEUS"`

	MaxEntries    int           `help:"Evict the oldest previews beyond this many entries. 0 disables." default:"0" env:"LINKPREVIEW_MAX_ENTRIES"`
	PurgeInterval time.Duration `help:"How often expired previews are purged." default:"1h" env:"LINKPREVIEW_PURGE_INTERVAL"`
}

// Run serves until SIGINT or SIGTERM.
func (c *ServeCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := g.newApp(ctx, c.Prometheus)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	srv, err := server.New(server.Config{
		Address:        c.Address,
		AuthToken:      c.AuthToken,
		PublicPreviews: c.Public,
		Tag:            a.tag,
		Cache:          a.cache,
		Logger:         a.logger.With("component", "server"),
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	if g.CacheTTL > 0 || g.EmptyTTL > 0 || c.MaxEntries > 0 {
		expiryMgr := expiry.NewManager(a.cache, expiry.Config{
			MaxEntries:    c.MaxEntries,
			CheckInterval: c.PurgeInterval,
			Logger:        a.logger.With("component", "expiry"),
		})
		a.logger.Info("starting expiry manager",
			"ttl", g.CacheTTL,
			"empty_ttl", g.EmptyTTL,
			"max_entries", c.MaxEntries,
			"check_interval", c.PurgeInterval,
		)
		if err := expiryMgr.Start(ctx); err != nil {
			return fmt.Errorf("starting expiry manager: %w", err)
		}
		defer expiryMgr.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	a.logger.Info("server started",
		"address", srv.Address(),
		"preview_url", fmt.Sprintf("http://localhost%s/preview?url=https://github.com", srv.Address()),
	)

	select {
	case <-ctx.Done():
		a.logger.Info("received signal, shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// CacheCmd groups cache maintenance commands.
type CacheCmd struct {
	List   CacheListCmd   `cmd:"" help:"List cached previews."`
	Delete CacheDeleteCmd `cmd:"" help:"Remove cached previews so they are fetched again."`
	Purge  CachePurgeCmd  `cmd:"" help:"Remove expired and corrupted entries."`
}

// CacheListCmd lists cache entries.
type CacheListCmd struct {
	JSON bool `help:"Print entries as JSON lines."`
}

// Run prints every entry.
func (c *CacheListCmd) Run(g *Globals) error {
	ctx := context.Background()
	a, err := g.newApp(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	entries, err := a.cache.List(ctx)
	if err != nil {
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CREATED\tSTATUS\tURL\tTITLE")
	for _, e := range entries {
		status := "ok"
		switch {
		case a.cache.Expired(e):
			status = "expired"
		case e.Record.IsEmpty():
			status = "empty"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format(time.DateTime), status, e.URL, linkpreview.Value(e.Record.Title))
	}
	return tw.Flush()
}

// CacheDeleteCmd deletes entries by URL.
type CacheDeleteCmd struct {
	URLs []string `arg:"" name:"url" help:"URLs to forget."`
}

// Run deletes each entry.
func (c *CacheDeleteCmd) Run(g *Globals) error {
	ctx := context.Background()
	a, err := g.newApp(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	for _, u := range c.URLs {
		if err := a.cache.Delete(ctx, u); err != nil {
			return err
		}
		a.logger.Info("deleted cache entry", "url", u)
	}
	return nil
}

// CachePurgeCmd removes stale entries.
type CachePurgeCmd struct {
	All bool `help:"Remove every entry, not only expired ones."`
}

// Run purges the cache.
func (c *CachePurgeCmd) Run(g *Globals) error {
	ctx := context.Background()
	a, err := g.newApp(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	removed, err := a.cache.Purge(ctx, c.All)
	if err != nil {
		return err
	}
	a.logger.Info("purged cache", "removed", removed)
	return nil
}
