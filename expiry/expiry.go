// Package expiry runs periodic maintenance on the preview cache: expired and
// corrupted entries are purged, and the oldest entries are evicted once the
// cache holds more than a configured number of previews.
package expiry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/wolfeidau/linkpreview/cache"
)

// Cache is the part of cache.Cache the manager maintains.
type Cache interface {
	List(ctx context.Context) ([]cache.Entry, error)
	Delete(ctx context.Context, url string) error
	Purge(ctx context.Context, all bool) (int, error)
}

// Config holds expiration configuration.
type Config struct {
	// MaxEntries is the maximum number of cached previews.
	// When exceeded, the oldest entries are evicted until under the limit.
	// Zero means no limit.
	MaxEntries int

	// CheckInterval is how often to run expiration checks.
	// Default is 1 hour.
	CheckInterval time.Duration

	// Logger for expiration events.
	Logger *slog.Logger
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		CheckInterval: 1 * time.Hour,
		Logger:        slog.Default(),
	}
}

// Manager handles cache expiration.
type Manager struct {
	config Config
	cache  Cache
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewManager creates a new expiration manager.
func NewManager(c Cache, cfg Config) *Manager {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 1 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Manager{
		config: cfg,
		cache:  c,
		logger: cfg.Logger,
		now:    time.Now,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins background expiration checks.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped || m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.mu.Unlock()

	go m.run(ctx)
	return nil
}

// Stop stops background expiration checks.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running || m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	close(m.stopCh)
	<-m.doneCh
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	// Run immediately on start
	m.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.runOnce(ctx)
		}
	}
}

// RunOnce performs a single expiration check.
func (m *Manager) RunOnce(ctx context.Context) *ExpireResult {
	return m.runOnce(ctx)
}

// ExpireResult contains the results of an expiration run.
type ExpireResult struct {
	Purged   int
	Evicted  int
	Errors   int
	Duration time.Duration
}

func (m *Manager) runOnce(ctx context.Context) *ExpireResult {
	start := m.now()
	result := &ExpireResult{}

	m.logger.Debug("starting expiration check")

	// Phase 1: expired and corrupted entries
	purged, err := m.cache.Purge(ctx, false)
	result.Purged = purged
	if err != nil {
		m.logger.Error("failed to purge cache", "error", err)
		result.Errors++
	}

	// Phase 2: oldest entries while over the limit
	if m.config.MaxEntries > 0 {
		evicted, errs := m.evictOldest(ctx)
		result.Evicted = evicted
		result.Errors += errs
	}

	result.Duration = m.now().Sub(start)

	if result.Purged > 0 || result.Evicted > 0 {
		m.logger.Info("expiration complete",
			"purged", result.Purged,
			"evicted", result.Evicted,
			"duration", result.Duration,
		)
	} else {
		m.logger.Debug("expiration complete, nothing to expire")
	}

	return result
}

func (m *Manager) evictOldest(ctx context.Context) (evicted, errs int) {
	entries, err := m.cache.List(ctx)
	if err != nil {
		m.logger.Error("failed to list cache entries", "error", err)
		return 0, 1
	}

	excess := len(entries) - m.config.MaxEntries
	if excess <= 0 {
		return 0, 0
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	for _, e := range entries[:excess] {
		if err := ctx.Err(); err != nil {
			return evicted, errs
		}
		if err := m.cache.Delete(ctx, e.URL); err != nil {
			m.logger.Warn("failed to evict cache entry", "url", e.URL, "error", err)
			errs++
			continue
		}
		m.logger.Debug("evicted cache entry", "url", e.URL, "created_at", e.CreatedAt)
		evicted++
	}
	return evicted, errs
}
