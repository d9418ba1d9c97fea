// Package cache memoizes orbit propagations keyed by a snapshot of their
// inputs. Re-propagation is always full; the cache only avoids repeating an
// identical request.
package cache

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/metrics"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/orbit"
)

// Config holds cache configuration.
type Config struct {
	MaxEntries int           // Upper bound on cached results (default: 64)
	TTL        time.Duration // Age after which entries are evicted (default: 10m)
}

// Snapshot is the comparable form of every input that affects a propagation.
type Snapshot struct {
	Elements        orbit.Elements
	Resonance       orbit.ResonanceSpec
	SamplesPerOrbit float64
	EpochUnixNano   int64
	OrbitCount      int
	Kepler          orbit.KeplerOptions
}

// SnapshotOf captures cfg. The caller-supplied timeline buffer is not part of
// the snapshot since it never changes the result.
func SnapshotOf(cfg orbit.Config) Snapshot {
	return Snapshot{
		Elements:        cfg.Elements,
		Resonance:       cfg.Resonance,
		SamplesPerOrbit: cfg.SamplesPerOrbit,
		EpochUnixNano:   cfg.Epoch.UnixNano(),
		OrbitCount:      cfg.OrbitCount,
		Kepler:          cfg.Kepler,
	}
}

// cacheable reports whether s can ever be found again: NaN fields never
// compare equal, so such snapshots would only occupy slots.
func (s Snapshot) cacheable() bool {
	e := s.Elements
	for _, v := range []float64{e.SemiMajorKm, e.Eccentricity, e.InclinationDeg, e.RAANDeg, e.ArgPerigeeDeg, e.MeanAnomalyDeg, s.SamplesPerOrbit, s.Kepler.HighEccentricitySeed} {
		if math.IsNaN(v) {
			return false
		}
	}
	return true
}

// Entry wraps a result with generation metadata.
type Entry struct {
	Result      orbit.Result
	GeneratedAt time.Time
}

// PropagationCache is a bounded, TTL-evicted map of propagation results.
// Cached results are shared between callers and must be treated as read-only.
// Safe for concurrent use by multiple goroutines.
type PropagationCache struct {
	mu      sync.RWMutex
	entries map[Snapshot]*Entry

	config Config
	logger *slog.Logger
	now    func() time.Time

	// Counters (lock-free).
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New creates a propagation cache, applying defaults for zero config fields.
func New(config Config, logger *slog.Logger) *PropagationCache {
	if config.MaxEntries <= 0 {
		config.MaxEntries = 64
	}
	if config.TTL <= 0 {
		config.TTL = 10 * time.Minute
	}
	logger.Info("propagation cache initialized",
		"max_entries", config.MaxEntries,
		"ttl_seconds", config.TTL.Seconds(),
	)
	return &PropagationCache{
		entries: make(map[Snapshot]*Entry),
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// Propagate returns the cached result for cfg, computing and storing it on a
// miss. The boolean reports a cache hit.
func (c *PropagationCache) Propagate(cfg orbit.Config) (orbit.Result, bool) {
	snap := SnapshotOf(cfg)
	if res, ok := c.Get(snap); ok {
		return res, true
	}

	// Never hand a caller buffer to a result other callers may share.
	cfg.Timeline = nil

	start := time.Now()
	res := orbit.Propagate(cfg)
	metrics.RecordPropagation(time.Since(start), len(res.Samples))

	if snap.cacheable() {
		c.put(snap, res)
	}
	return res, false
}

// Get looks up a snapshot. Entries past the TTL count as misses even before
// the eviction loop removes them.
func (c *PropagationCache) Get(s Snapshot) (orbit.Result, bool) {
	c.mu.RLock()
	entry, ok := c.entries[s]
	c.mu.RUnlock()

	if ok && c.now().Sub(entry.GeneratedAt) > c.config.TTL {
		ok = false
	}
	if ok {
		c.hits.Add(1)
		metrics.RecordCacheLookup(true)
		return entry.Result, true
	}

	c.misses.Add(1)
	metrics.RecordCacheLookup(false)
	return orbit.Result{}, false
}

// put stores a result, evicting the oldest entry when full. Caller must not
// hold mu.
func (c *PropagationCache) put(s Snapshot, res orbit.Result) {
	entry := &Entry{Result: res, GeneratedAt: c.now()}

	c.mu.Lock()
	if _, exists := c.entries[s]; !exists && len(c.entries) >= c.config.MaxEntries {
		c.evictOldestLocked()
	}
	c.entries[s] = entry
	count := len(c.entries)
	c.mu.Unlock()

	metrics.SetCacheEntries(count)
}

func (c *PropagationCache) evictOldestLocked() {
	var (
		oldestKey Snapshot
		oldest    time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.GeneratedAt.Before(oldest) {
			oldestKey, oldest, found = k, e.GeneratedAt, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
		c.evictions.Add(1)
	}
}

// EvictExpired removes entries older than the TTL.
func (c *PropagationCache) EvictExpired() int {
	cutoff := c.now().Add(-c.config.TTL)
	var removed int

	c.mu.Lock()
	for k, e := range c.entries {
		if e.GeneratedAt.Before(cutoff) {
			delete(c.entries, k)
			removed++
		}
	}
	count := len(c.entries)
	c.mu.Unlock()

	if removed > 0 {
		c.evictions.Add(int64(removed))
		metrics.SetCacheEntries(count)
		c.logger.Debug("cache eviction", "entries_removed", removed)
	}
	return removed
}

// Start runs the eviction loop until ctx is cancelled.
func (c *PropagationCache) Start(ctx context.Context) {
	ticker := time.NewTicker(max(c.config.TTL/4, time.Second))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("cache eviction loop stopped")
			return
		case <-ticker.C:
			c.EvictExpired()
		}
	}
}

// Stats holds cache statistics for the stats endpoint.
type Stats struct {
	Entries    int       `json:"entries"`
	MaxEntries int       `json:"max_entries"`
	Oldest     time.Time `json:"oldest"`
	Newest     time.Time `json:"newest"`
	Hits       int64     `json:"hits"`
	Misses     int64     `json:"misses"`
	Evictions  int64     `json:"evictions"`
}

// Stats returns current cache statistics.
func (c *PropagationCache) Stats() Stats {
	c.mu.RLock()
	count := len(c.entries)
	var oldest, newest time.Time
	for _, e := range c.entries {
		if oldest.IsZero() || e.GeneratedAt.Before(oldest) {
			oldest = e.GeneratedAt
		}
		if newest.IsZero() || e.GeneratedAt.After(newest) {
			newest = e.GeneratedAt
		}
	}
	c.mu.RUnlock()

	return Stats{
		Entries:    count,
		MaxEntries: c.config.MaxEntries,
		Oldest:     oldest,
		Newest:     newest,
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Evictions:  c.evictions.Load(),
	}
}
