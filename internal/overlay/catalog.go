package overlay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/metrics"
)

// DefaultSourceURL is the CelesTrak group fetched when no source is configured.
const DefaultSourceURL = "https://celestrak.org/NORAD/elements/gp.php?GROUP=stations&FORMAT=tle"

// maxBodyBytes caps a single catalog download.
const maxBodyBytes = 50 << 20

// Dataset is one fetched TLE catalog.
type Dataset struct {
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
	Entries   []Entry   `json:"entries"`
}

// Fetcher retrieves raw TLE text from a remote source.
type Fetcher struct {
	sourceURL  string
	httpClient *http.Client
}

// NewFetcher creates a Fetcher for the given source URL.
func NewFetcher(sourceURL string) *Fetcher {
	if sourceURL == "" {
		sourceURL = DefaultSourceURL
	}
	return &Fetcher{
		sourceURL: sourceURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SourceURL returns the configured source URL.
func (f *Fetcher) SourceURL() string {
	return f.sourceURL
}

// Fetch performs an HTTP GET to retrieve raw TLE data.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching TLE data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, f.sourceURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("response from %s exceeds %d byte limit", f.sourceURL, maxBodyBytes)
	}
	return body, nil
}

// Catalog holds the most recently fetched dataset.
type Catalog struct {
	dataset atomic.Pointer[Dataset]
	mu      sync.Mutex // serializes refreshes

	fetcher *Fetcher
	archive *Archive
	logger  *slog.Logger
}

// NewCatalog creates an empty catalog fed by fetcher.
func NewCatalog(fetcher *Fetcher, logger *slog.Logger) *Catalog {
	return &Catalog{fetcher: fetcher, logger: logger}
}

// WithArchive makes Refresh persist every successful fetch to a and enables
// LoadArchived.
func (c *Catalog) WithArchive(a *Archive) *Catalog {
	c.archive = a
	return c
}

// LoadArchived installs the newest archived fetch. It is meant for startup,
// before the first Refresh.
func (c *Catalog) LoadArchived() (*Dataset, error) {
	if c.archive == nil {
		return nil, ErrNoArchive
	}
	data, fetchedAt, err := c.archive.Latest()
	if err != nil {
		return nil, err
	}
	entries, err := Parse(bytes.NewReader(data), c.logger)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: archived catalog is empty", ErrInvalidTLE)
	}

	ds := &Dataset{Source: "archive", FetchedAt: fetchedAt, Entries: entries}
	c.store(ds)
	c.logger.Info("loaded TLE catalog from archive",
		"count", len(entries),
		"fetched_at", fetchedAt.Format(time.RFC3339),
	)
	return ds, nil
}

func (c *Catalog) store(ds *Dataset) {
	c.dataset.Store(ds)
	metrics.SetCatalogEntries(len(ds.Entries))
}

// Get returns the current dataset, or nil if none has been loaded.
func (c *Catalog) Get() *Dataset {
	return c.dataset.Load()
}

// Refresh fetches and parses the source, replacing the current dataset only
// when at least one entry parsed.
func (c *Catalog) Refresh(ctx context.Context) (*Dataset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	data, err := c.fetcher.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := Parse(bytes.NewReader(data), c.logger)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no entries in %s", ErrInvalidTLE, c.fetcher.SourceURL())
	}

	ds := &Dataset{Source: c.fetcher.SourceURL(), FetchedAt: time.Now().UTC(), Entries: entries}
	c.store(ds)
	if c.archive != nil {
		if err := c.archive.Write(data, ds.FetchedAt); err != nil {
			c.logger.Warn("failed to archive TLE catalog", "error", err)
		}
	}
	c.logger.Info("TLE catalog refreshed",
		"source", ds.Source,
		"count", len(entries),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return ds, nil
}

// Select returns the catalog entries with the given NORAD ids, or every entry
// when ids is empty.
func (c *Catalog) Select(ids []int) []Entry {
	ds := c.Get()
	if ds == nil {
		return nil
	}
	if len(ids) == 0 {
		return ds.Entries
	}
	want := make(map[int]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []Entry
	for _, e := range ds.Entries {
		if want[e.NORADID] {
			out = append(out, e)
		}
	}
	return out
}
