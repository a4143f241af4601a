package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"fixturecal/internal/fsutil"
	appLog "fixturecal/internal/log"
)

// Feed is one fixture subscription.
type Feed struct {
	ID  string
	URL string
}

// FetchResult is the body of one feed, fresh or from the disk cache.
type FetchResult struct {
	Feed      Feed
	Body      []byte
	FromCache bool
}

// cacheEntry holds HTTP cache metadata for a single feed URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads feeds with conditional requests (ETag and
// Last-Modified) and keeps the last good body on disk, which it falls
// back to when the origin is unreachable or erroring.
type Fetcher struct {
	client   *http.Client
	cacheDir string
	log      *appLog.Logger
}

type FetcherOption func(*Fetcher)

func WithHTTPClient(c *http.Client) FetcherOption { return func(f *Fetcher) { f.client = c } }

func WithFetchLogger(l *appLog.Logger) FetcherOption { return func(f *Fetcher) { f.log = l } }

// NewFetcher stores per-URL cache entries under cacheDir.
func NewFetcher(cacheDir string, opts ...FetcherOption) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/feed-cache"
	}
	f := &Fetcher{
		client:   &http.Client{Timeout: 15 * time.Second},
		cacheDir: cacheDir,
		log:      appLog.Discard(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads one feed, honoring the cache.
func (f *Fetcher) Fetch(ctx context.Context, feed Feed) (FetchResult, error) {
	if feed.URL == "" {
		return FetchResult{}, errors.New("feed URL is empty")
	}

	cachePath := f.cachePathForURL(feed.URL)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return FetchResult{}, err
	}
	meta, _ := loadCacheMeta(cachePath)
	cachedBody, _ := os.ReadFile(filepath.Join(cachePath, "body.ics"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if meta.URL == feed.URL {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	cached := FetchResult{Feed: feed, Body: cachedBody, FromCache: true}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cachedBody) > 0 {
			f.log.Error("feed fetch failed, using cached body", err, "feed", feed.ID, "url", redactURL(feed.URL))
			return cached, nil
		}
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return FetchResult{}, err
		}
		entry := cacheEntry{
			URL:          feed.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			UpdatedAt:    time.Now().UTC(),
		}
		if err := saveCache(cachePath, entry, body); err != nil {
			f.log.Error("feed cache save failed", err, "feed", feed.ID)
		}
		f.log.Debug("feed fetched", "feed", feed.ID, "url", redactURL(feed.URL), "bytes", len(body))
		return FetchResult{Feed: feed, Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, errors.New("received 304 Not Modified but no cached body available")
		}
		f.log.Debug("feed not modified", "feed", feed.ID)
		return cached, nil

	default:
		if len(cachedBody) > 0 {
			f.log.Error("feed fetch non-OK, using cached body", errors.New(resp.Status), "feed", feed.ID, "url", redactURL(feed.URL))
			return cached, nil
		}
		return FetchResult{}, fmt.Errorf("fetch %s: %s", redactURL(feed.URL), resp.Status)
	}
}

func (f *Fetcher) cachePathForURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

// saveCache writes the body before the metadata so meta never points at
// a missing body.
func saveCache(cachePath string, meta cacheEntry, body []byte) error {
	if err := fsutil.WriteFileAtomic(filepath.Join(cachePath, "body.ics"), body, ".body-*.tmp"); err != nil {
		return err
	}
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(filepath.Join(cachePath, "meta.json"), data, ".meta-*.tmp")
}

// redactURL keeps only scheme and host so tokens in feed URLs stay out of
// logs: https://example.com/private.ics?token=x -> https://example.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "ics://...(redacted)"
	}
	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}
	return u[:j] + redactedSuffix
}
