// Package icsimport pulls external ICS subscriptions into the event store as
// public events. Recurrence rules are kept as raw RRULE text so imported
// events expand at read time exactly like native ones.
package icsimport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	appLog "tribecal/internal/log"
)

// Source represents a single ICS subscription source.
type Source struct {
	// ID is an internal identifier (config ICS ID), also used to derive
	// stable imported-event ids.
	ID string
	// URL is the ICS endpoint.
	URL string
	// OwnerID is the platform user imported events are attributed to.
	OwnerID string
}

// cacheEntry holds the HTTP cache state for one URL.
type cacheEntry struct {
	etag         string
	lastModified string
	body         []byte
	updatedAt    time.Time
}

// Fetcher fetches ICS feeds with conditional requests (ETag/Last-Modified)
// and an in-memory body cache, so unchanged feeds cost one 304 round trip.
type Fetcher struct {
	client *http.Client

	mu    sync.Mutex
	cache map[string]*cacheEntry
}

func NewFetcher() *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		cache: make(map[string]*cacheEntry),
	}
}

// Fetch returns the ICS payload for src. The second return is true when the
// cached body was reused after a 304.
func (f *Fetcher) Fetch(ctx context.Context, src Source) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("building request: %w", err)
	}

	f.mu.Lock()
	cached := f.cache[src.URL]
	f.mu.Unlock()

	if cached != nil {
		if cached.etag != "" {
			req.Header.Set("If-None-Match", cached.etag)
		}
		if cached.lastModified != "" {
			req.Header.Set("If-Modified-Since", cached.lastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("fetching %s: %w", redactURL(src.URL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && cached != nil {
		appLog.Debug("ics fetch: not modified", "id", src.ID, "url", redactURL(src.URL))
		return cached.body, true, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("fetching %s: unexpected status %d", redactURL(src.URL), resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, false, fmt.Errorf("reading body: %w", err)
	}
	if len(body) == 0 {
		return nil, false, errors.New("empty ICS body")
	}

	f.mu.Lock()
	f.cache[src.URL] = &cacheEntry{
		etag:         resp.Header.Get("ETag"),
		lastModified: resp.Header.Get("Last-Modified"),
		body:         body,
		updatedAt:    time.Now(),
	}
	f.mu.Unlock()

	return body, false, nil
}

// redactURL strips query parameters, which often carry private tokens, from
// URLs before they hit the logs.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparsable url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
