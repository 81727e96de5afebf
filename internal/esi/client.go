// Package esi talks to the identity provider's public data API: cached
// GETs, character enrichment and server status.
package esi

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fineauth/fineauth/internal/util"
	"github.com/tidwall/gjson"
)

const (
	DefaultBaseURL    = "https://esi.evetech.net/latest"
	DefaultDatasource = "tranquility"
	DefaultCacheTTL   = 45 * time.Second

	maxBodySize = 4 << 20
)

// UpstreamError is a non-2xx answer from the data API.
type UpstreamError struct {
	URL        string
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *UpstreamError) Error() string {
	if msg := gjson.Get(e.Body, "error").String(); msg != "" {
		return fmt.Sprintf("ESI status error: %d: %s", e.Status, msg)
	}
	return fmt.Sprintf("ESI status error: %d", e.Status)
}

// Options configures a Client. Zero values use the defaults above.
type Options struct {
	BaseURL    string
	Datasource string
	UserAgent  string
	CacheTTL   time.Duration
	HTTPClient *http.Client
}

// Client performs GETs against the data API through a TTL cache.
type Client struct {
	httpClient *http.Client
	baseURL    string
	datasource string
	userAgent  string
	cacheTTL   time.Duration
	cache      *Cache
}

// NewClient creates a data API client with its own cache.
func NewClient(opts Options) *Client {
	c := &Client{
		httpClient: opts.HTTPClient,
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		datasource: opts.Datasource,
		userAgent:  opts.UserAgent,
		cacheTTL:   opts.CacheTTL,
		cache:      NewCache(),
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.datasource == "" {
		c.datasource = DefaultDatasource
	}
	if c.cacheTTL <= 0 {
		c.cacheTTL = DefaultCacheTTL
	}
	return c
}

// Cache exposes the response cache (sweeping, tests).
func (c *Client) Cache() *Cache {
	return c.cache
}

// FetchOptions controls caching for one call.
type FetchOptions struct {
	// NoCache bypasses the cache for both read and write.
	NoCache bool
	// TTL overrides the client default when positive.
	TTL time.Duration
}

// URL builds an absolute API URL with the datasource parameter.
func (c *Client) URL(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	query.Set("datasource", c.datasource)
	return c.baseURL + "/" + strings.TrimPrefix(path, "/") + "?" + query.Encode()
}

// GetJSON returns the raw JSON body for a GET, served from cache when live.
// A cached fetch is shared with concurrent callers of the same URL, so it
// ignores the cancellation of whichever caller started it.
func (c *Client) GetJSON(ctx context.Context, rawURL string, opts FetchOptions) ([]byte, error) {
	if opts.NoCache {
		return c.get(ctx, rawURL)
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.cacheTTL
	}
	shared := context.WithoutCancel(ctx)
	return c.cache.Fetch(rawURL, ttl, func() ([]byte, error) {
		return c.get(shared, rawURL)
	})
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ESI request %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read ESI response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		upstreamErr := &UpstreamError{
			URL:        rawURL,
			Status:     resp.StatusCode,
			Body:       string(body),
			RetryAfter: ParseRetryDelay(resp),
		}
		log.Printf("⚠️ [ESI] GET %s -> %d: %s", rawURL, resp.StatusCode, util.TruncateBytes(body))
		return nil, upstreamErr
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("ESI returned invalid JSON from %s: %s", rawURL, util.TruncateBytes(body))
	}
	return body, nil
}
