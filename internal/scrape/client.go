// Package scrape is the adapter for the external scrape/crawl service. The
// core only needs crawl status polling, crawl kickoff, and site mapping for
// the preflight baseline.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/axonhq/axon/internal/httpx"
	"github.com/axonhq/axon/internal/logging"
)

// Crawl job states reported by the service.
const (
	StatusScraping  = "scraping"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrJobNotFound marks an upstream crawl job that no longer exists. Terminal:
// the queue entry is failed without retry.
var ErrJobNotFound = errors.New("scrape: crawl job not found")

// PageMetadata describes one crawled page. The service emits the source URL
// under either key depending on version.
type PageMetadata struct {
	SourceURL string `json:"sourceURL"`
	URL       string `json:"url"`
	Title     string `json:"title"`
}

// Source returns the page URL, preferring sourceURL.
func (m PageMetadata) Source() string {
	if m.SourceURL != "" {
		return m.SourceURL
	}
	return m.URL
}

// Page is one crawled document.
type Page struct {
	Markdown string       `json:"markdown"`
	HTML     string       `json:"html"`
	Metadata PageMetadata `json:"metadata"`
}

// Content returns the best available body and its content type. Markdown is
// preferred over raw HTML.
func (p Page) Content() (string, string) {
	if strings.TrimSpace(p.Markdown) != "" {
		return p.Markdown, "markdown"
	}
	if strings.TrimSpace(p.HTML) != "" {
		return p.HTML, "html"
	}
	return "", ""
}

// CrawlStatus is a crawl job status snapshot.
type CrawlStatus struct {
	Status    string `json:"status"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Data      []Page `json:"data"`
}

// CrawlJob identifies a started crawl.
type CrawlJob struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CrawlOptions bounds a crawl.
type CrawlOptions struct {
	Limit    int `json:"limit,omitempty"`
	MaxDepth int `json:"maxDepth,omitempty"`
}

// Link is one discovered URL from a site map.
type Link struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// MapResult is the preflight site map.
type MapResult struct {
	Links []Link `json:"links"`
}

// MapOptions bounds a site map request.
type MapOptions struct {
	Limit int `json:"limit,omitempty"`
}

// Client is the scrape-service surface consumed by the worker and CLI.
type Client interface {
	StartCrawl(ctx context.Context, url string, opts CrawlOptions) (CrawlJob, error)
	GetCrawlStatus(ctx context.Context, jobID string) (CrawlStatus, error)
	Map(ctx context.Context, url string, opts MapOptions) (MapResult, error)
}

// Config locates the service.
type Config struct {
	BaseURL string
	APIKey  string
}

// HTTPClient talks to the service over its REST API.
type HTTPClient struct {
	config Config
	http   *httpx.Client
	logger *logging.Logger
}

// NewHTTPClient returns a client for the service at cfg.BaseURL.
func NewHTTPClient(config Config, httpClient *httpx.Client, logger *logging.Logger) (*HTTPClient, error) {
	if config.BaseURL == "" {
		return nil, errors.New("scrape: base url is required")
	}
	if httpClient == nil {
		return nil, errors.New("scrape: http client is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &HTTPClient{
		config: Config{BaseURL: strings.TrimRight(config.BaseURL, "/"), APIKey: config.APIKey},
		http:   httpClient,
		logger: logger.Named("scrape"),
	}, nil
}

var _ Client = (*HTTPClient)(nil)

// StartCrawl kicks off an asynchronous crawl.
func (c *HTTPClient) StartCrawl(ctx context.Context, url string, opts CrawlOptions) (CrawlJob, error) {
	body := struct {
		URL string `json:"url"`
		CrawlOptions
	}{URL: url, CrawlOptions: opts}

	var job CrawlJob
	if err := c.http.DoJSON(ctx, http.MethodPost, c.config.BaseURL+"/v1/crawl", c.header(), body, &job); err != nil {
		return CrawlJob{}, fmt.Errorf("start crawl %s: %w", url, err)
	}
	if job.URL == "" {
		job.URL = url
	}
	return job, nil
}

// GetCrawlStatus fetches the current snapshot of a crawl job. A 404 or an
// invalid-id rejection maps to ErrJobNotFound.
func (c *HTTPClient) GetCrawlStatus(ctx context.Context, jobID string) (CrawlStatus, error) {
	var status CrawlStatus
	err := c.http.DoJSON(ctx, http.MethodGet, c.config.BaseURL+"/v1/crawl/"+jobID, c.header(), nil, &status)
	if err != nil {
		if isNotFoundResponse(err) {
			return CrawlStatus{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return CrawlStatus{}, fmt.Errorf("crawl status %s: %w", jobID, err)
	}
	return status, nil
}

// Map requests the site map used for the preflight baseline.
func (c *HTTPClient) Map(ctx context.Context, url string, opts MapOptions) (MapResult, error) {
	body := struct {
		URL string `json:"url"`
		MapOptions
	}{URL: url, MapOptions: opts}

	var result MapResult
	if err := c.http.DoJSON(ctx, http.MethodPost, c.config.BaseURL+"/v1/map", c.header(), body, &result); err != nil {
		return MapResult{}, fmt.Errorf("map %s: %w", url, err)
	}
	return result, nil
}

func (c *HTTPClient) header() http.Header {
	h := http.Header{}
	if c.config.APIKey != "" {
		h.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	return h
}

func isNotFoundResponse(err error) bool {
	var statusErr *httpx.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusNotFound || statusErr.Code == http.StatusGone
	}
	return false
}

// IsJobNotFound reports whether err means the upstream job is gone or the id
// was never valid. Shared by the worker and the CLI so both classify failures
// identically.
func IsJobNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrJobNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "job not found") || strings.Contains(msg, "invalid job id")
}
