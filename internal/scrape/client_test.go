package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axonhq/axon/internal/httpx"
)

func testClient(t *testing.T, baseURL string) *HTTPClient {
	t.Helper()
	c, err := NewHTTPClient(Config{BaseURL: baseURL, APIKey: "secret"}, httpx.New(httpx.Config{
		TimeoutPerAttempt: time.Second,
		MaxRetries:        1,
		BaseDelay:         time.Millisecond,
		MaxDelay:          time.Millisecond,
	}, nil), nil)
	require.NoError(t, err)
	return c
}

func TestStartCrawl(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/crawl", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://site.test", body["url"])
		assert.Equal(t, float64(50), body["limit"])
		fmt.Fprint(w, `{"id": "J1", "url": "https://site.test"}`)
	}))
	defer srv.Close()

	job, err := testClient(t, srv.URL).StartCrawl(context.Background(), "https://site.test", CrawlOptions{Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, "J1", job.ID)
	assert.Equal(t, "https://site.test", job.URL)
}

func TestGetCrawlStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/crawl/J1", r.URL.Path)
		fmt.Fprint(w, `{"status": "completed", "total": 1, "completed": 1, "data": [
			{"markdown": "A", "metadata": {"sourceURL": "https://site.test/a", "title": "A page"}}
		]}`)
	}))
	defer srv.Close()

	status, err := testClient(t, srv.URL).GetCrawlStatus(context.Background(), "J1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status.Status)
	require.Len(t, status.Data, 1)
	assert.Equal(t, "https://site.test/a", status.Data[0].Metadata.Source())
}

func TestGetCrawlStatusNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).GetCrawlStatus(context.Background(), "gone")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.True(t, IsJobNotFound(err))
}

func TestMap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/map", r.URL.Path)
		fmt.Fprint(w, `{"links": [{"url": "https://site.test/a"}, {"url": "https://site.test/b", "title": "B"}]}`)
	}))
	defer srv.Close()

	result, err := testClient(t, srv.URL).Map(context.Background(), "https://site.test", MapOptions{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, result.Links, 2)
}

func TestPageContent(t *testing.T) {
	md := Page{Markdown: "# A", HTML: "<h1>A</h1>"}
	text, contentType := md.Content()
	assert.Equal(t, "# A", text)
	assert.Equal(t, "markdown", contentType)

	htmlOnly := Page{HTML: "<h1>A</h1>"}
	text, contentType = htmlOnly.Content()
	assert.Equal(t, "<h1>A</h1>", text)
	assert.Equal(t, "html", contentType)

	empty := Page{}
	text, contentType = empty.Content()
	assert.Empty(t, text)
	assert.Empty(t, contentType)
}

func TestIsJobNotFoundClassification(t *testing.T) {
	assert.False(t, IsJobNotFound(nil))
	assert.False(t, IsJobNotFound(errors.New("connection refused")))
	assert.True(t, IsJobNotFound(errors.New("upstream said: Job not found")))
	assert.True(t, IsJobNotFound(fmt.Errorf("wrap: %w", ErrJobNotFound)))
}

func TestHistoryBounded(t *testing.T) {
	h := NewHistory(filepath.Join(t.TempDir(), "jobs.json"))

	for i := 0; i < MaxHistoryEntries+5; i++ {
		require.NoError(t, h.Record(HistoryEntry{
			ID:   fmt.Sprintf("J%d", i),
			URL:  "https://site.test",
			Kind: "crawl",
		}))
	}

	recent, err := h.Recent(0)
	require.NoError(t, err)
	assert.Len(t, recent, MaxHistoryEntries)
	assert.Equal(t, fmt.Sprintf("J%d", MaxHistoryEntries+4), recent[0].ID)

	top, err := h.Recent(3)
	require.NoError(t, err)
	assert.Len(t, top, 3)
}
