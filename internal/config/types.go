// Package config provides the typed effective-settings substrate: built-in
// defaults deep-merged with the on-disk settings.json, with atomic writes and
// corruption recovery.
package config

// CurrentSettingsVersion is written to new settings files.
const CurrentSettingsVersion = 1

// Settings is the fully populated effective settings record. Every nested
// section has a total default, so callers can rely on values being present.
type Settings struct {
	SettingsVersion          int      `json:"settingsVersion" koanf:"settingsVersion"`
	DefaultExcludePaths      []string `json:"defaultExcludePaths" koanf:"defaultExcludePaths"`
	DefaultExcludeExtensions []string `json:"defaultExcludeExtensions" koanf:"defaultExcludeExtensions"`

	Crawl     CrawlSettings     `json:"crawl" koanf:"crawl"`
	Scrape    ScrapeSettings    `json:"scrape" koanf:"scrape"`
	Map       MapSettings       `json:"map" koanf:"map"`
	Search    SearchSettings    `json:"search" koanf:"search"`
	Extract   ExtractSettings   `json:"extract" koanf:"extract"`
	Batch     BatchSettings     `json:"batch" koanf:"batch"`
	Ask       AskSettings       `json:"ask" koanf:"ask"`
	HTTP      HTTPSettings      `json:"http" koanf:"http"`
	Chunking  ChunkingSettings  `json:"chunking" koanf:"chunking"`
	Embedding EmbeddingSettings `json:"embedding" koanf:"embedding"`
	Polling   PollingSettings   `json:"polling" koanf:"polling"`
}

// CrawlSettings controls crawl ingestion and reconciliation policy.
type CrawlSettings struct {
	Limit            int   `json:"limit" koanf:"limit"`
	MaxDepth         int   `json:"maxDepth" koanf:"maxDepth"`
	MissingThreshold int   `json:"missingThreshold" koanf:"missingThreshold"`
	GracePeriodMs    int64 `json:"gracePeriodMs" koanf:"gracePeriodMs"`
}

// ScrapeSettings controls single-page scraping.
type ScrapeSettings struct {
	Formats         []string `json:"formats" koanf:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent" koanf:"onlyMainContent"`
}

// MapSettings controls site-map preflight calls.
type MapSettings struct {
	Limit int `json:"limit" koanf:"limit"`
}

// SearchSettings controls semantic query behavior.
type SearchSettings struct {
	Limit           int `json:"limit" koanf:"limit"`
	OverfetchFactor int `json:"overfetchFactor" koanf:"overfetchFactor"`
	OverfetchFloor  int `json:"overfetchFloor" koanf:"overfetchFloor"`
}

// ExtractSettings controls structured extraction requests.
type ExtractSettings struct {
	Timeout int `json:"timeoutMs" koanf:"timeoutMs"`
}

// BatchSettings controls batched embed runs.
type BatchSettings struct {
	Concurrency int `json:"concurrency" koanf:"concurrency"`
}

// AskSettings names the external LLM collaborator. The ask orchestrator
// itself lives outside this core.
type AskSettings struct {
	Provider string `json:"provider" koanf:"provider"`
	Model    string `json:"model" koanf:"model"`
	BaseURL  string `json:"baseUrl" koanf:"baseUrl"`
}

// HTTPSettings is the shared retry discipline for backend HTTP calls.
type HTTPSettings struct {
	TimeoutMs   int   `json:"timeoutMs" koanf:"timeoutMs"`
	MaxRetries  int   `json:"maxRetries" koanf:"maxRetries"`
	BaseDelayMs int64 `json:"baseDelayMs" koanf:"baseDelayMs"`
	MaxDelayMs  int64 `json:"maxDelayMs" koanf:"maxDelayMs"`
}

// ChunkingSettings bounds chunk sizes.
type ChunkingSettings struct {
	MaxChunkSize    int `json:"maxChunkSize" koanf:"maxChunkSize"`
	TargetChunkSize int `json:"targetChunkSize" koanf:"targetChunkSize"`
	Overlap         int `json:"overlap" koanf:"overlap"`
	MinChunkSize    int `json:"minChunkSize" koanf:"minChunkSize"`
}

// EmbeddingSettings controls the embedding fanout and collection routing.
type EmbeddingSettings struct {
	BatchSize            int    `json:"batchSize" koanf:"batchSize"`
	MaxConcurrentBatches int    `json:"maxConcurrentBatches" koanf:"maxConcurrentBatches"`
	MaxConcurrent        int    `json:"maxConcurrent" koanf:"maxConcurrent"`
	DefaultCollection    string `json:"defaultCollection" koanf:"defaultCollection"`
	RepoCollection       string `json:"repoCollection" koanf:"repoCollection"`
}

// PollingSettings controls the background embedder loop and queue retention.
type PollingSettings struct {
	IntervalMs        int64 `json:"intervalMs" koanf:"intervalMs"`
	MaxRetries        int   `json:"maxRetries" koanf:"maxRetries"`
	RetentionMs       int64 `json:"retentionMs" koanf:"retentionMs"`
	FailedRetentionMs int64 `json:"failedRetentionMs" koanf:"failedRetentionMs"`
}

// Defaults returns the built-in settings. Every field is populated.
func Defaults() Settings {
	return Settings{
		SettingsVersion:          CurrentSettingsVersion,
		DefaultExcludePaths:      []string{"node_modules", ".git", "dist", "build", "vendor"},
		DefaultExcludeExtensions: []string{".png", ".jpg", ".jpeg", ".gif", ".pdf", ".zip", ".exe", ".bin"},
		Crawl: CrawlSettings{
			Limit:            100,
			MaxDepth:         3,
			MissingThreshold: 2,
			GracePeriodMs:    7 * 24 * 60 * 60 * 1000,
		},
		Scrape: ScrapeSettings{
			Formats:         []string{"markdown"},
			OnlyMainContent: true,
		},
		Map:    MapSettings{Limit: 5000},
		Search: SearchSettings{Limit: 5, OverfetchFactor: 10, OverfetchFloor: 50},
		Extract: ExtractSettings{
			Timeout: 60000,
		},
		Batch: BatchSettings{Concurrency: 4},
		Ask: AskSettings{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		HTTP: HTTPSettings{
			TimeoutMs:   30000,
			MaxRetries:  3,
			BaseDelayMs: 5000,
			MaxDelayMs:  60000,
		},
		Chunking: ChunkingSettings{
			MaxChunkSize:    1500,
			TargetChunkSize: 1000,
			Overlap:         100,
			MinChunkSize:    50,
		},
		Embedding: EmbeddingSettings{
			BatchSize:            24,
			MaxConcurrentBatches: 4,
			MaxConcurrent:        10,
			DefaultCollection:    "axon",
			RepoCollection:       "axon_repo",
		},
		Polling: PollingSettings{
			IntervalMs:        10000,
			MaxRetries:        3,
			RetentionMs:       24 * 60 * 60 * 1000,
			FailedRetentionMs: 7 * 24 * 60 * 60 * 1000,
		},
	}
}
