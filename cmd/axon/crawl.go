package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/axonhq/axon/internal/pipeline"
	"github.com/axonhq/axon/internal/queue"
	"github.com/axonhq/axon/internal/reconcile"
	"github.com/axonhq/axon/internal/scrape"
)

var (
	crawlLimit      int
	crawlMaxDepth   int
	crawlCollection string
	crawlHardSync   bool
)

var crawlCmd = &cobra.Command{
	Use:   "crawl <url>",
	Short: "Start an asynchronous crawl and queue its pages for embedding",
	Long: `Crawl starts a crawl job at the scrape service, records a preflight
baseline of expected URLs, and enqueues an embed job. 'axon daemon' drains the
queue as the crawl completes.

Examples:
  axon crawl https://docs.example.com
  axon crawl --limit 50 --hard-sync https://docs.example.com`,
	Args: cobra.ExactArgs(1),
	RunE: runCrawl,
}

var crawlStatusCmd = &cobra.Command{
	Use:   "status <jobId>",
	Short: "Show the upstream status of a crawl job",
	Args:  cobra.ExactArgs(1),
	RunE:  runCrawlStatus,
}

func init() {
	rootCmd.AddCommand(crawlCmd)
	crawlCmd.AddCommand(crawlStatusCmd)
	crawlCmd.Flags().IntVar(&crawlLimit, "limit", 0, "Maximum pages to crawl (default from settings)")
	crawlCmd.Flags().IntVar(&crawlMaxDepth, "max-depth", 0, "Maximum crawl depth (default from settings)")
	crawlCmd.Flags().StringVar(&crawlCollection, "collection", "", "Target collection (default from settings)")
	crawlCmd.Flags().BoolVar(&crawlHardSync, "hard-sync", false, "Delete vanished pages immediately on reconciliation")
}

func runCrawl(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()
	ctx := cmd.Context()

	scraper, err := app.requireScraper()
	if err != nil {
		return err
	}

	target := args[0]
	src, err := pipeline.SourceFromURL(target)
	if err != nil {
		return err
	}

	limit := crawlLimit
	if limit <= 0 {
		limit = app.settings.Crawl.Limit
	}
	maxDepth := crawlMaxDepth
	if maxDepth <= 0 {
		maxDepth = app.settings.Crawl.MaxDepth
	}
	collection := crawlCollection
	if collection == "" {
		collection = app.settings.Embedding.DefaultCollection
	}

	job, err := scraper.StartCrawl(ctx, target, scrape.CrawlOptions{Limit: limit, MaxDepth: maxDepth})
	if err != nil {
		return err
	}

	// Preflight baseline: how many URLs the site map says exist. Best effort;
	// a failed map never blocks the crawl.
	if siteMap, err := scraper.Map(ctx, target, scrape.MapOptions{Limit: app.settings.Map.Limit}); err == nil {
		if err := app.baseline.Record(reconcile.BaselineEntry{
			JobID:         job.ID,
			Domain:        src.Domain,
			ExpectedCount: len(siteMap.Links),
		}); err != nil {
			app.logger.Warn("baseline record failed")
		}
	}

	if err := app.history.Record(scrape.HistoryEntry{ID: job.ID, URL: target, Kind: "crawl"}); err != nil {
		app.logger.Warn("history record failed")
	}

	queueID, err := app.queue.Enqueue(queue.Job{
		JobID:         job.ID,
		URL:           target,
		Collection:    collection,
		SourceCommand: "crawl",
		HardSync:      crawlHardSync,
	})
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(map[string]string{"jobId": job.ID, "queueId": queueID})
	}
	fmt.Printf("crawl started: job %s (queued as %s)\n", job.ID, queueID)
	fmt.Println("run 'axon daemon' to drain the queue")
	return nil
}

func runCrawlStatus(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	scraper, err := app.requireScraper()
	if err != nil {
		return err
	}

	status, err := scraper.GetCrawlStatus(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(status)
	}
	fmt.Printf("status: %s (%d/%d pages)\n", status.Status, status.Completed, status.Total)
	return nil
}
