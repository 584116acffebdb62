package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/axonhq/axon/internal/query"
)

var (
	queryLimit      int
	queryDomain     string
	queryCollection string
	queryGroup      bool
	queryFull       bool
	queryToday      bool
	queryDate       string
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Semantic search over embedded documents",
	Long: `Query embeds the search text and returns the best-matching documents,
deduplicated by canonical URL.

Examples:
  axon query "how do I authenticate?"
  axon query --domain docs.example.com --limit 10 "rate limits"
  axon query --today "deploy checklist"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "Maximum results (default from settings)")
	queryCmd.Flags().StringVar(&queryDomain, "domain", "", "Restrict to one domain")
	queryCmd.Flags().StringVar(&queryCollection, "collection", "", "Collection to search")
	queryCmd.Flags().BoolVar(&queryGroup, "group", false, "Show every matching chunk per document")
	queryCmd.Flags().BoolVar(&queryFull, "full", false, "Print full chunk text instead of snippets")
	queryCmd.Flags().BoolVar(&queryToday, "today", false, "Only results ingested or modified today (strict)")
	queryCmd.Flags().StringVar(&queryDate, "date", "", "Only results from a date (YYYY-MM-DD, falls back if empty)")
}

func runQuery(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	req := query.Request{
		Query:      strings.Join(args, " "),
		Limit:      queryLimit,
		Domain:     queryDomain,
		Collection: queryCollection,
		Group:      queryGroup,
		Full:       queryFull,
	}
	switch {
	case queryToday:
		req.Temporal = &query.TemporalScope{Date: time.Now().UTC(), Strict: true}
	case queryDate != "":
		date, err := time.Parse("2006-01-02", queryDate)
		if err != nil {
			return fmt.Errorf("invalid --date %q: expected YYYY-MM-DD", queryDate)
		}
		req.Temporal = &query.TemporalScope{Date: date}
	}

	resp, err := app.query.Query(cmd.Context(), req)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(resp)
	}

	if len(resp.Items) == 0 {
		fmt.Println("no results")
		return nil
	}
	if resp.ScopeFallback {
		fmt.Println("(no results in the requested time scope; showing unscoped results)")
	}
	for i, item := range resp.Items {
		fmt.Printf("%d. %s (%.3f)\n", i+1, item.URL, item.Score)
		if item.Title != "" {
			fmt.Printf("   %s\n", item.Title)
		}
		if queryFull {
			fmt.Printf("   %s\n", strings.ReplaceAll(item.ChunkText, "\n", "\n   "))
		} else if item.Snippet != "" {
			fmt.Printf("   %s\n", item.Snippet)
		}
	}
	return nil
}
