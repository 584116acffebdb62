package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/axonhq/axon/internal/queue"
	"github.com/axonhq/axon/internal/vectorstore"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show collection, queue, and recent job status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type collectionStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Points int    `json:"points"`
	Dim    int    `json:"dimension,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()
	ctx := cmd.Context()

	collections := collectStatus(ctx, app)

	jobs, err := app.queue.List("")
	if err != nil {
		return err
	}
	byStatus := map[queue.Status]int{}
	for _, job := range jobs {
		byStatus[job.Status]++
	}

	recent, err := app.history.Recent(5)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(map[string]any{
			"collections": collections,
			"queue":       byStatus,
			"recentJobs":  recent,
		})
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COLLECTION\tSTATUS\tPOINTS\tDIM")
	for _, c := range collections {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", c.Name, c.Status, c.Points, c.Dim)
	}
	w.Flush()

	fmt.Printf("\nqueue: %d pending, %d processing, %d completed, %d failed\n",
		byStatus[queue.StatusPending], byStatus[queue.StatusProcessing],
		byStatus[queue.StatusCompleted], byStatus[queue.StatusFailed])

	if len(recent) > 0 {
		fmt.Println("\nrecent jobs:")
		for _, job := range recent {
			fmt.Printf("  %s  %s  %s\n", job.CreatedAt.Format("2006-01-02 15:04"), job.Kind, job.URL)
		}
	}
	return nil
}

func collectStatus(ctx context.Context, app *app) []collectionStatus {
	names := []string{app.settings.Embedding.DefaultCollection, app.settings.Embedding.RepoCollection}
	var out []collectionStatus
	for _, name := range names {
		info, err := app.store.GetCollectionInfo(ctx, name)
		switch {
		case errors.Is(err, vectorstore.ErrCollectionNotFound):
			out = append(out, collectionStatus{Name: name, Status: "absent"})
		case err != nil:
			out = append(out, collectionStatus{Name: name, Status: "unreachable"})
		default:
			out = append(out, collectionStatus{
				Name:   name,
				Status: info.Status,
				Points: info.PointsCount,
				Dim:    info.Dimension,
			})
		}
	}
	return out
}
