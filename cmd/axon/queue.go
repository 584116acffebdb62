package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/axonhq/axon/internal/queue"
)

var queueStatusFilter string

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and maintain the embed queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued embed jobs",
	RunE:  runQueueList,
}

var queueCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove old completed and failed jobs",
	RunE:  runQueueClean,
}

var queueRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove one job regardless of state",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueRemove,
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueCleanCmd)
	queueCmd.AddCommand(queueRemoveCmd)
	queueListCmd.Flags().StringVar(&queueStatusFilter, "status", "", "Filter by status (pending|processing|completed|failed)")
}

func runQueueList(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	jobs, err := app.queue.List(queue.Status(queueStatusFilter))
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(jobs)
	}
	if len(jobs) == 0 {
		fmt.Println("queue is empty")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tRETRIES\tURL\tLAST ERROR")
	for _, job := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\n",
			job.ID, job.Status, job.Retries, job.MaxRetries, job.URL, job.LastError)
	}
	return w.Flush()
}

func runQueueClean(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	removed, err := app.queue.Cleanup(
		time.Duration(app.settings.Polling.RetentionMs)*time.Millisecond,
		time.Duration(app.settings.Polling.FailedRetentionMs)*time.Millisecond,
	)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d jobs\n", removed)
	return nil
}

func runQueueRemove(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	if err := app.queue.Remove(args[0]); err != nil {
		return err
	}
	fmt.Printf("removed %s\n", args[0])
	return nil
}
