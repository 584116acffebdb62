package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/axonhq/axon/internal/worker"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background embedder that drains the embed queue",
	Long: `Daemon polls the embed queue, embeds the pages of completed crawls, and
reconciles vanished URLs. One instance per queue directory; SIGINT or SIGTERM
stops it cleanly, requeueing any in-flight job.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	scraper, err := app.requireScraper()
	if err != nil {
		return err
	}

	w, err := worker.New(worker.Config{
		Queue:      app.queue,
		Scraper:    scraper,
		Embedder:   app.pipeline,
		Reconciler: app.recon,
		Store:      app.store,
		Settings:   app.settings,
		Logger:     app.logger,
		Baselines:  app.baseline,
		LockPath:   filepath.Join(app.root, "daemon.lock"),
	})
	if err != nil {
		return err
	}

	err = w.Run(cmd.Context())
	if errors.Is(err, worker.ErrAlreadyRunning) {
		fmt.Println("another daemon is already running for this queue")
		return nil
	}
	return err
}
