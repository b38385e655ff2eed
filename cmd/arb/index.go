package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/arborist-dev/arborist/internal/config"
	"github.com/arborist-dev/arborist/internal/db"
	"github.com/arborist-dev/arborist/internal/indexer"
	"github.com/arborist-dev/arborist/internal/projects"
)

var indexWatch bool

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index a project source via the manifest-driven sync pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		pool, err := db.NewPool(context.Background(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		ctx := context.Background()

		project, source, err := projects.DetectProjectByPath(ctx, pool, path)
		if err != nil {
			return fmt.Errorf("detecting project: %w", err)
		}
		if project == nil || source == nil {
			return fmt.Errorf("%s is not registered as a project source yet; add it first (colonies/project API)", path)
		}

		var oaiClient *openai.Client
		if cfg.OpenAIAPIKey != "" {
			oaiClient = openai.NewClient(cfg.OpenAIAPIKey)
		}

		result, err := indexer.SyncSource(ctx, pool, cfg, oaiClient, project.ID, source)
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}

		fmt.Printf("indexed %s: +%d added, %d stale, %d unchanged, %d deleted, %d nodes, %d edges, %d embedded (%s)\n",
			source.Alias, result.Added, result.Stale, result.Unchanged, result.Deleted,
			result.NodesUpserted, result.EdgesUpserted, result.NodesEmbedded, result.Duration)

		if !indexWatch {
			return nil
		}

		watcher, err := indexer.NewWatcher(pool, cfg, oaiClient, project.ID, source)
		if err != nil {
			return fmt.Errorf("starting watcher: %w", err)
		}
		defer watcher.Close()

		watchCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		slog.Info("watching for changes", "source", source.Alias, "path", source.Path)
		if err := watcher.Run(watchCtx); err != nil && watchCtx.Err() == nil {
			return fmt.Errorf("watcher: %w", err)
		}
		return nil
	},
}

func init() {
	indexCmd.Flags().BoolVar(&indexWatch, "watch", false, "keep watching the source for changes after the initial sync")
	rootCmd.AddCommand(indexCmd)
}
