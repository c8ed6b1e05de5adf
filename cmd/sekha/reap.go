package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sekha-ai/sekha/pkg/config"
	"github.com/sekha-ai/sekha/pkg/embedder"
	"github.com/sekha-ai/sekha/pkg/queue"
	"github.com/sekha-ai/sekha/pkg/scheduler"
	"github.com/sekha-ai/sekha/pkg/store"
	"github.com/sekha-ai/sekha/pkg/vectorstore"
)

// reapCmd runs the same reapers the background scheduler runs on a ticker,
// once, for operators who drive reconciliation from an external cron
// instead of the long-running `serve` process (spec.md §9's reapers).
var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Run the failed-embedding and pending-vector-delete reapers once",
	RunE: func(cmd *cobra.Command, args []string) error {
		loader, err := config.Load()
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cfg := loader.Current()

		dbPath := cfg.Database.URL
		if dbPath == "" {
			dataDir, err := config.DataDir()
			if err != nil {
				return err
			}
			dbPath = filepath.Join(dataDir, "sekha.db")
		}

		ctx := context.Background()
		st, err := store.Open(ctx, store.Config{Path: dbPath, MaxConnections: cfg.Database.MaxConnections})
		if err != nil {
			return fmt.Errorf("reap: open store: %w", err)
		}
		defer st.Close()

		vecs, closeVecs, err := openVectorStore(ctx, cfg, st, nil)
		if err != nil {
			return fmt.Errorf("reap: open vector store: %w", err)
		}
		defer closeVecs()

		embed := embedder.New(embedder.Config{BaseURL: cfg.Embedder.URL, Model: cfg.Embedder.Model})
		q := queue.New(queue.Config{Workers: 4}, embedHandler(embed, vecs, st), st)
		q.Start(ctx)
		defer q.Stop(ctx)

		sched := scheduler.New(scheduler.Config{Store: st, Queue: q, Vectors: vecs})
		sched.ReapPendingVectorDeletesNow(ctx)
		sched.ReapFailedEmbeddingsNow(ctx)

		fmt.Println("sekha: reap complete")
		return nil
	},
}
