package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sekha-ai/sekha/pkg/config"
	"github.com/sekha-ai/sekha/pkg/intelligence"
	"github.com/sekha-ai/sekha/pkg/repository"
	"github.com/sekha-ai/sekha/pkg/store"
	"github.com/sekha-ai/sekha/pkg/summarizer"
)

var (
	pruneThresholdDays int
	pruneMaxImportance int
	pruneExecute       bool
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "List (or, with --execute, delete) conversations past the retention threshold",
	RunE: func(cmd *cobra.Command, args []string) error {
		loader, err := config.Load()
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cfg := loader.Current()
		if !cfg.Features.PruningEnabled {
			return fmt.Errorf("prune: pruning_enabled is false in configuration")
		}

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
			return fmt.Errorf("prune: open store: %w", err)
		}
		defer st.Close()

		summ := summarizer.New(summarizer.Config{BaseURL: cfg.Summarizer.URL, Model: cfg.Summarizer.Model})
		intel := intelligence.New(intelligence.Config{Store: st, Summarizer: summ})

		candidates, err := intel.PruneDryRun(ctx, pruneThresholdDays, pruneMaxImportance)
		if err != nil {
			return fmt.Errorf("prune: dry run: %w", err)
		}
		if len(candidates) == 0 {
			fmt.Fprintln(os.Stdout, "sekha: no conversations match the prune threshold")
			return nil
		}

		for _, c := range candidates {
			fmt.Fprintf(os.Stdout, "%s\tlabel=%s\timportance=%d\tlast_updated=%s\n",
				c.ConversationID, c.Label, c.ImportanceScore, c.LastUpdated.Format("2006-01-02"))
		}

		if !pruneExecute {
			fmt.Fprintf(os.Stdout, "\n%d conversation(s) would be deleted. Re-run with --execute to delete them.\n", len(candidates))
			return nil
		}

		vecs, closeVecs, err := openVectorStore(ctx, cfg, st, nil)
		if err != nil {
			return fmt.Errorf("prune: open vector store: %w", err)
		}
		defer closeVecs()
		repo := repository.New(repository.Config{Store: st, Vectors: vecs})

		ids := make([]string, len(candidates))
		for i, c := range candidates {
			ids[i] = c.ConversationID
		}
		deleted, err := intel.PruneExecute(ctx, repo, ids)
		fmt.Fprintf(os.Stdout, "sekha: deleted %d/%d conversation(s)\n", deleted, len(ids))
		return err
	},
}

func init() {
	pruneCmd.Flags().IntVar(&pruneThresholdDays, "threshold-days", 0, "minimum days since the conversation was last updated (0 uses the default)")
	pruneCmd.Flags().IntVar(&pruneMaxImportance, "max-importance", 0, "maximum importance score to consider (0 uses the default)")
	pruneCmd.Flags().BoolVar(&pruneExecute, "execute", false, "actually delete the candidates instead of only listing them")
}
