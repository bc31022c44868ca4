package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/store"
)

type indexOptions struct {
	dataDir string
	keep    int
}

func newIndexCmd(global *globalOptions) *cobra.Command {
	opts := &indexOptions{}

	cmd := &cobra.Command{
		Use:   "index <corpus-file>",
		Short: "Build an index from a corpus file and write a snapshot",
		Long: `Build an index from a corpus file through the configured storage backend
and write it to a snapshot in the data directory. The search service and the
query command load the newest snapshot.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd, global, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.dataDir, "data-dir", "", "snapshot directory (default from config)")
	cmd.Flags().IntVar(&opts.keep, "keep", -1, "snapshots to keep after writing (default from config)")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, global *globalOptions, opts *indexOptions, path string) error {
	cfg, err := loadConfig(cmd, global)
	if err != nil {
		return err
	}
	if opts.dataDir != "" {
		cfg.Indexer.DataDir = opts.dataDir
	}
	if opts.keep >= 0 {
		cfg.Indexer.KeepSnapshots = opts.keep
	}
	cfg.Indexer.SnapshotOnBuild = false

	docs, err := corpus.Load(path)
	if err != nil {
		return err
	}

	provider, err := store.NewProvider(ctx, cfg)
	if err != nil {
		return err
	}
	defer provider.Close()

	// A fixed id lets the next run reclaim this run's namespace.
	if cfg.Indexer.InstanceID == "" {
		cfg.Indexer.InstanceID = "cli"
	}
	engine := indexer.NewEngine(provider, cfg.Indexer)
	stats, err := engine.BuildFrom(ctx, path, docs)
	if err != nil {
		return err
	}
	snapshot, err := engine.SaveSnapshot(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Indexed %d documents from %s\n", stats.Documents, path)
	fmt.Fprintf(out, "  Terms:    %d\n", stats.Terms)
	fmt.Fprintf(out, "  Postings: %d\n", stats.Postings)
	fmt.Fprintf(out, "  Tokens:   %d\n", stats.Tokens)
	fmt.Fprintf(out, "  Backend:  %s\n", provider.Name())
	fmt.Fprintf(out, "  Snapshot: %s\n", snapshot)
	return nil
}
