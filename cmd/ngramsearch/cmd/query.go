package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/output"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/searcher/executor"
)

const (
	formatText = "text"
	formatJSON = "json"
)

type queryOptions struct {
	corpusPath   string
	snapshotPath string
	dataDir      string
	limit        int
	format       string
}

func newQueryCmd(global *globalOptions) *cobra.Command {
	opts := &queryOptions{}

	cmd := &cobra.Command{
		Use:   "query <query>...",
		Short: "Run queries against a corpus or snapshot",
		Long: `Run one or more queries and print the ranked documents. Each argument
is a separate query; quote multi-word queries.

The index comes from --corpus when given, otherwise from --snapshot, otherwise
from the newest snapshot in the data directory.`,
		Example: `  ngramsearch query --corpus docs.txt "nausea and dizziness" effects
  ngramsearch query -n 3 -f json "the medication"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), cmd, global, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.corpusPath, "corpus", "", "corpus file to index (.json, .yaml or one document per line)")
	cmd.Flags().StringVar(&opts.snapshotPath, "snapshot", "", "snapshot file to load")
	cmd.Flags().StringVar(&opts.dataDir, "data-dir", "", "directory searched for the newest snapshot (default from config)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "maximum results per query (0 for the configured default)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", formatText, "output format (text, json)")

	return cmd
}

func runQuery(ctx context.Context, cmd *cobra.Command, global *globalOptions, opts *queryOptions, queries []string) error {
	if opts.format != formatText && opts.format != formatJSON {
		return fmt.Errorf("unknown format %q (want %s or %s)", opts.format, formatText, formatJSON)
	}
	cfg, err := loadConfig(cmd, global)
	if err != nil {
		return err
	}
	if opts.dataDir != "" {
		cfg.Indexer.DataDir = opts.dataDir
	}

	engine, exec := newLocalSearcher(cfg)
	if err := loadIndex(ctx, engine, opts.corpusPath, opts.snapshotPath, cfg.Indexer.DataDir); err != nil {
		return err
	}
	results, err := exec.ExecuteBatch(ctx, queries, opts.limit)
	if err != nil {
		return err
	}
	return writeResults(cmd.OutOrStdout(), opts.format, results)
}

// loadIndex publishes the first available source: a corpus file, an explicit
// snapshot, or the newest snapshot in dataDir.
func loadIndex(ctx context.Context, engine *indexer.Engine, corpusPath, snapshotPath, dataDir string) error {
	switch {
	case corpusPath != "":
		docs, err := corpus.Load(corpusPath)
		if err != nil {
			return err
		}
		_, err = engine.BuildFrom(ctx, corpusPath, docs)
		return err
	case snapshotPath != "":
		_, err := engine.LoadSnapshotFile(ctx, snapshotPath)
		return err
	}

	path, err := segment.Latest(dataDir)
	if err != nil {
		return fmt.Errorf("finding snapshot in %s: %w", dataDir, err)
	}
	if path == "" {
		return fmt.Errorf("no index source: pass --corpus or --snapshot, or run 'ngramsearch index' first")
	}
	slog.Debug("using newest snapshot", "path", path)
	_, err = engine.LoadSnapshotFile(ctx, path)
	return err
}

func writeResults(w io.Writer, format string, results []*executor.SearchResult) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	case formatText:
		return output.WriteAll(w, results)
	default:
		return fmt.Errorf("unknown format %q (want %s or %s)", format, formatText, formatJSON)
	}
}
