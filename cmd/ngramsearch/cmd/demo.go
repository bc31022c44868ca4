package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/corpus"
)

type demoOptions struct {
	limit  int
	format string
}

func newDemoCmd(global *globalOptions) *cobra.Command {
	opts := &demoOptions{}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Index the sample corpus and run the sample queries",
		Long: `Index the four-document sample corpus and run the five sample queries
against it, printing each query's ranked documents with their scores.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.Context(), cmd, global, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "maximum results per query (0 for all)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", formatText, "output format (text, json)")

	return cmd
}

func runDemo(ctx context.Context, cmd *cobra.Command, global *globalOptions, opts *demoOptions) error {
	cfg, err := loadConfig(cmd, global)
	if err != nil {
		return err
	}
	engine, exec := newLocalSearcher(cfg)
	if _, err := engine.BuildFrom(ctx, "sample", corpus.Sample()); err != nil {
		return fmt.Errorf("indexing sample corpus: %w", err)
	}
	results, err := exec.ExecuteBatch(ctx, corpus.SampleQueries(), opts.limit)
	if err != nil {
		return err
	}
	return writeResults(cmd.OutOrStdout(), opts.format, results)
}
