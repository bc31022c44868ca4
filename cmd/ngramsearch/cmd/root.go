// Package cmd provides the ngramsearch CLI commands.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/logger"
)

// globalOptions are shared by every subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
}

// NewRootCmd creates the root command for the ngramsearch CLI.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "ngramsearch",
		Short: "Term-frequency search over word n-grams",
		Long: `ngramsearch indexes a corpus of short documents by their word unigrams,
bigrams and trigrams and ranks documents against a query by n-gram overlap.

Run 'ngramsearch demo' to index the bundled sample corpus and run the
sample queries.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML or TOML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config file")

	cmd.AddCommand(newDemoCmd(opts))
	cmd.AddCommand(newQueryCmd(opts))
	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newSnapshotCmd(opts))

	return cmd
}

// ExecuteContext runs the root command with ctx.
func ExecuteContext(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// loadConfig reads the config and installs a logger writing to the
// command's stderr so results on stdout stay clean.
func loadConfig(cmd *cobra.Command, opts *globalOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	level := cfg.Logging.Level
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	logger.SetupWriter(cmd.ErrOrStderr(), level, "text")
	return cfg, nil
}

// newLocalSearcher returns an engine over in-memory stores and an executor
// bound to it. It never writes snapshots.
func newLocalSearcher(cfg *config.Config) (*indexer.Engine, *executor.Executor) {
	engine := indexer.NewEngine(store.NewMemoryProvider(), config.IndexerConfig{})
	return engine, executor.New(engine, cfg.Search, nil)
}
