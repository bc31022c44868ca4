package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer/segment"
)

func newSnapshotCmd(global *globalOptions) *cobra.Command {
	var dataDir string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect and prune index snapshots",
	}
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "snapshot directory (default from config)")

	resolveDir := func(cmd *cobra.Command) (string, error) {
		if dataDir != "" {
			return dataDir, nil
		}
		cfg, err := loadConfig(cmd, global)
		if err != nil {
			return "", err
		}
		return cfg.Indexer.DataDir, nil
	}

	info := &cobra.Command{
		Use:   "info [path]",
		Short: "Show the header of a snapshot (default: the newest)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				dir, err := resolveDir(cmd)
				if err != nil {
					return err
				}
				if path, err = segment.Latest(dir); err != nil {
					return err
				}
				if path == "" {
					return fmt.Errorf("no snapshots in %s", dir)
				}
			}
			r, err := segment.OpenReader(path)
			if err != nil {
				return err
			}
			defer r.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Snapshot:  %s\n", r.Path())
			fmt.Fprintf(out, "Created:   %s\n", time.Unix(r.CreatedAt(), 0).UTC().Format(time.RFC3339))
			fmt.Fprintf(out, "Documents: %d\n", r.DocCount())
			fmt.Fprintf(out, "Terms:     %d\n", r.Terms())
			return nil
		},
	}

	var keep int
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Remove all but the newest snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if keep < 1 {
				return fmt.Errorf("--keep must be at least 1")
			}
			dir, err := resolveDir(cmd)
			if err != nil {
				return err
			}
			removed, err := segment.Prune(dir, keep)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d snapshot(s) from %s\n", removed, dir)
			return nil
		},
	}
	prune.Flags().IntVar(&keep, "keep", 1, "snapshots to keep")

	cmd.AddCommand(info, prune)
	return cmd
}
