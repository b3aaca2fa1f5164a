package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/italolelis/qget/internal/cleanup"
	"github.com/italolelis/qget/internal/config"
	"github.com/italolelis/qget/internal/logctx"
	"github.com/italolelis/qget/internal/storage/sqlite"
	"github.com/spf13/cobra"
)

const defaultRetention = 7 * 24 * time.Hour

func newPruneCmd(cfg *config.Config) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete downloaded files of journaled transfers older than a duration",
		Long: `Delete the files of journaled transfers that finished longer ago than
--older-than. Each file is removed from the directory it was downloaded to;
--output-dir is not consulted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := logctx.LoggerFromContext(ctx)

			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive, got %s", olderThan)
			}

			database, err := sqlite.InitDB(journalPath(cfg))
			if err != nil {
				return fmt.Errorf("failed to open journal: %w", err)
			}
			defer database.Close()

			repo := sqlite.NewTransferRepository(database)

			logger.Debug("pruning transfers", "cutoff", humanize.Time(time.Now().Add(-olderThan)))

			pruned, err := cleanup.DeleteExpiredFiles(ctx, repo, openDir, olderThan)
			if err != nil {
				return fmt.Errorf("failed to delete expired files: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d %s\n", pruned, plural(pruned, "transfer", "transfers"))

			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", defaultRetention, "Prune transfers that finished longer ago than this")

	return cmd
}

func openDir(dir string) billy.Filesystem {
	return osfs.New(dir)
}
