package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/qget/internal/config"
	"github.com/italolelis/qget/internal/storage"
	"github.com/italolelis/qget/internal/storage/sqlite"
	"github.com/spf13/cobra"
)

func newHistoryCmd(cfg *config.Config) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List journaled transfers, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			database, err := sqlite.InitDB(journalPath(cfg))
			if err != nil {
				return fmt.Errorf("failed to open journal: %w", err)
			}
			defer database.Close()

			repo := sqlite.NewTransferRepository(database)

			records, err := repo.GetTransfers(cmd.Context(), limit)
			if err != nil {
				return err
			}

			return printHistory(cmd.OutOrStdout(), records)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of transfers listed, 0 lists all")

	return cmd
}

func printHistory(w io.Writer, records []storage.TransferRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "no transfers journaled")

		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tSTATUS\tMETHOD\tHTTP\tSIZE\tFILE\tURL")

	for _, rec := range records {
		file := rec.OutputFile
		if file == "" {
			file = "-"
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			humanize.Time(rec.FinishedAt),
			rec.Status,
			rec.Method,
			rec.HTTPStatus,
			humanize.Bytes(uint64(rec.Bytes)),
			file,
			rec.URL,
		)
	}

	return tw.Flush()
}

// journalPath is the configured journal or the default one.
func journalPath(cfg *config.Config) string {
	if cfg.JournalPath != "" {
		return cfg.JournalPath
	}

	return sqlite.DefaultPath
}
