package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-git/go-billy/v5"
	"github.com/italolelis/qget/internal/logctx"
	"github.com/italolelis/qget/internal/storage"
)

// Journal is the part of the transfer journal cleanup needs.
type Journal interface {
	GetPrunableTransfers(ctx context.Context, before time.Time) ([]storage.TransferRecord, error)
	MarkPruned(ctx context.Context, id string) error
}

// OpenDir returns the filesystem rooted at an output directory.
type OpenDir func(dir string) billy.Filesystem

// DeleteExpiredFiles deletes output files of transfers that finished more than
// keepDuration ago and marks them pruned in the journal. Each file is removed
// from the directory it was journaled with. Files already gone are only
// marked; records without a directory are skipped. It returns the number of
// transfers pruned.
func DeleteExpiredFiles(ctx context.Context, journal Journal, open OpenDir, keepDuration time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	cutoff := time.Now().Add(-keepDuration)

	records, err := journal.GetPrunableTransfers(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to get prunable transfers: %w", err)
	}

	pruned := 0

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return pruned, err
		}

		if !filepath.IsAbs(rec.OutputDir) {
			logger.WarnContext(ctx, "skipping transfer without output directory",
				"transfer_id", rec.ID, "file", rec.OutputFile)

			continue
		}

		fs := open(rec.OutputDir)

		var size int64

		info, err := fs.Stat(rec.OutputFile)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.DebugContext(ctx, "output file already deleted", "dir", rec.OutputDir, "file", rec.OutputFile)
		case err != nil:
			logger.ErrorContext(ctx, "failed to stat file", "file", rec.OutputFile, "err", err)

			return pruned, err
		default:
			size = info.Size()

			if err := fs.Remove(rec.OutputFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				logger.ErrorContext(ctx, "failed to delete expired file", "file", rec.OutputFile, "err", err)

				return pruned, err
			}
		}

		if err := journal.MarkPruned(ctx, rec.ID); err != nil {
			return pruned, fmt.Errorf("failed to mark %s pruned: %w", rec.ID, err)
		}

		pruned++

		logger.InfoContext(ctx, "deleted expired file",
			"dir", rec.OutputDir,
			"file", rec.OutputFile,
			"size", humanize.Bytes(uint64(size)),
			"finished", humanize.Time(rec.FinishedAt))
	}

	return pruned, nil
}
