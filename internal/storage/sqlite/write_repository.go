package sqlite

import (
	"context"
	"fmt"

	"github.com/italolelis/qget/internal/storage"
)

// RecordTransfer stores a finished transfer, replacing a previous record with the same id.
func (r *TransferRepository) RecordTransfer(ctx context.Context, rec storage.TransferRecord) error {
	if rec.InstanceID == "" {
		rec.InstanceID = storage.InstanceID()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transfers (
			id, method, url, final_url, output_dir, output_file, status, http_status,
			redirects, bytes, error, started_at, finished_at, instance_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			final_url = excluded.final_url,
			output_dir = excluded.output_dir,
			output_file = excluded.output_file,
			status = excluded.status,
			http_status = excluded.http_status,
			redirects = excluded.redirects,
			bytes = excluded.bytes,
			error = excluded.error,
			finished_at = excluded.finished_at`,
		rec.ID, rec.Method, rec.URL, rec.FinalURL, rec.OutputDir, rec.OutputFile, rec.Status, rec.HTTPStatus,
		rec.Redirects, rec.Bytes, rec.Error, formatTime(rec.StartedAt), formatTime(rec.FinishedAt), rec.InstanceID,
	)
	if err != nil {
		return fmt.Errorf("failed to record transfer %s: %w", rec.ID, err)
	}

	return nil
}

// MarkPruned flags the output file of a transfer as deleted.
func (r *TransferRepository) MarkPruned(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE transfers SET status = ? WHERE id = ?`, storage.StatusPruned, id)
	if err != nil {
		return fmt.Errorf("failed to mark transfer %s pruned: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}
