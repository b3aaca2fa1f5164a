package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/italolelis/qget/internal/storage"
)

const selectColumns = `SELECT
	id, method, url, final_url, output_dir, output_file, status, http_status,
	redirects, bytes, error, started_at, finished_at, instance_id
FROM transfers`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (storage.TransferRecord, error) {
	var (
		rec                             storage.TransferRecord
		finalURL, outputDir, outputFile sql.NullString
		errMsg                          sql.NullString
		startedAt, finishedAt           sql.NullString
		instanceID                      sql.NullString
		httpStatus                      sql.NullInt64
	)

	err := row.Scan(&rec.ID, &rec.Method, &rec.URL, &finalURL, &outputDir, &outputFile, &rec.Status, &httpStatus,
		&rec.Redirects, &rec.Bytes, &errMsg, &startedAt, &finishedAt, &instanceID)
	if err != nil {
		return rec, err
	}

	rec.FinalURL = finalURL.String
	rec.OutputDir = outputDir.String
	rec.OutputFile = outputFile.String
	rec.Error = errMsg.String
	rec.InstanceID = instanceID.String
	rec.HTTPStatus = int(httpStatus.Int64)

	if rec.StartedAt, err = parseTime(startedAt); err != nil {
		return rec, fmt.Errorf("invalid started_at of %s: %w", rec.ID, err)
	}

	if rec.FinishedAt, err = parseTime(finishedAt); err != nil {
		return rec, fmt.Errorf("invalid finished_at of %s: %w", rec.ID, err)
	}

	return rec, nil
}

func (r *TransferRepository) query(ctx context.Context, query string, args ...any) ([]storage.TransferRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []storage.TransferRecord

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}

// GetTransfers returns the most recently finished transfers first. A limit of
// zero or less returns all of them.
func (r *TransferRepository) GetTransfers(ctx context.Context, limit int) ([]storage.TransferRecord, error) {
	if limit <= 0 {
		limit = -1
	}

	records, err := r.query(ctx, selectColumns+` ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}

	return records, nil
}

func (r *TransferRepository) GetTransfer(ctx context.Context, id string) (storage.TransferRecord, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return rec, storage.ErrNotFound
	}

	if err != nil {
		return rec, fmt.Errorf("failed to get transfer %s: %w", id, err)
	}

	return rec, nil
}

func (r *TransferRepository) GetPrunableTransfers(ctx context.Context, before time.Time) ([]storage.TransferRecord, error) {
	records, err := r.query(ctx, selectColumns+`
		WHERE status IN (?, ?)
		AND output_file IS NOT NULL AND output_file != ''
		AND finished_at != '' AND finished_at < ?
		ORDER BY finished_at`,
		storage.StatusFinished, storage.StatusFailed, formatTime(before))
	if err != nil {
		return nil, fmt.Errorf("failed to list prunable transfers: %w", err)
	}

	return records, nil
}
